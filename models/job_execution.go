package models

import "time"

// JobExecution is the audit trail of scheduler runs.
type JobExecution struct {
	Base
	JobName   string    `json:"job_name" gorm:"not null;index"`
	RunTime   time.Time `json:"run_time" gorm:"not null;index"`
	Duration  float64   `json:"duration"`
	Status    string    `json:"status" gorm:"size:16"`
	Exception string    `json:"exception,omitempty" gorm:"type:text"`
}
