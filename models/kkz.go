package models

import "time"

// Kkz is an exam set: several labs sharing one time window. It fans out
// into one Competition per lab.
type Kkz struct {
	Base
	Name            string    `json:"name" gorm:"not null"`
	Start           time.Time `json:"start" gorm:"not null"`
	Finish          time.Time `json:"finish" gorm:"not null"`
	NumTasks        int       `json:"num_tasks" gorm:"default:0"`
	UnifiedTasks    bool      `json:"unified_tasks" gorm:"default:false"`
	Labs            []Lab     `json:"labs,omitempty" gorm:"many2many:kkz_labs;"`
	Platoons        []Platoon `json:"platoons,omitempty" gorm:"many2many:kkz_platoons;"`
	NonPlatoonUsers []User    `json:"non_platoon_users,omitempty" gorm:"many2many:kkz_non_platoon_users;"`
	Timestamps
}

// KkzPreview records which tasks a user received for one lab of a Kkz,
// independent of the live assignment.
type KkzPreview struct {
	Base
	KkzID  string    `json:"kkz_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_kkz_preview"`
	LabID  string    `json:"lab_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_kkz_preview"`
	UserID string    `json:"user_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_kkz_preview"`
	Tasks  []LabTask `json:"tasks,omitempty" gorm:"many2many:kkz_preview_tasks;"`
	Timestamps
}
