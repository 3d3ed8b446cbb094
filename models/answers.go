package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrAnswerOwner = errors.New("answer must belong to exactly one of user or team")

// Answers is the append-only ledger of submissions. Exactly one of
// UserID and TeamID is set.
type Answers struct {
	Base
	LabID    string    `json:"lab_id" gorm:"not null;index;type:varchar(36)"`
	UserID   *string   `json:"user_id,omitempty" gorm:"index;type:varchar(36);check:answers_user_xor_team,(user_id IS NULL) <> (team_id IS NULL)"`
	TeamID   *string   `json:"team_id,omitempty" gorm:"index;type:varchar(36)"`
	TaskID   *string   `json:"task_id,omitempty" gorm:"index;type:varchar(36)"`
	Datetime time.Time `json:"datetime" gorm:"not null;index"`
}

func (a *Answers) Validate() error {
	hasUser := a.UserID != nil && *a.UserID != ""
	hasTeam := a.TeamID != nil && *a.TeamID != ""
	if hasUser == hasTeam {
		return ErrAnswerOwner
	}
	return nil
}

func (a *Answers) BeforeSave(tx *gorm.DB) error {
	return a.Validate()
}
