package models

import (
	"errors"
	"time"

	"github.com/gosimple/slug"
)

const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusFinished = "finished"
)

var (
	ErrWindowOrder  = errors.New("start must be before finish")
	ErrWindowPassed = errors.New("finish must be in the future")
)

// Competition is a scheduled, time-boxed instance of a Lab. IsTeam marks
// a team competition whose participants are the listed Teams; team
// members never take part individually.
type Competition struct {
	Base
	Slug         string     `json:"slug" gorm:"uniqueIndex;not null"`
	LabID        string     `json:"lab_id" gorm:"not null;index;type:varchar(36)"`
	Lab          Lab        `json:"lab,omitempty" gorm:"foreignKey:LabID"`
	Start        time.Time  `json:"start" gorm:"not null;index"`
	Finish       time.Time  `json:"finish" gorm:"not null;index"`
	NumTasks     int        `json:"num_tasks" gorm:"default:0"`
	Participants int        `json:"participants" gorm:"default:0"`
	LevelID      *string    `json:"level_id,omitempty" gorm:"type:varchar(36)"`
	Level        *LabLevel  `json:"level,omitempty" gorm:"foreignKey:LevelID"`
	IsTeam       bool       `json:"is_team" gorm:"default:false"`
	KkzID        *string    `json:"kkz_id,omitempty" gorm:"index;type:varchar(36)"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`

	// Tasks is the competition's own task pool; empty means the lab's tasks.
	Tasks           []LabTask `json:"tasks,omitempty" gorm:"many2many:competition_tasks;"`
	Platoons        []Platoon `json:"platoons,omitempty" gorm:"many2many:competition_platoons;"`
	NonPlatoonUsers []User    `json:"non_platoon_users,omitempty" gorm:"many2many:competition_non_platoon_users;"`
	Teams           []Team    `json:"teams,omitempty" gorm:"many2many:competition_teams;"`
	Timestamps
}

// CompetitionSlug derives the public slug from the lab name and start.
func CompetitionSlug(labName string, start time.Time) string {
	return slug.Make(labName + " " + start.UTC().Format("2006-01-02 15:04:05"))
}

func (c *Competition) ValidateWindow(now time.Time) error {
	if !c.Start.Before(c.Finish) {
		return ErrWindowOrder
	}
	if !c.Finish.After(now) {
		return ErrWindowPassed
	}
	return nil
}

func (c *Competition) Status(now time.Time) string {
	switch {
	case now.Before(c.Start):
		return StatusPending
	case now.After(c.Finish):
		return StatusFinished
	default:
		return StatusRunning
	}
}

// Competition2User is the per-user assignment and the unit of remote
// provisioning for individual competitions.
type Competition2User struct {
	Base
	CompetitionID string       `json:"competition_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_competition_user"`
	Competition   *Competition `json:"competition,omitempty" gorm:"foreignKey:CompetitionID"`
	UserID        string       `json:"user_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_competition_user"`
	User          *User        `json:"user,omitempty" gorm:"foreignKey:UserID"`
	LevelID       *string      `json:"level_id,omitempty" gorm:"type:varchar(36)"`
	Level         *LabLevel    `json:"level,omitempty" gorm:"foreignKey:LevelID"`
	Tasks         []LabTask    `json:"tasks,omitempty" gorm:"many2many:competition2user_tasks;"`
	Done          bool         `json:"done" gorm:"default:false"`
	Deleted       bool         `json:"deleted" gorm:"default:false;index"`
	Timestamps
}

func (Competition2User) TableName() string { return "competition2users" }

// TeamCompetition2Team is the per-team assignment for team competitions.
type TeamCompetition2Team struct {
	Base
	CompetitionID string       `json:"competition_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_competition_team"`
	Competition   *Competition `json:"competition,omitempty" gorm:"foreignKey:CompetitionID"`
	TeamID        string       `json:"team_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_competition_team"`
	Team          *Team        `json:"team,omitempty" gorm:"foreignKey:TeamID"`
	LevelID       *string      `json:"level_id,omitempty" gorm:"type:varchar(36)"`
	Level         *LabLevel    `json:"level,omitempty" gorm:"foreignKey:LevelID"`
	Tasks         []LabTask    `json:"tasks,omitempty" gorm:"many2many:team_competition2team_tasks;"`
	Done          bool         `json:"done" gorm:"default:false"`
	Deleted       bool         `json:"deleted" gorm:"default:false;index"`
	Timestamps
}

func (TeamCompetition2Team) TableName() string { return "team_competition2teams" }
