package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base carries the string UUID primary key shared by every entity.
type Base struct {
	ID string `json:"id" gorm:"primaryKey;type:varchar(36)"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Platoon{},
		&User{},
		&Team{},
		&Lab{},
		&LabLevel{},
		&LabTask{},
		&Competition{},
		&Competition2User{},
		&TeamCompetition2Team{},
		&Kkz{},
		&KkzPreview{},
		&Answers{},
		&JobExecution{},
	}
}
