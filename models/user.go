package models

import "strings"

// Platoon is a cohort of students assigned to competitions in bulk.
type Platoon struct {
	Base
	Number int    `json:"number" gorm:"uniqueIndex;not null"`
	Name   string `json:"name"`
	Users  []User `json:"users,omitempty" gorm:"foreignKey:PlatoonID"`
	Timestamps
}

type User struct {
	Base
	Username  string   `json:"username" gorm:"uniqueIndex;size:150;not null"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	PlatoonID *string  `json:"platoon_id,omitempty" gorm:"index;type:varchar(36)"`
	Platoon   *Platoon `json:"platoon,omitempty" gorm:"foreignKey:PlatoonID"`
	IsStaff   bool     `json:"is_staff" gorm:"default:false"`
	Timestamps
}

func (u User) FullName() string {
	return strings.TrimSpace(u.LastName + " " + u.FirstName)
}

// Team is a named group of users that competes as one participant.
type Team struct {
	Base
	Name  string `json:"name" gorm:"uniqueIndex;not null"`
	Slug  string `json:"slug" gorm:"uniqueIndex;not null"`
	Users []User `json:"users,omitempty" gorm:"many2many:team_users;"`
	Timestamps
}
