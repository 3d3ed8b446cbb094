package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"lab-competition-system/apierr"
	"lab-competition-system/logger"
	"lab-competition-system/models"
)

// UserService manages users and platoons. Analytics accounts follow the
// user lifecycle but never block it.
type UserService struct {
	DB    *gorm.DB
	comps *CompetitionService
	creds CredentialProvisioner
	log   *logger.Logger
}

func NewUserService(db *gorm.DB, comps *CompetitionService, creds CredentialProvisioner, log *logger.Logger) *UserService {
	return &UserService{DB: db, comps: comps, creds: creds, log: log.With("service", "UserService")}
}

type UserInput struct {
	Username  string  `json:"username"`
	Password  string  `json:"password"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	PlatoonID *string `json:"platoon_id"`
	IsStaff   bool    `json:"is_staff"`
}

type PlatoonInput struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
}

func (s *UserService) CreatePlatoon(ctx context.Context, in PlatoonInput) (*models.Platoon, error) {
	if in.Number <= 0 {
		return nil, apierr.BadRequest("invalid_number", "platoon number must be positive")
	}
	p := models.Platoon{Number: in.Number, Name: in.Name}
	err := s.DB.WithContext(ctx).Create(&p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, apierr.Conflict("platoon_exists", "platoon already exists")
	}
	return &p, err
}

// CreateUser stores the user, then provisions the analytics account.
// The returned status is the credential outcome.
func (s *UserService) CreateUser(ctx context.Context, in UserInput) (*models.User, string, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, "", apierr.BadRequest("missing_username", "username is required")
	}
	db := s.DB.WithContext(ctx)
	if in.PlatoonID != nil {
		var p models.Platoon
		if err := db.First(&p, "id = ?", *in.PlatoonID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, "", apierr.BadRequest("unknown_platoon", "unknown platoon id")
			}
			return nil, "", err
		}
	}

	user := models.User{
		Username:  username,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		PlatoonID: in.PlatoonID,
		IsStaff:   in.IsStaff,
	}
	err := db.Create(&user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, "", apierr.Conflict("user_exists", "username is taken")
	}
	if err != nil {
		return nil, "", err
	}

	status := s.creds.CreateAccount(ctx, user.Username, in.Password, s.creds.IndexPattern(user.Username))
	if status != CredCreated && status != CredDisabled {
		s.log.Warn("analytics account not provisioned", "username", user.Username, "status", status)
	}
	s.log.Info("user created", "username", user.Username, "credentials", status)
	return &user, status, nil
}

// DeleteUser tears down the user's assignments, removes the analytics
// account and deletes the user with its memberships and answers.
func (s *UserService) DeleteUser(ctx context.Context, id string) (string, error) {
	db := s.DB.WithContext(ctx)
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		return "", notFound(err, "user_not_found", "user not found")
	}

	if err := s.comps.RemoveUserAssignments(ctx, user.ID); err != nil {
		return "", err
	}

	status := s.creds.DeleteAccount(ctx, user.Username)
	if status != CredDeleted && status != CredDisabled {
		s.log.Warn("analytics account not removed", "username", user.Username, "status", status)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{"team_users", "competition_non_platoon_users", "kkz_non_platoon_users"} {
			if err := tx.Exec("DELETE FROM "+table+" WHERE user_id = ?", user.ID).Error; err != nil {
				return err
			}
		}
		var previews []models.KkzPreview
		if err := tx.Where("user_id = ?", user.ID).Find(&previews).Error; err != nil {
			return err
		}
		for i := range previews {
			if err := tx.Model(&previews[i]).Association("Tasks").Clear(); err != nil {
				return err
			}
			if err := tx.Delete(&previews[i]).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.Answers{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		return status, err
	}
	s.log.Info("user deleted", "username", user.Username, "credentials", status)
	return status, nil
}
