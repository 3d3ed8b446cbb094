package services

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"lab-competition-system/apierr"
	"lab-competition-system/logger"
	"lab-competition-system/models"
)

type TeamService struct {
	DB          *gorm.DB
	sessions    *SessionManager
	platform    *LabPlatformClient
	studentRoot string
	log         *logger.Logger
}

func NewTeamService(db *gorm.DB, sessions *SessionManager, platform *LabPlatformClient, studentRoot string, log *logger.Logger) *TeamService {
	if studentRoot == "" {
		studentRoot = "/"
	}
	return &TeamService{
		DB:          db,
		sessions:    sessions,
		platform:    platform,
		studentRoot: studentRoot,
		log:         log.With("service", "TeamService"),
	}
}

type TeamInput struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

// CreateTeam stores the team, then creates its directory on the lab
// platform and points every member's workspace at it. Remote failures
// are logged; the team is kept.
func (s *TeamService) CreateTeam(ctx context.Context, in TeamInput) (*models.Team, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apierr.BadRequest("missing_name", "name is required")
	}

	team := models.Team{Name: name, Slug: slug.Make(name)}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		members, err := findByIDs[models.User](tx, in.MemberIDs, "user")
		if err != nil {
			return err
		}
		if err := tx.Omit("Users").Create(&team).Error; err != nil {
			return err
		}
		team.Users = members
		return tx.Model(&team).Association("Users").Replace(members)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, apierr.Conflict("team_exists", "a team with this name already exists")
	}
	if err != nil {
		return nil, err
	}

	workspace := path.Join(s.studentRoot, team.Slug)
	_ = s.sessions.WithSession(ctx, models.PlatformRemote, func(ctx context.Context, sess *PlatformSession) error {
		if err := s.platform.CreateDirectory(ctx, sess, s.studentRoot, team.Slug); err != nil {
			return nil
		}
		for _, m := range team.Users {
			_ = s.platform.ChangeWorkspace(ctx, sess, m.Username, workspace)
		}
		return nil
	})

	s.log.Info("team created", "team", team.Name, "members", len(team.Users), "workspace", workspace)
	return &team, nil
}
