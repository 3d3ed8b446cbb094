package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lab-competition-system/apierr"
	"lab-competition-system/logger"
	"lab-competition-system/models"
)

// CompetitionService owns the competition lifecycle: creation, participant
// resolution, provisioning, teardown and deletion.
type CompetitionService struct {
	DB       *gorm.DB
	sessions *SessionManager
	platform *LabPlatformClient
	notifier UpdateNotifier
	log      *logger.Logger
	now      func() time.Time
}

func NewCompetitionService(db *gorm.DB, sessions *SessionManager, platform *LabPlatformClient, notifier UpdateNotifier, log *logger.Logger) *CompetitionService {
	return &CompetitionService{
		DB:       db,
		sessions: sessions,
		platform: platform,
		notifier: notifier,
		log:      log.With("service", "CompetitionService"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CompetitionInput is the admin payload for creating a competition.
type CompetitionInput struct {
	LabID      string    `json:"lab_id"`
	Start      time.Time `json:"start"`
	Finish     time.Time `json:"finish"`
	NumTasks   int       `json:"num_tasks"`
	LevelID    *string   `json:"level_id"`
	IsTeam     bool      `json:"is_team"`
	TaskIDs    []string  `json:"task_ids"`
	PlatoonIDs []string  `json:"platoon_ids"`
	UserIDs    []string  `json:"user_ids"`
	TeamIDs    []string  `json:"team_ids"`
	KkzID      *string   `json:"-"`
}

func notFound(err error, code, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apierr.NotFound(code, msg)
	}
	return err
}

func (s *CompetitionService) markChanged(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.MarkChanged(ctx); err != nil {
		s.log.Warn("failed to publish update marker", "error", err)
	}
}

// findByIDs loads exactly the rows named by ids or fails with a 400.
func findByIDs[T any](tx *gorm.DB, ids []string, what string) ([]T, error) {
	var out []T
	if len(ids) == 0 {
		return out, nil
	}
	if err := tx.Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) != len(dedupe(ids)) {
		return nil, apierr.BadRequest("unknown_"+what, "unknown "+what+" id")
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// CreateCompetition validates and stores a competition, then resolves
// and provisions its participants.
func (s *CompetitionService) CreateCompetition(ctx context.Context, in CompetitionInput) (*models.Competition, error) {
	comp, err := s.create(ctx, in)
	if err != nil {
		return nil, err
	}
	if _, err := s.ResolveParticipants(ctx, comp.ID); err != nil {
		return nil, err
	}
	return s.Get(ctx, comp.ID)
}

func (s *CompetitionService) create(ctx context.Context, in CompetitionInput) (*models.Competition, error) {
	db := s.DB.WithContext(ctx)

	var lab models.Lab
	if err := db.First(&lab, "id = ?", in.LabID).Error; err != nil {
		return nil, notFound(err, "lab_not_found", "lab not found")
	}
	if in.NumTasks < 0 {
		return nil, apierr.BadRequest("invalid_num_tasks", "num_tasks must not be negative")
	}

	comp := models.Competition{
		LabID:    lab.ID,
		Lab:      lab,
		Start:    in.Start,
		Finish:   in.Finish,
		NumTasks: in.NumTasks,
		LevelID:  in.LevelID,
		IsTeam:   in.IsTeam,
		KkzID:    in.KkzID,
	}
	if err := comp.ValidateWindow(s.now()); err != nil {
		return nil, apierr.New(http.StatusBadRequest, "invalid_window", err)
	}
	if in.LevelID != nil {
		var level models.LabLevel
		if err := db.First(&level, "id = ? AND lab_id = ?", *in.LevelID, lab.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apierr.BadRequest("invalid_level", "level does not belong to the lab")
			}
			return nil, err
		}
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		tasks, err := findByIDs[models.LabTask](tx, in.TaskIDs, "task")
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if t.LabID != lab.ID {
				return apierr.BadRequest("invalid_task", "task does not belong to the lab")
			}
		}
		platoons, err := findByIDs[models.Platoon](tx, in.PlatoonIDs, "platoon")
		if err != nil {
			return err
		}
		users, err := findByIDs[models.User](tx, in.UserIDs, "user")
		if err != nil {
			return err
		}
		teams, err := findByIDs[models.Team](tx, in.TeamIDs, "team")
		if err != nil {
			return err
		}

		if err := s.save(tx, &comp); err != nil {
			return err
		}
		return replaceAssociations(tx, &comp, tasks, platoons, users, teams)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("competition created", "competition", comp.Slug, "lab", lab.Name, "start", comp.Start, "finish", comp.Finish)
	return &comp, nil
}

func replaceAssociations(tx *gorm.DB, comp *models.Competition, tasks []models.LabTask, platoons []models.Platoon, users []models.User, teams []models.Team) error {
	if err := tx.Model(comp).Association("Tasks").Replace(tasks); err != nil {
		return fmt.Errorf("set tasks: %w", err)
	}
	if err := tx.Model(comp).Association("Platoons").Replace(platoons); err != nil {
		return fmt.Errorf("set platoons: %w", err)
	}
	if err := tx.Model(comp).Association("NonPlatoonUsers").Replace(users); err != nil {
		return fmt.Errorf("set users: %w", err)
	}
	if err := tx.Model(comp).Association("Teams").Replace(teams); err != nil {
		return fmt.Errorf("set teams: %w", err)
	}
	return nil
}

// SaveCompetition persists comp, recomputing its slug from the lab name
// and start on every save.
func (s *CompetitionService) SaveCompetition(ctx context.Context, comp *models.Competition) error {
	return s.save(s.DB.WithContext(ctx), comp)
}

func (s *CompetitionService) save(tx *gorm.DB, comp *models.Competition) error {
	if comp.Lab.ID == "" {
		if err := tx.First(&comp.Lab, "id = ?", comp.LabID).Error; err != nil {
			return notFound(err, "lab_not_found", "lab not found")
		}
	}

	slug := models.CompetitionSlug(comp.Lab.Name, comp.Start)
	if comp.Slug != "" && comp.Slug != slug {
		s.log.Warn("competition slug changed", "old", comp.Slug, "new", slug)
	}
	comp.Slug = slug

	err := tx.Omit(clause.Associations).Save(comp).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apierr.Conflict("competition_exists", "a competition for this lab already starts at that time")
	}
	return err
}

func (s *CompetitionService) Get(ctx context.Context, id string) (*models.Competition, error) {
	var comp models.Competition
	if err := preloadCompetition(s.DB.WithContext(ctx)).Preload("Level").First(&comp, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "competition_not_found", "competition not found")
	}
	return &comp, nil
}

func (s *CompetitionService) GetBySlug(ctx context.Context, slug string) (*models.Competition, error) {
	var comp models.Competition
	if err := preloadCompetition(s.DB.WithContext(ctx)).First(&comp, "slug = ?", slug).Error; err != nil {
		return nil, notFound(err, "competition_not_found", "competition not found")
	}
	return &comp, nil
}

// DeleteCompetition tears down every assignment of the competition,
// then removes the rows and the competition itself. It returns the
// number of assignments processed.
func (s *CompetitionService) DeleteCompetition(ctx context.Context, id string) (int, error) {
	db := s.DB.WithContext(ctx)

	var comp models.Competition
	if err := db.First(&comp, "id = ?", id).Error; err != nil {
		return 0, notFound(err, "competition_not_found", "competition not found")
	}

	var userRows []models.Competition2User
	if err := db.Where("competition_id = ?", comp.ID).Find(&userRows).Error; err != nil {
		return 0, err
	}
	var teamRows []models.TeamCompetition2Team
	if err := db.Where("competition_id = ?", comp.ID).Find(&teamRows).Error; err != nil {
		return 0, err
	}

	processed := 0
	for _, row := range userRows {
		if err := s.removeUserAssignment(ctx, row.ID); err != nil {
			return processed, fmt.Errorf("remove assignment %s: %w", row.ID, err)
		}
		processed++
	}
	for _, row := range teamRows {
		if err := s.removeTeamAssignment(ctx, row.ID); err != nil {
			return processed, fmt.Errorf("remove team assignment %s: %w", row.ID, err)
		}
		processed++
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		for _, assoc := range []string{"Tasks", "Platoons", "NonPlatoonUsers", "Teams"} {
			if err := tx.Model(&comp).Association(assoc).Clear(); err != nil {
				return fmt.Errorf("clear %s: %w", assoc, err)
			}
		}
		return tx.Delete(&comp).Error
	})
	if err != nil {
		return processed, fmt.Errorf("delete competition %s: %w", comp.Slug, err)
	}

	s.log.Info("competition deleted", "competition", comp.Slug, "assignments", processed)
	s.markChanged(ctx)
	return processed, nil
}

// PressButton moves a competition's window so that it starts or finishes
// now. Finishing also makes the expiry jobs pick it up.
func (s *CompetitionService) PressButton(ctx context.Context, action, competitionID string) (*models.Competition, error) {
	if action != "start" && action != "finish" {
		return nil, apierr.BadRequest("unknown_action", "action must be start or finish")
	}
	comp, err := s.Get(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	switch action {
	case "start":
		if comp.Status(now) != models.StatusPending {
			return nil, apierr.BadRequest("not_pending", "competition has already started")
		}
		comp.Start = now
	case "finish":
		switch comp.Status(now) {
		case models.StatusPending:
			return nil, apierr.BadRequest("not_started", "competition has not started yet")
		case models.StatusFinished:
			return nil, apierr.BadRequest("already_finished", "competition has already finished")
		}
		if !comp.Start.Before(now) {
			comp.Start = now.Add(-time.Second)
		}
		comp.Finish = now
	}

	if err := s.SaveCompetition(ctx, comp); err != nil {
		return nil, err
	}
	s.log.Info("competition window changed", "competition", comp.Slug, "action", action)
	s.markChanged(ctx)
	return comp, nil
}

// CompetitionTime reports the competition window relative to now.
type CompetitionTime struct {
	Start            time.Time `json:"start"`
	Finish           time.Time `json:"finish"`
	Now              time.Time `json:"now"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	Status           string    `json:"status"`
}

func (s *CompetitionService) CompetitionTime(ctx context.Context, competitionID string) (*CompetitionTime, error) {
	var comp models.Competition
	if err := s.DB.WithContext(ctx).First(&comp, "id = ?", competitionID).Error; err != nil {
		return nil, notFound(err, "competition_not_found", "competition not found")
	}
	now := s.now()
	remaining := int64(comp.Finish.Sub(now) / time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return &CompetitionTime{
		Start:            comp.Start,
		Finish:           comp.Finish,
		Now:              now,
		RemainingSeconds: remaining,
		Status:           comp.Status(now),
	}, nil
}

// RemoveUserAssignments tears down and deletes every assignment of a
// user, ahead of deleting the user.
func (s *CompetitionService) RemoveUserAssignments(ctx context.Context, userID string) error {
	var rows []models.Competition2User
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		if err := s.removeUserAssignment(ctx, row.ID); err != nil {
			return fmt.Errorf("remove assignment %s: %w", row.ID, err)
		}
	}
	if len(rows) > 0 {
		s.markChanged(ctx)
	}
	return nil
}
