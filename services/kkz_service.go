package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"

	"lab-competition-system/apierr"
	"lab-competition-system/logger"
	"lab-competition-system/models"
)

// KkzService manages exam sets and their fan-out into competitions.
type KkzService struct {
	DB    *gorm.DB
	comps *CompetitionService
	log   *logger.Logger
}

func NewKkzService(db *gorm.DB, comps *CompetitionService, log *logger.Logger) *KkzService {
	return &KkzService{DB: db, comps: comps, log: log.With("service", "KkzService")}
}

type KkzInput struct {
	Name         string    `json:"name"`
	Start        time.Time `json:"start"`
	Finish       time.Time `json:"finish"`
	NumTasks     int       `json:"num_tasks"`
	UnifiedTasks bool      `json:"unified_tasks"`
	LabIDs       []string  `json:"lab_ids"`
	PlatoonIDs   []string  `json:"platoon_ids"`
	UserIDs      []string  `json:"user_ids"`
}

// CreateKkz stores the exam set and fans it out.
func (s *KkzService) CreateKkz(ctx context.Context, in KkzInput) (*models.Kkz, []models.Competition, error) {
	if in.Name == "" {
		return nil, nil, apierr.BadRequest("missing_name", "name is required")
	}
	if len(in.LabIDs) == 0 {
		return nil, nil, apierr.BadRequest("missing_labs", "at least one lab is required")
	}
	window := models.Competition{Start: in.Start, Finish: in.Finish}
	if err := window.ValidateWindow(s.comps.now()); err != nil {
		return nil, nil, apierr.New(http.StatusBadRequest, "invalid_window", err)
	}

	kkz := models.Kkz{
		Name:         in.Name,
		Start:        in.Start,
		Finish:       in.Finish,
		NumTasks:     in.NumTasks,
		UnifiedTasks: in.UnifiedTasks,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		labs, err := findByIDs[models.Lab](tx, in.LabIDs, "lab")
		if err != nil {
			return err
		}
		platoons, err := findByIDs[models.Platoon](tx, in.PlatoonIDs, "platoon")
		if err != nil {
			return err
		}
		users, err := findByIDs[models.User](tx, in.UserIDs, "user")
		if err != nil {
			return err
		}
		if err := tx.Omit("Labs", "Platoons", "NonPlatoonUsers").Create(&kkz).Error; err != nil {
			return err
		}
		if err := tx.Model(&kkz).Association("Labs").Replace(labs); err != nil {
			return err
		}
		if err := tx.Model(&kkz).Association("Platoons").Replace(platoons); err != nil {
			return err
		}
		return tx.Model(&kkz).Association("NonPlatoonUsers").Replace(users)
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("exam set created", "kkz", kkz.Name, "labs", len(in.LabIDs), "unified", kkz.UnifiedTasks)
	comps, err := s.CreateFromExamSet(ctx, kkz.ID)
	return &kkz, comps, err
}

// CreateFromExamSet gets or creates one competition per lab of the exam
// set, sharing its window. Every participant gets a preview record per
// lab; with unified tasks all participants share one draw per lab,
// otherwise each participant is drawn independently. Assignments receive
// exactly the previewed tasks, and a preview once written never changes.
func (s *KkzService) CreateFromExamSet(ctx context.Context, kkzID string) ([]models.Competition, error) {
	db := s.DB.WithContext(ctx)

	var kkz models.Kkz
	if err := db.Preload("Labs.Tasks").Preload("Platoons").Preload("NonPlatoonUsers").First(&kkz, "id = ?", kkzID).Error; err != nil {
		return nil, notFound(err, "kkz_not_found", "exam set not found")
	}

	platoonIDs := make([]string, 0, len(kkz.Platoons))
	for _, p := range kkz.Platoons {
		platoonIDs = append(platoonIDs, p.ID)
	}
	userIDs := make([]string, 0, len(kkz.NonPlatoonUsers))
	for _, u := range kkz.NonPlatoonUsers {
		userIDs = append(userIDs, u.ID)
	}

	out := make([]models.Competition, 0, len(kkz.Labs))
	for i := range kkz.Labs {
		lab := &kkz.Labs[i]

		comp, err := s.competitionFor(ctx, &kkz, lab, platoonIDs, userIDs)
		if err != nil {
			return out, fmt.Errorf("competition for lab %s: %w", lab.Name, err)
		}

		previews, err := s.ensurePreviews(ctx, &kkz, lab, comp)
		if err != nil {
			return out, fmt.Errorf("previews for lab %s: %w", lab.Name, err)
		}
		chooser := func(userID string) []models.LabTask { return previews[userID] }
		if _, err := s.comps.resolve(ctx, comp.ID, chooser); err != nil {
			return out, err
		}

		loaded, err := s.comps.Get(ctx, comp.ID)
		if err != nil {
			return out, err
		}
		out = append(out, *loaded)
	}
	return out, nil
}

func (s *KkzService) competitionFor(ctx context.Context, kkz *models.Kkz, lab *models.Lab, platoonIDs, userIDs []string) (*models.Competition, error) {
	var comp models.Competition
	err := s.DB.WithContext(ctx).Where("kkz_id = ? AND lab_id = ?", kkz.ID, lab.ID).First(&comp).Error
	if err == nil {
		return &comp, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return s.comps.create(ctx, CompetitionInput{
		LabID:      lab.ID,
		Start:      kkz.Start,
		Finish:     kkz.Finish,
		NumTasks:   kkz.NumTasks,
		PlatoonIDs: platoonIDs,
		UserIDs:    userIDs,
		KkzID:      &kkz.ID,
	})
}

// ensurePreviews returns the previewed tasks per user for one lab,
// creating previews for participants that have none yet.
func (s *KkzService) ensurePreviews(ctx context.Context, kkz *models.Kkz, lab *models.Lab, comp *models.Competition) (map[string][]models.LabTask, error) {
	db := s.DB.WithContext(ctx)

	full, err := s.comps.Get(ctx, comp.ID)
	if err != nil {
		return nil, err
	}
	users, _, err := participantSet(db, full)
	if err != nil {
		return nil, err
	}

	var existing []models.KkzPreview
	if err := db.Preload("Tasks").Where("kkz_id = ? AND lab_id = ?", kkz.ID, lab.ID).Find(&existing).Error; err != nil {
		return nil, err
	}
	previews := make(map[string][]models.LabTask, len(users))
	for _, p := range existing {
		previews[p.UserID] = p.Tasks
	}

	var unified []models.LabTask
	if kkz.UnifiedTasks {
		if len(existing) > 0 {
			unified = existing[0].Tasks
		} else {
			unified = sampleTasks(lab.Tasks, kkz.NumTasks)
		}
	}

	for _, u := range users {
		if _, ok := previews[u.ID]; ok {
			continue
		}
		tasks := unified
		if !kkz.UnifiedTasks {
			tasks = sampleTasks(lab.Tasks, kkz.NumTasks)
		}
		p := models.KkzPreview{KkzID: kkz.ID, LabID: lab.ID, UserID: u.ID}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit("Tasks").Create(&p).Error; err != nil {
				return err
			}
			if len(tasks) == 0 {
				return nil
			}
			return tx.Model(&p).Association("Tasks").Replace(tasks)
		})
		if err != nil {
			return nil, fmt.Errorf("preview for %s: %w", u.Username, err)
		}
		previews[u.ID] = tasks
	}
	return previews, nil
}
