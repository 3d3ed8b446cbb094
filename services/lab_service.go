package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gosimple/slug"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"lab-competition-system/apierr"
	"lab-competition-system/logger"
	"lab-competition-system/models"
)

type LabService struct {
	DB  *gorm.DB
	log *logger.Logger
}

func NewLabService(db *gorm.DB, log *logger.Logger) *LabService {
	return &LabService{DB: db, log: log.With("service", "LabService")}
}

type LevelInput struct {
	LevelNumber int    `json:"level_number"`
	Description string `json:"description"`
}

type TaskInput struct {
	TaskID      string          `json:"task_id"`
	Description string          `json:"description"`
	Kind        models.TaskKind `json:"kind"`
	Answer      string          `json:"answer"`
	JSONConfig  datatypes.JSON  `json:"json_config"`
}

type LabInput struct {
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	Platform        models.LabPlatform `json:"platform"`
	LabType         models.LabType     `json:"lab_type"`
	Nodes           datatypes.JSON     `json:"nodes"`
	Networks        datatypes.JSON     `json:"networks"`
	Connectors      datatypes.JSON     `json:"connectors"`
	CloudConnectors datatypes.JSON     `json:"cloud_connectors"`
	AnswerFlag      string             `json:"answer_flag"`
	Levels          []LevelInput       `json:"levels"`
	Tasks           []TaskInput        `json:"tasks"`
}

// CreateLab validates and stores a lab template with its levels and tasks.
func (s *LabService) CreateLab(ctx context.Context, in LabInput) (*models.Lab, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apierr.BadRequest("missing_name", "name is required")
	}
	if in.Platform == "" {
		in.Platform = models.PlatformNone
	}
	if !in.Platform.Valid() {
		return nil, apierr.BadRequest("invalid_platform", "unknown platform")
	}
	if in.LabType == "" {
		in.LabType = models.LabTypeHW
	}
	if !in.LabType.Valid() {
		return nil, apierr.BadRequest("invalid_lab_type", "unknown lab type")
	}

	lab := models.Lab{
		Name:            name,
		Slug:            slug.Make(name),
		Description:     in.Description,
		Platform:        in.Platform,
		LabType:         in.LabType,
		Nodes:           in.Nodes,
		Networks:        in.Networks,
		Connectors:      in.Connectors,
		CloudConnectors: in.CloudConnectors,
		AnswerFlag:      in.AnswerFlag,
	}
	if err := lab.ValidateTopology(); err != nil {
		return nil, apierr.New(http.StatusBadRequest, "invalid_topology", err)
	}

	seenLevels := make(map[int]bool, len(in.Levels))
	for _, l := range in.Levels {
		if seenLevels[l.LevelNumber] {
			return nil, apierr.BadRequest("duplicate_level", fmt.Sprintf("level %d listed twice", l.LevelNumber))
		}
		seenLevels[l.LevelNumber] = true
		lab.Levels = append(lab.Levels, models.LabLevel{LevelNumber: l.LevelNumber, Description: l.Description})
	}
	for _, t := range in.Tasks {
		task := models.LabTask{
			TaskID:      t.TaskID,
			Description: t.Description,
			Kind:        t.Kind,
			Answer:      t.Answer,
			JSONConfig:  t.JSONConfig,
		}
		if task.Kind == "" {
			task.Kind = models.TaskKindManual
		}
		if err := task.Validate(); err != nil {
			return nil, apierr.New(http.StatusBadRequest, "invalid_task", err)
		}
		lab.Tasks = append(lab.Tasks, task)
	}

	err := s.DB.WithContext(ctx).Create(&lab).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, apierr.Conflict("lab_exists", "a lab with this name already exists")
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("lab created", "lab", lab.Slug, "platform", lab.Platform, "levels", len(lab.Levels), "tasks", len(lab.Tasks))
	return &lab, nil
}

func (s *LabService) List(ctx context.Context) ([]models.Lab, error) {
	var labs []models.Lab
	err := s.DB.WithContext(ctx).
		Preload("Levels", func(tx *gorm.DB) *gorm.DB { return tx.Order("level_number") }).
		Preload("Tasks").
		Order("name").
		Find(&labs).Error
	return labs, err
}
