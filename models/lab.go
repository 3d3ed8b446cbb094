package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
)

type LabPlatform string

const (
	PlatformNone    LabPlatform = "NONE"
	PlatformRemote  LabPlatform = "REMOTE_PLATFORM"
	PlatformCommand LabPlatform = "COMMAND"
)

func (p LabPlatform) Valid() bool {
	switch p {
	case PlatformNone, PlatformRemote, PlatformCommand:
		return true
	}
	return false
}

// RequiresRemote reports whether labs on this platform are provisioned
// on the remote lab-orchestration service.
func (p LabPlatform) RequiresRemote() bool {
	return p == PlatformRemote
}

type LabType string

const (
	LabTypeHW          LabType = "HW"
	LabTypePZ          LabType = "PZ"
	LabTypeExam        LabType = "EXAM"
	LabTypeCompetition LabType = "COMPETITION"
)

func (t LabType) Valid() bool {
	switch t {
	case LabTypeHW, LabTypePZ, LabTypeExam, LabTypeCompetition:
		return true
	}
	return false
}

var ErrInvalidTopology = errors.New("topology field must be a JSON array")

// Lab is a reusable exercise template, optionally backed by a remote
// topology (nodes, networks, point-to-point and cloud connectors).
type Lab struct {
	Base
	Name            string         `json:"name" gorm:"uniqueIndex;not null"`
	Slug            string         `json:"slug" gorm:"uniqueIndex;not null"`
	Description     string         `json:"description" gorm:"type:text"`
	Platform        LabPlatform    `json:"platform" gorm:"size:32;not null;default:'NONE'"`
	LabType         LabType        `json:"lab_type" gorm:"size:32;not null;default:'HW'"`
	Nodes           datatypes.JSON `json:"nodes"`
	Networks        datatypes.JSON `json:"networks"`
	Connectors      datatypes.JSON `json:"connectors"`
	CloudConnectors datatypes.JSON `json:"cloud_connectors"`
	AnswerFlag      string         `json:"answer_flag,omitempty"`

	Levels []LabLevel `json:"levels,omitempty" gorm:"foreignKey:LabID"`
	Tasks  []LabTask  `json:"tasks,omitempty" gorm:"foreignKey:LabID"`
	Timestamps
}

func (l *Lab) ValidateTopology() error {
	fields := map[string]datatypes.JSON{
		"nodes":            l.Nodes,
		"networks":         l.Networks,
		"connectors":       l.Connectors,
		"cloud_connectors": l.CloudConnectors,
	}
	for name, raw := range fields {
		if _, err := TopologyItems(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// TopologyItems splits a stored topology field into its elements.
// An empty or null field has no elements.
func TopologyItems(raw datatypes.JSON) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return nil, ErrInvalidTopology
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, ErrInvalidTopology
	}
	return items, nil
}

// LabLevel is a mutually exclusive variant of a lab.
type LabLevel struct {
	Base
	LabID       string `json:"lab_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_lab_level"`
	LevelNumber int    `json:"level_number" gorm:"not null;uniqueIndex:idx_lab_level"`
	Description string `json:"description" gorm:"type:text"`
}

type TaskKind string

const (
	TaskKindFlag       TaskKind = "flag"
	TaskKindStateCheck TaskKind = "state_check"
	TaskKindManual     TaskKind = "manual"
)

// RequiredTaskFields maps a task kind to the fields a task of that kind
// must fill in. Unknown kinds report ok=false.
func RequiredTaskFields(kind TaskKind) (fields []string, ok bool) {
	switch kind {
	case TaskKindFlag:
		return []string{"answer"}, true
	case TaskKindStateCheck:
		return []string{"json_config"}, true
	case TaskKindManual:
		return nil, true
	}
	return nil, false
}

// LabTask is a discrete sub-task; participants receive a sampled subset.
type LabTask struct {
	Base
	LabID       string         `json:"lab_id" gorm:"not null;index;type:varchar(36)"`
	TaskID      string         `json:"task_id" gorm:"size:64"`
	Description string         `json:"description" gorm:"type:text"`
	Kind        TaskKind       `json:"kind" gorm:"size:32;not null;default:'manual'"`
	Answer      string         `json:"-"`
	JSONConfig  datatypes.JSON `json:"json_config,omitempty"`
}

func (t *LabTask) Validate() error {
	required, ok := RequiredTaskFields(t.Kind)
	if !ok {
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
	for _, f := range required {
		switch f {
		case "answer":
			if t.Answer == "" {
				return fmt.Errorf("task kind %q requires an answer", t.Kind)
			}
		case "json_config":
			if len(bytes.TrimSpace(t.JSONConfig)) == 0 || !json.Valid(t.JSONConfig) {
				return fmt.Errorf("task kind %q requires a json_config", t.Kind)
			}
		}
	}
	return nil
}
