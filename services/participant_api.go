package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lab-competition-system/apierr"
	"lab-competition-system/models"
)

type StartLabRequest struct {
	Username string `json:"username"`
	Lab      string `json:"lab"`
}

type EndLabRequest struct {
	Username string `json:"username"`
	Lab      string `json:"lab"`
	Task     string `json:"task"`
}

type TaskView struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	Description string          `json:"description"`
	Kind        models.TaskKind `json:"kind"`
}

type StartLabResponse struct {
	Competition string           `json:"competition"`
	Lab         string           `json:"lab"`
	Level       *models.LabLevel `json:"level"`
	Tasks       []TaskView       `json:"tasks"`
	Flag        string           `json:"flag"`
	Team        string           `json:"team"`
	Start       time.Time        `json:"start"`
	Finish      time.Time        `json:"finish"`
}

type EndLabResponse struct {
	Recorded bool `json:"recorded"`
	Done     bool `json:"done"`
}

// activeAssignment is the participant's live assignment in a running
// competition; exactly one of user and team is set.
type activeAssignment struct {
	comp *models.Competition
	user *models.Competition2User
	team *models.TeamCompetition2Team
}

func (a *activeAssignment) tasks() []models.LabTask {
	if a.team != nil {
		return a.team.Tasks
	}
	return a.user.Tasks
}

func (a *activeAssignment) level() *models.LabLevel {
	if a.team != nil {
		return a.team.Level
	}
	return a.user.Level
}

func (s *CompetitionService) lookupParticipant(ctx context.Context, username, labRef string) (*models.User, *models.Lab, error) {
	username = strings.TrimSpace(username)
	labRef = strings.TrimSpace(labRef)
	if username == "" || labRef == "" {
		return nil, nil, apierr.BadRequest("missing_fields", "username and lab are required")
	}

	db := s.DB.WithContext(ctx)
	var user models.User
	if err := db.First(&user, "username = ?", username).Error; err != nil {
		return nil, nil, notFound(err, "user_not_found", "user not found")
	}
	var lab models.Lab
	if err := db.Where("slug = ? OR name = ?", labRef, labRef).First(&lab).Error; err != nil {
		return nil, nil, notFound(err, "lab_not_found", "lab not found")
	}
	return &user, &lab, nil
}

// findActiveAssignment prefers a team assignment: a user in a team of a
// running team competition works through the team's workspace.
func (s *CompetitionService) findActiveAssignment(ctx context.Context, user *models.User, lab *models.Lab) (*activeAssignment, error) {
	db := s.DB.WithContext(ctx)
	now := s.now()

	var team models.TeamCompetition2Team
	err := db.
		Joins("JOIN competitions ON competitions.id = team_competition2teams.competition_id").
		Joins("JOIN team_users ON team_users.team_id = team_competition2teams.team_id").
		Where("team_users.user_id = ? AND competitions.lab_id = ?", user.ID, lab.ID).
		Where("competitions.start <= ? AND competitions.finish >= ?", now, now).
		Where("team_competition2teams.deleted = ?", false).
		Preload("Competition").Preload("Team").Preload("Level").Preload("Tasks").
		First(&team).Error
	if err == nil {
		return &activeAssignment{comp: team.Competition, team: &team}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var row models.Competition2User
	err = db.
		Joins("JOIN competitions ON competitions.id = competition2users.competition_id").
		Where("competition2users.user_id = ? AND competitions.lab_id = ?", user.ID, lab.ID).
		Where("competitions.start <= ? AND competitions.finish >= ?", now, now).
		Where("competition2users.deleted = ?", false).
		Preload("Competition").Preload("Level").Preload("Tasks").
		First(&row).Error
	if err != nil {
		return nil, notFound(err, "assignment_not_found", "no active assignment for this lab")
	}
	return &activeAssignment{comp: row.Competition, user: &row}, nil
}

// StartLab returns what the participant needs to work on their active
// assignment.
func (s *CompetitionService) StartLab(ctx context.Context, req StartLabRequest) (*StartLabResponse, error) {
	user, lab, err := s.lookupParticipant(ctx, req.Username, req.Lab)
	if err != nil {
		return nil, err
	}
	a, err := s.findActiveAssignment(ctx, user, lab)
	if err != nil {
		return nil, err
	}

	resp := &StartLabResponse{
		Competition: a.comp.Slug,
		Lab:         lab.Slug,
		Level:       a.level(),
		Tasks:       make([]TaskView, 0, len(a.tasks())),
		Flag:        lab.AnswerFlag,
		Start:       a.comp.Start,
		Finish:      a.comp.Finish,
	}
	if a.team != nil {
		resp.Team = a.team.Team.Name
	}
	for _, t := range a.tasks() {
		resp.Tasks = append(resp.Tasks, TaskView{ID: t.ID, TaskID: t.TaskID, Description: t.Description, Kind: t.Kind})
	}
	return resp, nil
}

// EndLab records a completion event for the participant's active
// assignment. An answer already recorded within the competition window
// is not recorded again.
func (s *CompetitionService) EndLab(ctx context.Context, req EndLabRequest) (*EndLabResponse, error) {
	user, lab, err := s.lookupParticipant(ctx, req.Username, req.Lab)
	if err != nil {
		return nil, err
	}
	a, err := s.findActiveAssignment(ctx, user, lab)
	if err != nil {
		return nil, err
	}

	db := s.DB.WithContext(ctx)
	var taskID *string
	if ref := strings.TrimSpace(req.Task); ref != "" {
		var task models.LabTask
		if err := db.Where("lab_id = ? AND (task_id = ? OR id = ?)", lab.ID, ref, ref).First(&task).Error; err != nil {
			return nil, notFound(err, "task_not_found", "task not found")
		}
		if assigned := a.tasks(); len(assigned) > 0 && !containsTask(assigned, task.ID) {
			return nil, apierr.BadRequest("task_not_assigned", "task is not assigned to this participant")
		}
		taskID = &task.ID
	} else if len(a.tasks()) > 0 {
		return nil, apierr.BadRequest("missing_task", "task is required for this assignment")
	}

	answer := models.Answers{LabID: lab.ID, TaskID: taskID, Datetime: s.now()}
	owner := db.Model(&models.Answers{}).Where("lab_id = ?", lab.ID)
	if a.team != nil {
		answer.TeamID = &a.team.TeamID
		owner = owner.Where("team_id = ?", a.team.TeamID)
	} else {
		answer.UserID = &user.ID
		owner = owner.Where("user_id = ?", user.ID)
	}
	owner = owner.Where("datetime BETWEEN ? AND ?", a.comp.Start, a.comp.Finish)

	var dup int64
	dupQuery := owner.Session(&gorm.Session{})
	if taskID != nil {
		dupQuery = dupQuery.Where("task_id = ?", *taskID)
	} else {
		dupQuery = dupQuery.Where("task_id IS NULL")
	}
	if err := dupQuery.Count(&dup).Error; err != nil {
		return nil, err
	}

	resp := &EndLabResponse{}
	if dup == 0 {
		if err := db.Create(&answer).Error; err != nil {
			return nil, err
		}
		resp.Recorded = true
	}

	done, err := s.assignmentComplete(owner.Session(&gorm.Session{}), a.tasks())
	if err != nil {
		return nil, err
	}
	if done {
		var model interface{} = a.user
		if a.team != nil {
			model = a.team
		}
		if err := db.Model(model).Omit(clause.Associations).Update("done", true).Error; err != nil {
			return nil, err
		}
	}
	resp.Done = done

	if resp.Recorded {
		s.log.Info("answer recorded", "username", user.Username, "lab", lab.Slug, "competition", a.comp.Slug, "done", done)
		s.markChanged(ctx)
	}
	return resp, nil
}

func (s *CompetitionService) assignmentComplete(answers *gorm.DB, assigned []models.LabTask) (bool, error) {
	if len(assigned) == 0 {
		var n int64
		err := answers.Count(&n).Error
		return n > 0, err
	}
	ids := make([]string, 0, len(assigned))
	for _, t := range assigned {
		ids = append(ids, t.ID)
	}
	var solved int64
	err := answers.Where("task_id IN ?", ids).Distinct("task_id").Count(&solved).Error
	return solved >= int64(len(ids)), err
}

func containsTask(tasks []models.LabTask, id string) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}
