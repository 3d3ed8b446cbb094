package services

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"lab-competition-system/logger"
	"lab-competition-system/models"
)

// LeaderboardRow is one participant's standing. Team members share their
// team's progress and timestamp.
type LeaderboardRow struct {
	Position  int        `json:"position"`
	Username  string     `json:"username"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Platoon   int        `json:"platoon"`
	Team      string     `json:"team"`
	Progress  int        `json:"progress"`
	Datetime  *time.Time `json:"datetime"`
}

type Leaderboard struct {
	Competition      string           `json:"competition"`
	Lab              string           `json:"lab"`
	Start            time.Time        `json:"start"`
	Finish           time.Time        `json:"finish"`
	TotalTasks       int              `json:"total_tasks"`
	MaxTotalProgress int              `json:"max_total_progress"`
	TotalProgress    int              `json:"total_progress"`
	Solutions        []LeaderboardRow `json:"solutions"`
}

type LeaderboardService struct {
	DB  *gorm.DB
	log *logger.Logger
}

func NewLeaderboardService(db *gorm.DB, log *logger.Logger) *LeaderboardService {
	return &LeaderboardService{DB: db, log: log.With("service", "LeaderboardService")}
}

// tally aggregates one owner's answers.
type tally struct {
	tasks map[string]struct{}
	last  *time.Time
}

func (t *tally) progress(totalTasks int) int {
	if t == nil || len(t.tasks) == 0 {
		return 0
	}
	if totalTasks > 0 {
		return min(len(t.tasks), totalTasks)
	}
	return 1
}

// Solutions computes the ranked standings of the competition with slug.
func (s *LeaderboardService) Solutions(ctx context.Context, slug string) (*Leaderboard, error) {
	db := s.DB.WithContext(ctx)

	var comp models.Competition
	if err := preloadCompetition(db).First(&comp, "slug = ?", slug).Error; err != nil {
		return nil, notFound(err, "competition_not_found", "competition not found")
	}
	return s.Compute(ctx, &comp)
}

// Compute ranks a loaded competition (see preloadCompetition).
func (s *LeaderboardService) Compute(ctx context.Context, comp *models.Competition) (*Leaderboard, error) {
	db := s.DB.WithContext(ctx)

	users, teams, err := participantSet(db, comp)
	if err != nil {
		return nil, err
	}

	var answers []models.Answers
	err = db.Where("lab_id = ? AND datetime BETWEEN ? AND ?", comp.LabID, comp.Start, comp.Finish).
		Find(&answers).Error
	if err != nil {
		return nil, err
	}
	total := tasksPerParticipant(comp)
	byUser := make(map[string]*tally)
	byTeam := make(map[string]*tally)
	for _, a := range answers {
		// with tasks assigned only answers to a task count
		if total > 0 && a.TaskID == nil {
			continue
		}
		var t *tally
		switch {
		case a.UserID != nil:
			t = tallyFor(byUser, *a.UserID)
		case a.TeamID != nil:
			t = tallyFor(byTeam, *a.TeamID)
		default:
			continue
		}
		key := ""
		if a.TaskID != nil {
			key = *a.TaskID
		}
		t.tasks[key] = struct{}{}
		if at := a.Datetime; t.last == nil || at.After(*t.last) {
			t.last = &at
		}
	}

	board := &Leaderboard{
		Competition: comp.Slug,
		Lab:         comp.Lab.Name,
		Start:       comp.Start,
		Finish:      comp.Finish,
		TotalTasks:  total,
		Solutions:   make([]LeaderboardRow, 0, countParticipants(users, teams)),
	}

	for _, u := range users {
		t := byUser[u.ID]
		board.Solutions = append(board.Solutions, newRow(u, "", t, total))
	}
	for _, team := range teams {
		t := byTeam[team.ID]
		for _, m := range team.Users {
			board.Solutions = append(board.Solutions, newRow(m, team.Name, t, total))
		}
	}

	SortLeaderboard(board.Solutions)
	for i := range board.Solutions {
		board.Solutions[i].Position = i + 1
		board.TotalProgress += board.Solutions[i].Progress
	}

	if total > 0 {
		board.MaxTotalProgress = comp.Participants * total
	} else {
		board.MaxTotalProgress = comp.Participants
	}
	return board, nil
}

func tallyFor(m map[string]*tally, id string) *tally {
	t, ok := m[id]
	if !ok {
		t = &tally{tasks: make(map[string]struct{})}
		m[id] = t
	}
	return t
}

func newRow(u models.User, team string, t *tally, total int) LeaderboardRow {
	row := LeaderboardRow{
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Team:      team,
		Progress:  t.progress(total),
	}
	if u.Platoon != nil {
		row.Platoon = u.Platoon.Number
	}
	if t != nil {
		row.Datetime = t.last
	}
	return row
}

// SortLeaderboard orders rows by progress descending, then earliest last
// submission (no submission first), then team name. Username keeps the
// order stable within a team.
func SortLeaderboard(rows []LeaderboardRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Progress != b.Progress {
			return a.Progress > b.Progress
		}
		if !sameTime(a.Datetime, b.Datetime) {
			if a.Datetime == nil {
				return true
			}
			if b.Datetime == nil {
				return false
			}
			return a.Datetime.Before(*b.Datetime)
		}
		if a.Team != b.Team {
			return a.Team < b.Team
		}
		return a.Username < b.Username
	})
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
