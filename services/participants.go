package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lab-competition-system/models"
)

// TaskChooser overrides random sampling with a predetermined task set
// for a participant (user or team ID).
type TaskChooser func(participantID string) []models.LabTask

// Resolution summarises one participant resolution pass.
type Resolution struct {
	Created      int `json:"created"`
	Removed      int `json:"removed"`
	Participants int `json:"participants"`
}

func preloadCompetition(tx *gorm.DB) *gorm.DB {
	return tx.
		Preload("Lab").
		Preload("Lab.Tasks").
		Preload("Tasks").
		Preload("Platoons").
		Preload("NonPlatoonUsers.Platoon").
		Preload("Teams.Users.Platoon")
}

// participantSet returns the competition's individual participants and
// teams. Platoon members and listed users are merged; in team
// competitions members of participating teams are excluded since the
// team represents them.
func participantSet(tx *gorm.DB, comp *models.Competition) ([]models.User, []models.Team, error) {
	byID := make(map[string]models.User)

	if len(comp.Platoons) > 0 {
		ids := make([]string, 0, len(comp.Platoons))
		for _, p := range comp.Platoons {
			ids = append(ids, p.ID)
		}
		var platoonUsers []models.User
		if err := tx.Preload("Platoon").Where("platoon_id IN ?", ids).Find(&platoonUsers).Error; err != nil {
			return nil, nil, fmt.Errorf("load platoon users: %w", err)
		}
		for _, u := range platoonUsers {
			byID[u.ID] = u
		}
	}
	for _, u := range comp.NonPlatoonUsers {
		byID[u.ID] = u
	}

	var teams []models.Team
	if comp.IsTeam {
		teams = append(teams, comp.Teams...)
		for _, t := range teams {
			for _, m := range t.Users {
				delete(byID, m.ID)
			}
		}
	}

	users := make([]models.User, 0, len(byID))
	for _, u := range byID {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	sort.Slice(teams, func(i, j int) bool { return teams[i].Name < teams[j].Name })
	return users, teams, nil
}

func countParticipants(users []models.User, teams []models.Team) int {
	n := len(users)
	for _, t := range teams {
		n += len(t.Users)
	}
	return n
}

func taskPool(comp *models.Competition) []models.LabTask {
	if len(comp.Tasks) > 0 {
		return comp.Tasks
	}
	return comp.Lab.Tasks
}

// tasksPerParticipant is the number of tasks each participant receives.
func tasksPerParticipant(comp *models.Competition) int {
	n := comp.NumTasks
	if pool := len(taskPool(comp)); n > pool {
		n = pool
	}
	if n < 0 {
		return 0
	}
	return n
}

// sampleTasks draws min(n, len(pool)) tasks uniformly without replacement.
func sampleTasks(pool []models.LabTask, n int) []models.LabTask {
	if n > len(pool) {
		n = len(pool)
	}
	if n <= 0 {
		return nil
	}
	out := make([]models.LabTask, 0, n)
	for _, i := range rand.Perm(len(pool))[:n] {
		out = append(out, pool[i])
	}
	return out
}

// AssignTasksAndLevel gives a newly created assignment the competition's
// default level and its task subset. Existing assignments are left
// untouched so a participant's tasks never change once assigned.
func (s *CompetitionService) AssignTasksAndLevel(tx *gorm.DB, assignment interface{}, comp *models.Competition, created bool, choose TaskChooser) error {
	if !created {
		return nil
	}

	var ownerID string
	switch a := assignment.(type) {
	case *models.Competition2User:
		a.LevelID = comp.LevelID
		ownerID = a.UserID
	case *models.TeamCompetition2Team:
		a.LevelID = comp.LevelID
		ownerID = a.TeamID
	default:
		return fmt.Errorf("unsupported assignment type %T", assignment)
	}

	if comp.LevelID != nil {
		if err := tx.Model(assignment).Update("level_id", *comp.LevelID).Error; err != nil {
			return fmt.Errorf("assign level: %w", err)
		}
	}

	var tasks []models.LabTask
	if choose != nil {
		tasks = choose(ownerID)
	} else {
		tasks = sampleTasks(taskPool(comp), comp.NumTasks)
	}
	if len(tasks) == 0 {
		return nil
	}
	if err := tx.Model(assignment).Association("Tasks").Replace(tasks); err != nil {
		return fmt.Errorf("assign tasks: %w", err)
	}
	return nil
}

// ResolveParticipants brings the assignment rows in line with the
// competition's participant set: missing rows are created, assigned and
// provisioned once; rows for departed participants are torn down and
// removed. Running it again with the same participants changes nothing.
func (s *CompetitionService) ResolveParticipants(ctx context.Context, competitionID string) (*Resolution, error) {
	return s.resolve(ctx, competitionID, nil)
}

func (s *CompetitionService) resolve(ctx context.Context, competitionID string, choose TaskChooser) (*Resolution, error) {
	db := s.DB.WithContext(ctx)

	var comp models.Competition
	if err := preloadCompetition(db).First(&comp, "id = ?", competitionID).Error; err != nil {
		return nil, notFound(err, "competition_not_found", "competition not found")
	}

	var (
		res        Resolution
		newUsers   []models.Competition2User
		newTeams   []models.TeamCompetition2Team
		staleUsers []string
		staleTeams []string
	)

	err := db.Transaction(func(tx *gorm.DB) error {
		users, teams, err := participantSet(tx, &comp)
		if err != nil {
			return err
		}

		var existingUsers []models.Competition2User
		if err := tx.Where("competition_id = ?", comp.ID).Find(&existingUsers).Error; err != nil {
			return err
		}
		haveUser := make(map[string]string, len(existingUsers))
		for _, row := range existingUsers {
			haveUser[row.UserID] = row.ID
		}
		wantUser := make(map[string]bool, len(users))
		for i := range users {
			u := users[i]
			wantUser[u.ID] = true
			if _, ok := haveUser[u.ID]; ok {
				continue
			}
			row := models.Competition2User{CompetitionID: comp.ID, UserID: u.ID}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create assignment for %s: %w", u.Username, err)
			}
			if err := s.AssignTasksAndLevel(tx, &row, &comp, true, choose); err != nil {
				return err
			}
			row.User = &u
			newUsers = append(newUsers, row)
		}
		for userID, rowID := range haveUser {
			if !wantUser[userID] {
				staleUsers = append(staleUsers, rowID)
			}
		}

		var existingTeams []models.TeamCompetition2Team
		if err := tx.Where("competition_id = ?", comp.ID).Find(&existingTeams).Error; err != nil {
			return err
		}
		haveTeam := make(map[string]string, len(existingTeams))
		for _, row := range existingTeams {
			haveTeam[row.TeamID] = row.ID
		}
		wantTeam := make(map[string]bool, len(teams))
		for i := range teams {
			t := teams[i]
			wantTeam[t.ID] = true
			if _, ok := haveTeam[t.ID]; ok {
				continue
			}
			row := models.TeamCompetition2Team{CompetitionID: comp.ID, TeamID: t.ID}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create assignment for team %s: %w", t.Name, err)
			}
			if err := s.AssignTasksAndLevel(tx, &row, &comp, true, choose); err != nil {
				return err
			}
			row.Team = &t
			newTeams = append(newTeams, row)
		}
		for teamID, rowID := range haveTeam {
			if !wantTeam[teamID] {
				staleTeams = append(staleTeams, rowID)
			}
		}

		res.Participants = countParticipants(users, teams)
		comp.Participants = res.Participants
		return tx.Model(&comp).Omit(clause.Associations).Update("participants", res.Participants).Error
	})
	if err != nil {
		return nil, fmt.Errorf("resolve participants of %s: %w", comp.Slug, err)
	}

	for _, row := range newUsers {
		s.Provision(ctx, &comp.Lab, row.User.Username)
	}
	for _, row := range newTeams {
		s.Provision(ctx, &comp.Lab, row.Team.Slug)
	}
	res.Created = len(newUsers) + len(newTeams)

	for _, id := range staleUsers {
		if err := s.removeUserAssignment(ctx, id); err != nil {
			s.log.Error("failed to remove departed participant", "competition", comp.Slug, "assignment", id, "error", err)
			continue
		}
		res.Removed++
	}
	for _, id := range staleTeams {
		if err := s.removeTeamAssignment(ctx, id); err != nil {
			s.log.Error("failed to remove departed team", "competition", comp.Slug, "assignment", id, "error", err)
			continue
		}
		res.Removed++
	}

	s.log.Info("participants resolved", "competition", comp.Slug, "created", res.Created, "removed", res.Removed, "participants", res.Participants)
	s.markChanged(ctx)
	return &res, nil
}

// Provision creates the participant's workspace and topology on the lab
// platform. It runs once per newly created assignment and is never
// retried; failures are logged and left for an operator.
func (s *CompetitionService) Provision(ctx context.Context, lab *models.Lab, name string) {
	_ = s.sessions.WithSession(ctx, lab.Platform, func(ctx context.Context, sess *PlatformSession) error {
		if sess.Disabled() {
			return nil
		}
		if err := s.platform.CreateWorkspace(ctx, sess, lab, name); err != nil {
			provisions.WithLabelValues("error").Inc()
			return nil
		}
		if err := s.platform.ProvisionTopology(ctx, sess, lab, name); err != nil {
			provisions.WithLabelValues("partial").Inc()
			return nil
		}
		provisions.WithLabelValues("ok").Inc()
		return nil
	})
}

func (s *CompetitionService) teardownRemote(ctx context.Context, lab *models.Lab, name string) {
	_ = s.sessions.WithSession(ctx, lab.Platform, func(ctx context.Context, sess *PlatformSession) error {
		_ = s.platform.Teardown(ctx, sess, lab, name)
		return nil
	})
}

// TeardownUserAssignment destroys the user's remote workspace and marks
// the assignment deleted. Already deleted assignments are skipped, so
// repeated calls reach the platform at most once. The bool reports
// whether a teardown was performed.
func (s *CompetitionService) TeardownUserAssignment(ctx context.Context, assignmentID string) (bool, error) {
	db := s.DB.WithContext(ctx)

	var a models.Competition2User
	if err := db.Preload("Competition.Lab").Preload("User").First(&a, "id = ?", assignmentID).Error; err != nil {
		return false, notFound(err, "assignment_not_found", "assignment not found")
	}
	if a.Deleted {
		return false, nil
	}

	s.teardownRemote(ctx, &a.Competition.Lab, a.User.Username)
	if err := db.Model(&a).Omit(clause.Associations).Update("deleted", true).Error; err != nil {
		return true, fmt.Errorf("mark assignment %s deleted: %w", a.ID, err)
	}
	teardowns.WithLabelValues("user").Inc()
	s.log.Info("assignment torn down", "competition", a.Competition.Slug, "username", a.User.Username)
	return true, nil
}

func (s *CompetitionService) TeardownTeamAssignment(ctx context.Context, assignmentID string) (bool, error) {
	db := s.DB.WithContext(ctx)

	var a models.TeamCompetition2Team
	if err := db.Preload("Competition.Lab").Preload("Team").First(&a, "id = ?", assignmentID).Error; err != nil {
		return false, notFound(err, "assignment_not_found", "assignment not found")
	}
	if a.Deleted {
		return false, nil
	}

	s.teardownRemote(ctx, &a.Competition.Lab, a.Team.Slug)
	if err := db.Model(&a).Omit(clause.Associations).Update("deleted", true).Error; err != nil {
		return true, fmt.Errorf("mark team assignment %s deleted: %w", a.ID, err)
	}
	teardowns.WithLabelValues("team").Inc()
	s.log.Info("team assignment torn down", "competition", a.Competition.Slug, "team", a.Team.Name)
	return true, nil
}

func (s *CompetitionService) removeUserAssignment(ctx context.Context, assignmentID string) error {
	if _, err := s.TeardownUserAssignment(ctx, assignmentID); err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.Competition2User{Base: models.Base{ID: assignmentID}}
		if err := tx.Model(&row).Association("Tasks").Clear(); err != nil {
			return err
		}
		return tx.Delete(&row).Error
	})
}

func (s *CompetitionService) removeTeamAssignment(ctx context.Context, assignmentID string) error {
	if _, err := s.TeardownTeamAssignment(ctx, assignmentID); err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.TeamCompetition2Team{Base: models.Base{ID: assignmentID}}
		if err := tx.Model(&row).Association("Tasks").Clear(); err != nil {
			return err
		}
		return tx.Delete(&row).Error
	})
}
