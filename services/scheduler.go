// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"lab-competition-system/logger"
	"lab-competition-system/models"
)

const (
	JobExpiredUsers = "teardown_expired_users"
	JobExpiredTeams = "teardown_expired_teams"
	JobPurgeHistory = "purge_job_history"

	userExpiryGrace  = time.Hour
	teamExpiryGrace  = 10 * time.Minute
	historyRetention = 7 * 24 * time.Hour
)

// Scheduler runs the periodic teardown and housekeeping jobs. Each job
// runs in singleton mode: a run never overlaps the previous one.
type Scheduler struct {
	DB      *gorm.DB
	comps   *CompetitionService
	archive *ResultsArchive
	pause   time.Duration
	log     *logger.Logger
	now     func() time.Time

	sched gocron.Scheduler
}

func NewScheduler(db *gorm.DB, comps *CompetitionService, archive *ResultsArchive, pause time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		DB:      db,
		comps:   comps,
		archive: archive,
		pause:   pause,
		log:     log.With("service", "Scheduler"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the jobs and starts the scheduler. Every job runs once
// right away and then on its interval. Jobs receive ctx and stop between
// teardowns once it is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler(
		gocron.WithGlobalJobOptions(
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithEventListeners(
				gocron.BeforeJobRuns(func(_ uuid.UUID, name string) {
					s.log.Debug("job starting", "job", name)
				}),
				gocron.AfterJobRunsWithError(func(_ uuid.UUID, name string, err error) {
					s.log.Error("job failed", "job", name, "error", err)
				}),
			),
		),
	)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	jobs := []struct {
		name  string
		every time.Duration
		run   func(context.Context) error
	}{
		{JobExpiredUsers, time.Hour, func(ctx context.Context) error {
			_, err := s.TeardownExpiredUsers(ctx)
			return err
		}},
		{JobExpiredTeams, 15 * time.Minute, func(ctx context.Context) error {
			_, err := s.TeardownExpiredTeams(ctx)
			return err
		}},
		{JobPurgeHistory, 7 * 24 * time.Hour, func(ctx context.Context) error {
			_, err := s.PurgeJobHistory(ctx)
			return err
		}},
	}
	for _, j := range jobs {
		_, err := sched.NewJob(
			gocron.DurationJob(j.every),
			gocron.NewTask(s.track(ctx, j.name, j.run)),
			gocron.WithName(j.name),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			_ = sched.Shutdown()
			return fmt.Errorf("register job %s: %w", j.name, err)
		}
	}

	sched.Start()
	s.sched = sched
	s.log.Info("scheduler started", "jobs", len(jobs))
	return nil
}

func (s *Scheduler) Shutdown() error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Shutdown()
}

// track wraps a job so every run is recorded in the job history and
// counted.
func (s *Scheduler) track(ctx context.Context, name string, run func(context.Context) error) func() error {
	return func() error {
		started := s.now()
		err := run(ctx)

		exec := models.JobExecution{
			JobName:  name,
			RunTime:  started,
			Duration: s.now().Sub(started).Seconds(),
			Status:   "success",
		}
		result := "ok"
		if err != nil {
			exec.Status = "error"
			exec.Exception = err.Error()
			result = "error"
		}
		jobRuns.WithLabelValues(name, result).Inc()
		if dbErr := s.DB.WithContext(context.WithoutCancel(ctx)).Create(&exec).Error; dbErr != nil {
			s.log.Warn("failed to record job execution", "job", name, "error", dbErr)
		}
		return err
	}
}

// TeardownExpiredUsers tears down individual assignments whose
// competition finished more than an hour ago, one at a time with a pause
// between them. A failed teardown is logged and the batch continues.
func (s *Scheduler) TeardownExpiredUsers(ctx context.Context) (int, error) {
	var rows []models.Competition2User
	err := s.DB.WithContext(ctx).
		Joins("JOIN competitions ON competitions.id = competition2users.competition_id").
		Where("competitions.finish < ? AND competition2users.deleted = ?", s.now().Add(-userExpiryGrace), false).
		Order("competitions.finish").
		Find(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("find expired assignments: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	torn, err := s.teardownAll(ctx, ids, s.comps.TeardownUserAssignment)
	if err != nil {
		return torn, err
	}
	s.archiveFinished(ctx)
	return torn, nil
}

// TeardownExpiredTeams is TeardownExpiredUsers for team assignments,
// with a ten minute grace period.
func (s *Scheduler) TeardownExpiredTeams(ctx context.Context) (int, error) {
	var rows []models.TeamCompetition2Team
	err := s.DB.WithContext(ctx).
		Joins("JOIN competitions ON competitions.id = team_competition2teams.competition_id").
		Where("competitions.finish < ? AND team_competition2teams.deleted = ?", s.now().Add(-teamExpiryGrace), false).
		Order("competitions.finish").
		Find(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("find expired team assignments: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	torn, err := s.teardownAll(ctx, ids, s.comps.TeardownTeamAssignment)
	if err != nil {
		return torn, err
	}
	s.archiveFinished(ctx)
	return torn, nil
}

func (s *Scheduler) teardownAll(ctx context.Context, ids []string, teardown func(context.Context, string) (bool, error)) (int, error) {
	torn := 0
	for i, id := range ids {
		if i > 0 {
			if err := sleepCtx(ctx, s.pause); err != nil {
				return torn, err
			}
		}
		done, err := teardown(ctx, id)
		if err != nil {
			s.log.Error("teardown failed", "assignment", id, "error", err)
			continue
		}
		if done {
			torn++
		}
	}
	if len(ids) > 0 {
		s.log.Info("expired assignments torn down", "found", len(ids), "torn_down", torn)
		s.comps.markChanged(ctx)
	}
	return torn, nil
}

func (s *Scheduler) archiveFinished(ctx context.Context) {
	if n, err := s.archive.ArchiveFinished(ctx); err != nil {
		s.log.Error("results archive failed", "error", err)
	} else if n > 0 {
		s.log.Info("results archived", "competitions", n)
	}
}

// PurgeJobHistory deletes job history older than a week.
func (s *Scheduler) PurgeJobHistory(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).Where("run_time < ?", s.now().Add(-historyRetention)).Delete(&models.JobExecution{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge job history: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.log.Info("job history purged", "rows", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
