package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lab-competition-system/logger"
	"lab-competition-system/models"
)

// ObjectStore is the object storage the final standings are written to.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// ResultsArchive uploads the final leaderboard of finished competitions
// once none of their assignments is live any more.
type ResultsArchive struct {
	DB          *gorm.DB
	store       ObjectStore
	leaderboard *LeaderboardService
	log         *logger.Logger
	now         func() time.Time
}

// NewResultsArchive returns an archive that does nothing when store is nil.
func NewResultsArchive(db *gorm.DB, store ObjectStore, leaderboard *LeaderboardService, log *logger.Logger) *ResultsArchive {
	return &ResultsArchive{
		DB:          db,
		store:       store,
		leaderboard: leaderboard,
		log:         log.With("service", "ResultsArchive"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func ResultsKey(slug string) string {
	return "results/" + slug + ".json"
}

// ArchiveFinished archives every finished, fully torn down competition
// that has not been archived yet and returns how many it archived.
func (a *ResultsArchive) ArchiveFinished(ctx context.Context) (int, error) {
	if a == nil || a.store == nil {
		return 0, nil
	}
	db := a.DB.WithContext(ctx)

	live := db.Model(&models.Competition2User{}).Select("competition_id").Where("deleted = ?", false)
	liveTeams := db.Model(&models.TeamCompetition2Team{}).Select("competition_id").Where("deleted = ?", false)

	var comps []models.Competition
	err := preloadCompetition(db).
		Where("finish < ? AND archived_at IS NULL", a.now()).
		Where("id NOT IN (?) AND id NOT IN (?)", live, liveTeams).
		Find(&comps).Error
	if err != nil {
		return 0, err
	}

	archived := 0
	for i := range comps {
		comp := &comps[i]
		if err := a.archive(ctx, comp); err != nil {
			a.log.Error("failed to archive results", "competition", comp.Slug, "error", err)
			continue
		}
		archived++
	}
	return archived, nil
}

func (a *ResultsArchive) archive(ctx context.Context, comp *models.Competition) error {
	board, err := a.leaderboard.Compute(ctx, comp)
	if err != nil {
		return fmt.Errorf("compute leaderboard: %w", err)
	}
	body, err := json.Marshal(board)
	if err != nil {
		return err
	}
	if err := a.store.Put(ctx, ResultsKey(comp.Slug), body, "application/json"); err != nil {
		return err
	}
	if err := a.DB.WithContext(ctx).Model(comp).Omit(clause.Associations).Update("archived_at", a.now()).Error; err != nil {
		return fmt.Errorf("mark archived: %w", err)
	}
	a.log.Info("results archived", "competition", comp.Slug, "key", ResultsKey(comp.Slug))
	return nil
}
