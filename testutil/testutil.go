package testutil

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"lab-competition-system/logger"
	"lab-competition-system/models"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error

	dbSeq atomic.Int64
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB opens a private in-memory sqlite database with every model migrated.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=1", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(models.All()...); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return db
}

func SeedPlatoon(tb testing.TB, db *gorm.DB, number int) *models.Platoon {
	tb.Helper()
	p := &models.Platoon{Number: number, Name: fmt.Sprintf("platoon %d", number)}
	if err := db.Create(p).Error; err != nil {
		tb.Fatalf("seed platoon: %v", err)
	}
	return p
}

func SeedUser(tb testing.TB, db *gorm.DB, username string, platoon *models.Platoon) *models.User {
	tb.Helper()
	u := &models.User{Username: username, FirstName: "Ivan", LastName: username}
	if platoon != nil {
		u.PlatoonID = &platoon.ID
	}
	if err := db.Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedTeam(tb testing.TB, db *gorm.DB, name string, members ...*models.User) *models.Team {
	tb.Helper()
	t := &models.Team{Name: name, Slug: strings.ToLower(strings.ReplaceAll(name, " ", "-"))}
	for _, m := range members {
		t.Users = append(t.Users, *m)
	}
	if err := db.Omit("Users.*").Create(t).Error; err != nil {
		tb.Fatalf("seed team: %v", err)
	}
	return t
}

// SeedLab creates a lab with numTasks manual tasks and numLevels levels.
func SeedLab(tb testing.TB, db *gorm.DB, name string, platform models.LabPlatform, numTasks, numLevels int) *models.Lab {
	tb.Helper()
	lab := &models.Lab{
		Name:            name,
		Slug:            strings.ToLower(strings.ReplaceAll(name, " ", "-")),
		Platform:        platform,
		LabType:         models.LabTypeCompetition,
		Nodes:           []byte(`[{"name":"r1"},{"name":"r2"}]`),
		Networks:        []byte(`[{"name":"lan"}]`),
		Connectors:      []byte(`[{"from":"r1","to":"r2"}]`),
		CloudConnectors: []byte(`[{"node":"r1","cloud":"pnet0"}]`),
		AnswerFlag:      "FLAG{" + name + "}",
	}
	if err := db.Create(lab).Error; err != nil {
		tb.Fatalf("seed lab: %v", err)
	}
	for i := 0; i < numTasks; i++ {
		task := models.LabTask{LabID: lab.ID, TaskID: fmt.Sprintf("%d", i+1), Description: fmt.Sprintf("task %d", i+1), Kind: models.TaskKindManual}
		if err := db.Create(&task).Error; err != nil {
			tb.Fatalf("seed task: %v", err)
		}
		lab.Tasks = append(lab.Tasks, task)
	}
	for i := 0; i < numLevels; i++ {
		level := models.LabLevel{LabID: lab.ID, LevelNumber: i + 1, Description: fmt.Sprintf("level %d", i+1)}
		if err := db.Create(&level).Error; err != nil {
			tb.Fatalf("seed level: %v", err)
		}
		lab.Levels = append(lab.Levels, level)
	}
	return lab
}

// SeedAnswer records a submission at the given time.
func SeedAnswer(tb testing.TB, db *gorm.DB, labID string, userID, teamID, taskID *string, at time.Time) *models.Answers {
	tb.Helper()
	a := &models.Answers{LabID: labID, UserID: userID, TeamID: teamID, TaskID: taskID, Datetime: at}
	if err := db.Create(a).Error; err != nil {
		tb.Fatalf("seed answer: %v", err)
	}
	return a
}

func Ptr[T any](v T) *T { return &v }
