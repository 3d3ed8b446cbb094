package models_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"lab-competition-system/models"
	"lab-competition-system/testutil"
)

func TestValidateTopology(t *testing.T) {
	cases := []struct {
		name    string
		nodes   string
		wantErr bool
	}{
		{"empty", "", false},
		{"null", "null", false},
		{"array", `[{"name":"r1"}]`, false},
		{"object", `{"name":"r1"}`, true},
		{"scalar", `42`, true},
		{"broken", `[{"name":`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lab := models.Lab{Nodes: []byte(tc.nodes)}
			err := lab.ValidateTopology()
			if tc.wantErr && !errors.Is(err, models.ErrInvalidTopology) {
				t.Fatalf("expected ErrInvalidTopology, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRequiredTaskFields(t *testing.T) {
	if f, ok := models.RequiredTaskFields(models.TaskKindFlag); !ok || len(f) != 1 || f[0] != "answer" {
		t.Fatalf("flag: got %v %v", f, ok)
	}
	if f, ok := models.RequiredTaskFields(models.TaskKindStateCheck); !ok || len(f) != 1 || f[0] != "json_config" {
		t.Fatalf("state_check: got %v %v", f, ok)
	}
	if f, ok := models.RequiredTaskFields(models.TaskKindManual); !ok || len(f) != 0 {
		t.Fatalf("manual: got %v %v", f, ok)
	}
	if _, ok := models.RequiredTaskFields("quiz"); ok {
		t.Fatalf("unknown kind accepted")
	}

	task := models.LabTask{Kind: models.TaskKindFlag}
	if err := task.Validate(); err == nil {
		t.Fatalf("flag task without answer accepted")
	}
	task.Answer = "FLAG{x}"
	if err := task.Validate(); err != nil {
		t.Fatalf("flag task: %v", err)
	}
	check := models.LabTask{Kind: models.TaskKindStateCheck, JSONConfig: []byte(`{"node":"r1"}`)}
	if err := check.Validate(); err != nil {
		t.Fatalf("state_check task: %v", err)
	}
}

func TestCompetitionWindowAndSlug(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := models.Competition{Start: now.Add(time.Hour), Finish: now}
	if err := c.ValidateWindow(now); !errors.Is(err, models.ErrWindowOrder) {
		t.Fatalf("expected ErrWindowOrder, got %v", err)
	}
	c = models.Competition{Start: now.Add(-2 * time.Hour), Finish: now.Add(-time.Hour)}
	if err := c.ValidateWindow(now); !errors.Is(err, models.ErrWindowPassed) {
		t.Fatalf("expected ErrWindowPassed, got %v", err)
	}
	c = models.Competition{Start: now.Add(-time.Hour), Finish: now.Add(time.Hour)}
	if err := c.ValidateWindow(now); err != nil {
		t.Fatalf("valid window: %v", err)
	}
	if got := c.Status(now); got != models.StatusRunning {
		t.Fatalf("status: %s", got)
	}

	s := models.CompetitionSlug("Маршрутизация OSPF", now)
	if s == "" || strings.ContainsAny(s, " :") {
		t.Fatalf("slug not url-safe: %q", s)
	}
	if s != models.CompetitionSlug("Маршрутизация OSPF", now) {
		t.Fatalf("slug not deterministic")
	}
	if s == models.CompetitionSlug("Маршрутизация OSPF", now.Add(time.Minute)) {
		t.Fatalf("slug ignores start")
	}
}

func TestAnswersOwnerExclusiveOr(t *testing.T) {
	db := testutil.DB(t)
	lab := testutil.SeedLab(t, db, "lab one", models.PlatformNone, 0, 0)
	user := testutil.SeedUser(t, db, "student1", nil)
	team := testutil.SeedTeam(t, db, "red team", user)
	now := time.Now()

	neither := &models.Answers{LabID: lab.ID, Datetime: now}
	if err := db.Create(neither).Error; !errors.Is(err, models.ErrAnswerOwner) {
		t.Fatalf("neither: expected ErrAnswerOwner, got %v", err)
	}
	both := &models.Answers{LabID: lab.ID, UserID: &user.ID, TeamID: &team.ID, Datetime: now}
	if err := db.Create(both).Error; !errors.Is(err, models.ErrAnswerOwner) {
		t.Fatalf("both: expected ErrAnswerOwner, got %v", err)
	}
	// The database enforces the same rule when hooks are bypassed.
	if err := db.Exec("INSERT INTO answers (id, lab_id, datetime) VALUES (?, ?, ?)", "raw-1", lab.ID, now).Error; err == nil {
		t.Fatalf("check constraint did not reject an ownerless answer")
	}

	ok := &models.Answers{LabID: lab.ID, TeamID: &team.ID, Datetime: now}
	if err := db.Create(ok).Error; err != nil {
		t.Fatalf("team answer: %v", err)
	}
}
