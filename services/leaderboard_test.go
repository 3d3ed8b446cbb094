package services

import (
	"context"
	"testing"
	"time"

	"lab-competition-system/models"
	"lab-competition-system/testutil"
)

func TestLeaderboardWithoutTasksCountsOnePointPerParticipant(t *testing.T) {
	env := newTestEnv(t)
	lab := testutil.SeedLab(t, env.db, "Theory", models.PlatformNone, 0, 0)
	p := testutil.SeedPlatoon(t, env.db, 3)
	anna := testutil.SeedUser(t, env.db, "anna", p)
	boris := testutil.SeedUser(t, env.db, "boris", p)
	testutil.SeedUser(t, env.db, "vera", p)
	comp := env.competition(t, lab, 0, nil, []*models.Platoon{p})

	testutil.SeedAnswer(t, env.db, lab.ID, &anna.ID, nil, nil, baseTime.Add(-30*time.Minute))
	testutil.SeedAnswer(t, env.db, lab.ID, &anna.ID, nil, nil, baseTime.Add(-20*time.Minute))
	testutil.SeedAnswer(t, env.db, lab.ID, &boris.ID, nil, nil, baseTime.Add(-10*time.Minute))

	board, err := NewLeaderboardService(env.db, testutil.Logger(t)).Solutions(context.Background(), comp.Slug)
	if err != nil {
		t.Fatalf("solutions: %v", err)
	}

	if len(board.Solutions) != 3 {
		t.Fatalf("rows: got %d want 3", len(board.Solutions))
	}
	wantOrder := []string{"anna", "boris", "vera"}
	wantProgress := []int{1, 1, 0}
	for i, row := range board.Solutions {
		if row.Username != wantOrder[i] || row.Progress != wantProgress[i] || row.Position != i+1 {
			t.Fatalf("row %d: %+v", i, row)
		}
	}
	if board.Solutions[2].Datetime != nil {
		t.Fatalf("no-answer participant should have a null datetime")
	}
	if board.TotalTasks != 0 || board.MaxTotalProgress != 3 || board.TotalProgress != 2 {
		t.Fatalf("totals: tasks=%d max=%d total=%d", board.TotalTasks, board.MaxTotalProgress, board.TotalProgress)
	}
	if board.Solutions[0].Platoon != 3 {
		t.Fatalf("platoon number missing: %+v", board.Solutions[0])
	}
}

func TestLeaderboardRanksByDistinctTasks(t *testing.T) {
	env := newTestEnv(t)
	lab := testutil.SeedLab(t, env.db, "Routing", models.PlatformNone, 3, 0)
	anna := testutil.SeedUser(t, env.db, "anna", nil)
	boris := testutil.SeedUser(t, env.db, "boris", nil)
	vera := testutil.SeedUser(t, env.db, "vera", nil)
	comp := env.competition(t, lab, 2, []*models.User{anna, boris, vera}, nil)

	t1, t2 := &lab.Tasks[0].ID, &lab.Tasks[1].ID
	testutil.SeedAnswer(t, env.db, lab.ID, &boris.ID, nil, t1, baseTime.Add(-50*time.Minute))
	testutil.SeedAnswer(t, env.db, lab.ID, &anna.ID, nil, t1, baseTime.Add(-40*time.Minute))
	testutil.SeedAnswer(t, env.db, lab.ID, &anna.ID, nil, t1, baseTime.Add(-35*time.Minute))
	testutil.SeedAnswer(t, env.db, lab.ID, &anna.ID, nil, t2, baseTime.Add(-30*time.Minute))
	// outside the window
	testutil.SeedAnswer(t, env.db, lab.ID, &boris.ID, nil, t2, baseTime.Add(2*time.Hour))

	board, err := NewLeaderboardService(env.db, testutil.Logger(t)).Solutions(context.Background(), comp.Slug)
	if err != nil {
		t.Fatalf("solutions: %v", err)
	}

	got := make([]string, 0, 3)
	for _, row := range board.Solutions {
		got = append(got, row.Username)
	}
	if !sameStrings(got, []string{"anna", "boris", "vera"}) {
		t.Fatalf("order: %v", got)
	}
	if board.Solutions[0].Progress != 2 || board.Solutions[1].Progress != 1 || board.Solutions[2].Progress != 0 {
		t.Fatalf("progress: %+v", board.Solutions)
	}
	if want := baseTime.Add(-30 * time.Minute); !board.Solutions[0].Datetime.Equal(want) {
		t.Fatalf("last submission: got %v want %v", board.Solutions[0].Datetime, want)
	}
	if board.TotalTasks != 2 || board.MaxTotalProgress != 6 || board.TotalProgress != 3 {
		t.Fatalf("totals: tasks=%d max=%d total=%d", board.TotalTasks, board.MaxTotalProgress, board.TotalProgress)
	}
}

func TestTeamLeaderboardFansOutToMembers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lab := testutil.SeedLab(t, env.db, "Routing", models.PlatformNone, 2, 0)
	anna := testutil.SeedUser(t, env.db, "anna", nil)
	boris := testutil.SeedUser(t, env.db, "boris", nil)
	vera := testutil.SeedUser(t, env.db, "vera", nil)
	team := testutil.SeedTeam(t, env.db, "Blue", anna, boris)

	comp, err := env.comps.CreateCompetition(ctx, CompetitionInput{
		LabID:    lab.ID,
		Start:    baseTime.Add(-time.Hour),
		Finish:   baseTime.Add(time.Hour),
		NumTasks: 2,
		IsTeam:   true,
		UserIDs:  []string{anna.ID, vera.ID},
		TeamIDs:  []string{team.ID},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	testutil.SeedAnswer(t, env.db, lab.ID, nil, &team.ID, &lab.Tasks[0].ID, baseTime.Add(-20*time.Minute))
	testutil.SeedAnswer(t, env.db, lab.ID, nil, &team.ID, &lab.Tasks[1].ID, baseTime.Add(-10*time.Minute))
	testutil.SeedAnswer(t, env.db, lab.ID, &vera.ID, nil, &lab.Tasks[0].ID, baseTime.Add(-5*time.Minute))

	board, err := NewLeaderboardService(env.db, testutil.Logger(t)).Solutions(ctx, comp.Slug)
	if err != nil {
		t.Fatalf("solutions: %v", err)
	}
	if len(board.Solutions) != 3 {
		t.Fatalf("rows: %+v", board.Solutions)
	}
	a, b, v := board.Solutions[0], board.Solutions[1], board.Solutions[2]
	if a.Team != "Blue" || b.Team != "Blue" || v.Team != "" {
		t.Fatalf("team columns: %+v", board.Solutions)
	}
	if a.Progress != 2 || b.Progress != 2 || !a.Datetime.Equal(*b.Datetime) {
		t.Fatalf("members differ: %+v %+v", a, b)
	}
	if v.Username != "vera" || v.Progress != 1 {
		t.Fatalf("individual row: %+v", v)
	}
	if board.TotalProgress != 5 || board.MaxTotalProgress != 6 {
		t.Fatalf("totals: total=%d max=%d", board.TotalProgress, board.MaxTotalProgress)
	}
}

func TestSortLeaderboardTieBreaks(t *testing.T) {
	early := baseTime
	late := baseTime.Add(time.Minute)
	rows := []LeaderboardRow{
		{Username: "late", Progress: 1, Datetime: &late},
		{Username: "teamed", Progress: 1, Datetime: &early, Team: "Alpha"},
		{Username: "none", Progress: 0},
		{Username: "solo", Progress: 1, Datetime: &early},
		{Username: "top", Progress: 3, Datetime: &late},
		{Username: "none-ahead", Progress: 0, Datetime: nil, Team: ""},
	}
	SortLeaderboard(rows)

	want := []string{"top", "solo", "teamed", "late", "none", "none-ahead"}
	for i, row := range rows {
		if row.Username != want[i] {
			got := make([]string, len(rows))
			for j := range rows {
				got[j] = rows[j].Username
			}
			t.Fatalf("order: got %v want %v", got, want)
		}
	}
}

func TestSortLeaderboardNoSubmissionSortsFirstOnTies(t *testing.T) {
	at := baseTime
	rows := []LeaderboardRow{
		{Username: "b", Progress: 0, Datetime: &at},
		{Username: "a", Progress: 0},
	}
	SortLeaderboard(rows)
	if rows[0].Username != "a" {
		t.Fatalf("null datetime should sort first among equal progress: %+v", rows)
	}
}

func TestLeaderboardIgnoresTasklessAnswersWhenTasksAssigned(t *testing.T) {
	env := newTestEnv(t)
	lab := testutil.SeedLab(t, env.db, "Routing", models.PlatformNone, 2, 0)
	anna := testutil.SeedUser(t, env.db, "anna", nil)
	boris := testutil.SeedUser(t, env.db, "boris", nil)
	comp := env.competition(t, lab, 2, []*models.User{anna, boris}, nil)

	testutil.SeedAnswer(t, env.db, lab.ID, &anna.ID, nil, nil, baseTime.Add(-50*time.Minute))
	testutil.SeedAnswer(t, env.db, lab.ID, &anna.ID, nil, &lab.Tasks[0].ID, baseTime.Add(-40*time.Minute))
	testutil.SeedAnswer(t, env.db, lab.ID, &anna.ID, nil, &lab.Tasks[1].ID, baseTime.Add(-30*time.Minute))
	testutil.SeedAnswer(t, env.db, lab.ID, &boris.ID, nil, nil, baseTime.Add(-20*time.Minute))

	board, err := NewLeaderboardService(env.db, testutil.Logger(t)).Solutions(context.Background(), comp.Slug)
	if err != nil {
		t.Fatalf("solutions: %v", err)
	}
	for _, row := range board.Solutions {
		if row.Progress > board.TotalTasks {
			t.Fatalf("%s: progress %d exceeds total %d", row.Username, row.Progress, board.TotalTasks)
		}
	}
	anna0, boris0 := board.Solutions[0], board.Solutions[1]
	if anna0.Username != "anna" || anna0.Progress != 2 {
		t.Fatalf("anna: %+v", anna0)
	}
	if want := baseTime.Add(-30 * time.Minute); !anna0.Datetime.Equal(want) {
		t.Fatalf("anna last submission: %v", anna0.Datetime)
	}
	if boris0.Progress != 0 || boris0.Datetime != nil {
		t.Fatalf("taskless answer counted for boris: %+v", boris0)
	}
	if board.TotalProgress != 2 || board.TotalProgress > board.MaxTotalProgress {
		t.Fatalf("totals: total=%d max=%d", board.TotalProgress, board.MaxTotalProgress)
	}
}
