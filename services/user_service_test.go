package services

import (
	"context"
	"net/http"
	"testing"

	"lab-competition-system/models"
	"lab-competition-system/testutil"
)

func TestCreateUserProvisionsAnalyticsAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creds := &fakeCredentials{}
	users := NewUserService(env.db, env.comps, creds, testutil.Logger(t))

	p, err := users.CreatePlatoon(ctx, PlatoonInput{Number: 12, Name: "twelfth"})
	if err != nil {
		t.Fatalf("platoon: %v", err)
	}
	user, status, err := users.CreateUser(ctx, UserInput{Username: " anna ", Password: "pw", PlatoonID: &p.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if user.Username != "anna" || status != CredCreated {
		t.Fatalf("user=%q status=%q", user.Username, status)
	}
	if !sameStrings(creds.created, []string{"anna|anna-*"}) {
		t.Fatalf("credential calls: %v", creds.created)
	}

	_, _, err = users.CreateUser(ctx, UserInput{Username: "anna"})
	assertAPIError(t, err, http.StatusConflict, "user_exists")

	_, _, err = users.CreateUser(ctx, UserInput{Username: "boris", PlatoonID: testutil.Ptr("missing")})
	assertAPIError(t, err, http.StatusBadRequest, "unknown_platoon")

	_, err = users.CreatePlatoon(ctx, PlatoonInput{Number: 12})
	assertAPIError(t, err, http.StatusConflict, "platoon_exists")

	if _, _, err := users.CreateUser(ctx, UserInput{Username: "Vera"}); err != nil {
		t.Fatalf("create Vera: %v", err)
	}
	if last := creds.created[len(creds.created)-1]; last != "Vera|vera-*" {
		t.Fatalf("index pattern should come from the provisioner: %q", last)
	}
}

func TestCreateUserKeepsUserWhenAnalyticsFails(t *testing.T) {
	env := newTestEnv(t)
	creds := &fakeCredentials{status: CredRoleNotCreated}
	users := NewUserService(env.db, env.comps, creds, testutil.Logger(t))

	user, status, err := users.CreateUser(context.Background(), UserInput{Username: "anna"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if status != CredRoleNotCreated {
		t.Fatalf("status: %q", status)
	}
	var n int64
	env.db.Model(&models.User{}).Where("id = ?", user.ID).Count(&n)
	if n != 1 {
		t.Fatalf("user not stored")
	}
}

func TestDeleteUserRemovesEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creds := &fakeCredentials{}
	users := NewUserService(env.db, env.comps, creds, testutil.Logger(t))

	lab := testutil.SeedLab(t, env.db, "Routing", models.PlatformRemote, 2, 0)
	anna := testutil.SeedUser(t, env.db, "anna", nil)
	boris := testutil.SeedUser(t, env.db, "boris", nil)
	testutil.SeedTeam(t, env.db, "Blue", anna, boris)
	comp := env.competition(t, lab, 1, []*models.User{anna, boris}, nil)
	testutil.SeedAnswer(t, env.db, lab.ID, &anna.ID, nil, nil, baseTime)

	status, err := users.DeleteUser(ctx, anna.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if status != CredDeleted || !sameStrings(creds.deleted, []string{"anna"}) {
		t.Fatalf("status=%q deleted=%v", status, creds.deleted)
	}
	if got := env.api.args("delete_lab"); !sameStrings(got, []string{"/anna/routing.unl", "/anna/Routing.unl"}) {
		t.Fatalf("delete_lab: %v", got)
	}

	rows := userRows(t, env.db, comp.ID)
	if _, ok := rows["anna"]; ok || len(rows) != 1 {
		t.Fatalf("assignments left: %v", rows)
	}
	var n int64
	env.db.Model(&models.Answers{}).Where("user_id = ?", anna.ID).Count(&n)
	if n != 0 {
		t.Fatalf("answers left: %d", n)
	}
	env.db.Table("team_users").Where("user_id = ?", anna.ID).Count(&n)
	if n != 0 {
		t.Fatalf("team membership left: %d", n)
	}
	env.db.Model(&models.User{}).Where("id = ?", anna.ID).Count(&n)
	if n != 0 {
		t.Fatalf("user not deleted")
	}

	_, err = users.DeleteUser(ctx, anna.ID)
	assertAPIError(t, err, http.StatusNotFound, "user_not_found")
}

func TestCreateTeamPointsMembersAtTeamWorkspace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	teams := NewTeamService(env.db, env.sessions, env.platform, "/students", testutil.Logger(t))
	anna := testutil.SeedUser(t, env.db, "anna", nil)
	boris := testutil.SeedUser(t, env.db, "boris", nil)

	team, err := teams.CreateTeam(ctx, TeamInput{Name: "Blue Team", MemberIDs: []string{anna.ID, boris.ID}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if team.Slug != "blue-team" || len(team.Users) != 2 {
		t.Fatalf("team: %+v", team)
	}
	if got := env.api.args("create_directory"); !sameStrings(got, []string{"/students|blue-team"}) {
		t.Fatalf("create_directory: %v", got)
	}
	got := env.api.args("change_workspace")
	if len(got) != 2 {
		t.Fatalf("change_workspace: %v", got)
	}
	for _, arg := range got {
		if arg != "anna|/students/blue-team" && arg != "boris|/students/blue-team" {
			t.Fatalf("unexpected workspace change %q", arg)
		}
	}

	_, err = teams.CreateTeam(ctx, TeamInput{Name: "Blue Team"})
	assertAPIError(t, err, http.StatusConflict, "team_exists")

	_, err = teams.CreateTeam(ctx, TeamInput{Name: "Green", MemberIDs: []string{"ghost"}})
	assertAPIError(t, err, http.StatusBadRequest, "unknown_user")
}
