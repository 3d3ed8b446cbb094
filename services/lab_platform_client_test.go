package services

import (
	"context"
	"errors"
	"testing"

	"lab-competition-system/models"
	"lab-competition-system/testutil"
)

func loggedIn(t *testing.T, env *testEnv) *PlatformSession {
	t.Helper()
	s, err := env.sessions.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return s
}

func TestProvisionTopologyStrictOrder(t *testing.T) {
	env := newTestEnv(t)
	lab := testutil.SeedLab(t, env.db, "Routing", models.PlatformRemote, 0, 0)
	sess := loggedIn(t, env)

	if err := env.platform.ProvisionTopology(context.Background(), sess, lab, "alice"); err != nil {
		t.Fatalf("provision: %v", err)
	}

	want := []string{
		"create_session", "join_session",
		"add_node", "add_node",
		"add_network",
		"add_connector",
		"add_cloud_connector",
		"destroy_session",
	}
	got := env.api.ops()
	if !sameStrings(got, want) {
		t.Fatalf("call order:\n got %v\nwant %v", got, want)
	}
	if p := env.api.args("create_session"); len(p) != 1 || p[0] != "/alice/routing.unl" {
		t.Fatalf("unexpected lab path %v", p)
	}
}

func TestProvisionTopologyDestroysSessionAfterFailure(t *testing.T) {
	env := newTestEnv(t)
	lab := testutil.SeedLab(t, env.db, "Routing", models.PlatformRemote, 0, 0)
	env.api.fail["add_network"] = errors.New("no such bridge")
	sess := loggedIn(t, env)

	err := env.platform.ProvisionTopology(context.Background(), sess, lab, "alice")
	if err == nil {
		t.Fatalf("expected the failed addition to be reported")
	}
	ops := env.api.ops()
	if ops[len(ops)-1] != "destroy_session" {
		t.Fatalf("config session not destroyed last: %v", ops)
	}
	if env.api.count("add_cloud_connector") != 1 {
		t.Fatalf("later steps should still run after a failed addition: %v", ops)
	}
}

func TestTeardownDeletesBySlugThenName(t *testing.T) {
	env := newTestEnv(t)
	lab := testutil.SeedLab(t, env.db, "Web Lab", models.PlatformRemote, 0, 0)
	env.api.fail["delete_lab"] = errors.New("not found")
	sess := loggedIn(t, env)

	_ = env.platform.Teardown(context.Background(), sess, lab, "bob")

	got := env.api.args("delete_lab")
	want := []string{"/bob/web-lab.unl", "/bob/Web Lab.unl"}
	if !sameStrings(got, want) {
		t.Fatalf("delete attempts: got %v want %v", got, want)
	}
}

func TestDisabledSessionMakesNoCalls(t *testing.T) {
	env := newTestEnv(t)
	lab := testutil.SeedLab(t, env.db, "Routing", models.PlatformRemote, 0, 0)
	disabled := &PlatformSession{}
	ctx := context.Background()

	_ = env.platform.CreateWorkspace(ctx, disabled, lab, "alice")
	_ = env.platform.ProvisionTopology(ctx, disabled, lab, "alice")
	_ = env.platform.Teardown(ctx, disabled, lab, "alice")
	_ = env.platform.ChangeWorkspace(ctx, disabled, "alice", "/x")
	_ = env.platform.CreateDirectory(ctx, disabled, "/", "x")

	if ops := env.api.ops(); len(ops) != 0 {
		t.Fatalf("expected no remote calls, got %v", ops)
	}
}

func TestRejectedSessionIsReset(t *testing.T) {
	env := newTestEnv(t)
	lab := testutil.SeedLab(t, env.db, "Routing", models.PlatformRemote, 0, 0)
	env.api.fail["create_lab"] = ErrPlatformUnauthorized
	sess := loggedIn(t, env)

	if err := env.platform.CreateWorkspace(context.Background(), sess, lab, "alice"); err == nil {
		t.Fatalf("expected error")
	}
	if _, _, _, err := env.sessions.SessionData(); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("session should be dropped after rejection, got %v", err)
	}
}
