package services

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"lab-competition-system/apierr"
	"lab-competition-system/config"
	"lab-competition-system/models"
	"lab-competition-system/testutil"
)

// fakePlatform records every call as "op:arg" and fails ops listed in fail.
type fakePlatform struct {
	mu         sync.Mutex
	calls      []string
	logins     int
	loginDelay time.Duration
	fail       map[string]error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{fail: make(map[string]error)}
}

func (f *fakePlatform) record(op, arg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+arg)
	return f.fail[op]
}

func (f *fakePlatform) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, strings.SplitN(c, ":", 2)[0])
	}
	return out
}

func (f *fakePlatform) args(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		parts := strings.SplitN(c, ":", 2)
		if parts[0] == op {
			out = append(out, parts[1])
		}
	}
	return out
}

func (f *fakePlatform) count(op string) int {
	return len(f.args(op))
}

func (f *fakePlatform) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakePlatform) Login(ctx context.Context, baseURL, username, password string) (*PlatformSession, error) {
	time.Sleep(f.loginDelay)
	f.mu.Lock()
	f.logins++
	err := f.fail["login"]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &PlatformSession{URL: baseURL, Cookie: "sid=42", Token: "csrf"}, nil
}

func (f *fakePlatform) Logout(ctx context.Context, s *PlatformSession) error {
	return f.record("logout", s.URL)
}

func (f *fakePlatform) CreateDirectory(ctx context.Context, s *PlatformSession, basePath, name string) error {
	return f.record("create_directory", basePath+"|"+name)
}

func (f *fakePlatform) CreateLab(ctx context.Context, s *PlatformSession, dir, name string) (string, error) {
	return dir + "/" + name + ".unl", f.record("create_lab", dir+"/"+name)
}

func (f *fakePlatform) DeleteLab(ctx context.Context, s *PlatformSession, labPath string) error {
	return f.record("delete_lab", labPath)
}

func (f *fakePlatform) CreateSession(ctx context.Context, s *PlatformSession, labPath string) (string, error) {
	if err := f.record("create_session", labPath); err != nil {
		return "", err
	}
	return "h-" + labPath, nil
}

func (f *fakePlatform) JoinSession(ctx context.Context, s *PlatformSession, handle string) error {
	return f.record("join_session", handle)
}

func (f *fakePlatform) DestroySession(ctx context.Context, s *PlatformSession, handle string) error {
	return f.record("destroy_session", handle)
}

func (f *fakePlatform) AddNode(ctx context.Context, s *PlatformSession, handle string, params json.RawMessage) error {
	return f.record("add_node", string(params))
}

func (f *fakePlatform) AddNetwork(ctx context.Context, s *PlatformSession, handle string, params json.RawMessage) error {
	return f.record("add_network", string(params))
}

func (f *fakePlatform) AddConnector(ctx context.Context, s *PlatformSession, handle string, params json.RawMessage) error {
	return f.record("add_connector", string(params))
}

func (f *fakePlatform) AddCloudConnector(ctx context.Context, s *PlatformSession, handle string, params json.RawMessage) error {
	return f.record("add_cloud_connector", string(params))
}

func (f *fakePlatform) ChangeWorkspace(ctx context.Context, s *PlatformSession, username, path string) error {
	return f.record("change_workspace", username+"|"+path)
}

type fakeCredentials struct {
	mu      sync.Mutex
	created []string
	deleted []string
	status  string
}

func (f *fakeCredentials) IndexPattern(username string) string {
	return strings.ToLower(username) + "-*"
}

func (f *fakeCredentials) CreateAccount(ctx context.Context, username, password, indexPattern string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, username+"|"+indexPattern)
	if f.status != "" {
		return f.status
	}
	return CredCreated
}

func (f *fakeCredentials) DeleteAccount(ctx context.Context, username string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, username)
	return CredDeleted
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = body
	return nil
}

var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// testEnv wires the services against sqlite and a fake platform with a
// movable clock.
type testEnv struct {
	db       *gorm.DB
	api      *fakePlatform
	sessions *SessionManager
	platform *LabPlatformClient
	notifier *LocalUpdateNotifier
	comps    *CompetitionService
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := testutil.Logger(t)
	env := &testEnv{
		db:       testutil.DB(t),
		api:      newFakePlatform(),
		notifier: NewLocalUpdateNotifier(),
		now:      baseTime,
	}
	env.sessions = NewSessionManager(env.api, config.PlatformConfig{
		URL:      "http://lab.test",
		Username: "admin",
		Password: "secret",
	}, log)
	env.platform = NewLabPlatformClient(env.api, env.sessions, log)
	env.comps = NewCompetitionService(env.db, env.sessions, env.platform, env.notifier, log)
	env.comps.now = env.clock
	return env
}

func (e *testEnv) clock() time.Time { return e.now }

// competition creates a competition over lab running from start to finish
// (relative to baseTime) for the given users.
func (e *testEnv) competition(t *testing.T, lab *models.Lab, numTasks int, users []*models.User, platoons []*models.Platoon) *models.Competition {
	t.Helper()
	in := CompetitionInput{
		LabID:    lab.ID,
		Start:    baseTime.Add(-time.Hour),
		Finish:   baseTime.Add(time.Hour),
		NumTasks: numTasks,
	}
	for _, u := range users {
		in.UserIDs = append(in.UserIDs, u.ID)
	}
	for _, p := range platoons {
		in.PlatoonIDs = append(in.PlatoonIDs, p.ID)
	}
	comp, err := e.comps.CreateCompetition(context.Background(), in)
	if err != nil {
		t.Fatalf("create competition: %v", err)
	}
	return comp
}

func userRows(t *testing.T, db *gorm.DB, competitionID string) map[string]models.Competition2User {
	t.Helper()
	var rows []models.Competition2User
	if err := db.Preload("Tasks").Preload("User").Where("competition_id = ?", competitionID).Find(&rows).Error; err != nil {
		t.Fatalf("load assignments: %v", err)
	}
	out := make(map[string]models.Competition2User, len(rows))
	for _, r := range rows {
		out[r.User.Username] = r
	}
	return out
}

func taskIDs(tasks []models.LabTask) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	return ids
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func assertAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	ae, ok := apierr.As(err)
	if !ok {
		t.Fatalf("expected api error %d/%s, got %v", status, code, err)
	}
	if ae.Status != status || ae.Code != code {
		t.Fatalf("api error: got %d/%s want %d/%s", ae.Status, ae.Code, status, code)
	}
}
