package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"lab-competition-system/config"
	"lab-competition-system/logger"
	"lab-competition-system/models"
)

var ErrNotAuthenticated = errors.New("lab platform session is not authenticated")

// PlatformSession is the shared authenticated session on the lab
// platform. A session with an empty URL is the disabled session: every
// remote operation run with it is skipped.
type PlatformSession struct {
	URL    string
	Cookie string
	Token  string
}

func (s *PlatformSession) Disabled() bool {
	return s == nil || s.URL == ""
}

// SessionManager owns the single process-wide login to the lab platform.
// Only state transitions happen under mu; remote operations made with the
// returned session run without holding it.
type SessionManager struct {
	api      PlatformAPI
	url      string
	username string
	password string
	log      *logger.Logger

	mu      sync.Mutex
	session *PlatformSession
}

func NewSessionManager(api PlatformAPI, cfg config.PlatformConfig, log *logger.Logger) *SessionManager {
	return &SessionManager{
		api:      api,
		url:      cfg.URL,
		username: cfg.Username,
		password: cfg.Password,
		log:      log.With("service", "SessionManager"),
	}
}

// EnsureSession returns the shared session, logging in only when there
// is none yet.
func (m *SessionManager) EnsureSession(ctx context.Context) (*PlatformSession, error) {
	return m.Login(ctx)
}

// Login is idempotent: concurrent callers wait on mu and all but the
// first find the session already established.
func (m *SessionManager) Login(ctx context.Context) (*PlatformSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return m.session, nil
	}
	if m.url == "" {
		m.session = &PlatformSession{}
		m.log.Info("lab platform URL not configured, remote operations disabled")
		return m.session, nil
	}

	sess, err := m.api.Login(ctx, m.url, m.username, m.password)
	observeCall("login", err)
	if err != nil {
		m.log.Error("lab platform login failed", "url", m.url, "username", m.username, "error", err)
		return nil, fmt.Errorf("lab platform login: %w", err)
	}
	m.session = sess
	m.log.Info("lab platform session established", "url", m.url)
	return sess, nil
}

// Logout drops the shared session. Remote logout errors are logged only;
// local state is always cleared.
func (m *SessionManager) Logout(ctx context.Context) {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.mu.Unlock()

	if sess.Disabled() {
		return
	}
	err := m.api.Logout(ctx, sess)
	observeCall("logout", err)
	if err != nil {
		m.log.Warn("lab platform logout failed", "url", sess.URL, "error", err)
	}
}

// Reset is Logout under the name used after the platform rejects a session.
func (m *SessionManager) Reset(ctx context.Context) {
	m.Logout(ctx)
}

// SessionData returns the session credentials. Without a prior login it
// fails with ErrNotAuthenticated, except in disabled mode.
func (m *SessionManager) SessionData() (url, cookie, token string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		if m.url == "" {
			return "", "", "", nil
		}
		return "", "", "", ErrNotAuthenticated
	}
	return m.session.URL, m.session.Cookie, m.session.Token, nil
}

// WithSession runs op with a valid session when platform needs the
// remote service, and with a nil session otherwise. A failed login is
// logged and op runs with the disabled session, so callers never see
// remote unavailability.
func (m *SessionManager) WithSession(ctx context.Context, platform models.LabPlatform, op func(ctx context.Context, s *PlatformSession) error) error {
	if !platform.RequiresRemote() {
		return op(ctx, nil)
	}
	sess, err := m.EnsureSession(ctx)
	if err != nil {
		m.log.Warn("running remote operation without a session", "platform", platform, "error", err)
		sess = &PlatformSession{}
	}
	return op(ctx, sess)
}
