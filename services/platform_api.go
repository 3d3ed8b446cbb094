package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var ErrPlatformUnauthorized = errors.New("lab platform rejected session")

// PlatformAPI is the remote lab-orchestration service. Every call except
// Login runs against an authenticated session.
type PlatformAPI interface {
	Login(ctx context.Context, baseURL, username, password string) (*PlatformSession, error)
	Logout(ctx context.Context, s *PlatformSession) error

	CreateDirectory(ctx context.Context, s *PlatformSession, basePath, name string) error
	CreateLab(ctx context.Context, s *PlatformSession, dir, name string) (string, error)
	DeleteLab(ctx context.Context, s *PlatformSession, labPath string) error

	CreateSession(ctx context.Context, s *PlatformSession, labPath string) (string, error)
	JoinSession(ctx context.Context, s *PlatformSession, handle string) error
	DestroySession(ctx context.Context, s *PlatformSession, handle string) error

	AddNode(ctx context.Context, s *PlatformSession, handle string, params json.RawMessage) error
	AddNetwork(ctx context.Context, s *PlatformSession, handle string, params json.RawMessage) error
	AddConnector(ctx context.Context, s *PlatformSession, handle string, params json.RawMessage) error
	AddCloudConnector(ctx context.Context, s *PlatformSession, handle string, params json.RawMessage) error

	ChangeWorkspace(ctx context.Context, s *PlatformSession, username, path string) error
}

// RemoteError is a non-2xx answer from the lab platform.
type RemoteError struct {
	Op     string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("lab platform %s returned %d: %s", e.Op, e.Status, e.Body)
}

type platformHTTP struct {
	client *http.Client
}

// NewPlatformHTTP returns the HTTP implementation of PlatformAPI.
func NewPlatformHTTP(client *http.Client) PlatformAPI {
	return &platformHTTP{client: client}
}

type platformEnvelope struct {
	Code    int             `json:"code"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *platformHTTP) Login(ctx context.Context, baseURL, username, password string) (*PlatformSession, error) {
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
		"html5":    "-1",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &RemoteError{Op: "login", Status: resp.StatusCode, Body: string(msg)}
	}

	var cookies []string
	for _, c := range resp.Cookies() {
		cookies = append(cookies, c.Name+"="+c.Value)
	}
	if len(cookies) == 0 {
		return nil, errors.New("login succeeded without a session cookie")
	}
	return &PlatformSession{
		URL:    baseURL,
		Cookie: strings.Join(cookies, "; "),
		Token:  resp.Header.Get("X-CSRF-Token"),
	}, nil
}

func (p *platformHTTP) Logout(ctx context.Context, s *PlatformSession) error {
	return p.do(ctx, s, "logout", http.MethodGet, "/api/auth/logout", nil, nil)
}

func (p *platformHTTP) CreateDirectory(ctx context.Context, s *PlatformSession, basePath, name string) error {
	return p.do(ctx, s, "create_directory", http.MethodPost, "/api/folders", map[string]string{
		"path": basePath,
		"name": name,
	}, nil)
}

func (p *platformHTTP) CreateLab(ctx context.Context, s *PlatformSession, dir, name string) (string, error) {
	var out struct {
		Path string `json:"path"`
	}
	err := p.do(ctx, s, "create_lab", http.MethodPost, "/api/labs", map[string]string{
		"path": dir,
		"name": name,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Path == "" {
		out.Path = strings.TrimRight(dir, "/") + "/" + name + ".unl"
	}
	return out.Path, nil
}

func (p *platformHTTP) DeleteLab(ctx context.Context, s *PlatformSession, labPath string) error {
	return p.do(ctx, s, "delete_lab", http.MethodDelete, "/api/labs"+escapePath(labPath), nil, nil)
}

func (p *platformHTTP) CreateSession(ctx context.Context, s *PlatformSession, labPath string) (string, error) {
	var out struct {
		Session json.Number `json:"session"`
	}
	err := p.do(ctx, s, "create_session", http.MethodPost, "/api/session/create", map[string]string{
		"path": labPath,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Session == "" {
		return "", errors.New("create_session: empty session handle")
	}
	return out.Session.String(), nil
}

func (p *platformHTTP) JoinSession(ctx context.Context, s *PlatformSession, handle string) error {
	return p.do(ctx, s, "join_session", http.MethodPost, "/api/session/"+url.PathEscape(handle)+"/join", nil, nil)
}

func (p *platformHTTP) DestroySession(ctx context.Context, s *PlatformSession, handle string) error {
	return p.do(ctx, s, "destroy_session", http.MethodDelete, "/api/session/"+url.PathEscape(handle), nil, nil)
}

func (p *platformHTTP) AddNode(ctx context.Context, s *PlatformSession, handle string, params json.RawMessage) error {
	return p.do(ctx, s, "add_node", http.MethodPost, "/api/session/"+url.PathEscape(handle)+"/nodes", params, nil)
}

func (p *platformHTTP) AddNetwork(ctx context.Context, s *PlatformSession, handle string, params json.RawMessage) error {
	return p.do(ctx, s, "add_network", http.MethodPost, "/api/session/"+url.PathEscape(handle)+"/networks", params, nil)
}

func (p *platformHTTP) AddConnector(ctx context.Context, s *PlatformSession, handle string, params json.RawMessage) error {
	return p.do(ctx, s, "add_connector", http.MethodPost, "/api/session/"+url.PathEscape(handle)+"/p2p", params, nil)
}

func (p *platformHTTP) AddCloudConnector(ctx context.Context, s *PlatformSession, handle string, params json.RawMessage) error {
	return p.do(ctx, s, "add_cloud_connector", http.MethodPost, "/api/session/"+url.PathEscape(handle)+"/cloud", params, nil)
}

func (p *platformHTTP) ChangeWorkspace(ctx context.Context, s *PlatformSession, username, path string) error {
	return p.do(ctx, s, "change_workspace", http.MethodPut, "/api/users/"+url.PathEscape(username)+"/workspace", map[string]string{
		"path": path,
	}, nil)
}

func (p *platformHTTP) do(ctx context.Context, s *PlatformSession, op, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.URL+path, body)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Cookie", s.Cookie)
	if s.Token != "" {
		req.Header.Set("X-CSRF-Token", s.Token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s: %w", op, ErrPlatformUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &RemoteError{Op: op, Status: resp.StatusCode, Body: string(msg)}
	}
	if out == nil {
		return nil
	}

	var env platformEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
