package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"lab-competition-system/config"
	"lab-competition-system/logger"
)

// Credential provisioning outcomes.
const (
	CredCreated          = "created"
	CredRoleNotCreated   = "role_not_created"
	CredUserNotCreated   = "user_not_created"
	CredConnectionFailed = "connection_failed"
	CredError            = "error"
	CredDeleted          = "deleted"
	CredDisabled         = "disabled"
)

// CredentialProvisioner creates and removes per-user accounts in the
// analytics system.
type CredentialProvisioner interface {
	IndexPattern(username string) string
	CreateAccount(ctx context.Context, username, password, indexPattern string) string
	DeleteAccount(ctx context.Context, username string) string
}

// CredentialClient talks to an Elasticsearch-style security API: each
// user gets a role granting read access to its own index pattern.
type CredentialClient struct {
	client   *http.Client
	url      string
	username string
	password string
	log      *logger.Logger
}

func NewCredentialClient(client *http.Client, cfg config.CredentialsConfig, log *logger.Logger) *CredentialClient {
	return &CredentialClient{
		client:   client,
		url:      cfg.URL,
		username: cfg.Username,
		password: cfg.Password,
		log:      log.With("service", "CredentialClient"),
	}
}

// lowerName builds a fresh Caser per call; Casers are not safe for
// concurrent use.
func lowerName(s string) string {
	return cases.Lower(language.Und).String(s)
}

// IndexPattern is the analytics index pattern owned by username.
func (c *CredentialClient) IndexPattern(username string) string {
	return lowerName(username) + "-*"
}

func (c *CredentialClient) CreateAccount(ctx context.Context, username, password, indexPattern string) string {
	if c.url == "" {
		return CredDisabled
	}
	name := lowerName(username)

	role := map[string]interface{}{
		"indices": []map[string]interface{}{{
			"names":      []string{lowerName(indexPattern)},
			"privileges": []string{"read", "view_index_metadata"},
		}},
	}
	status, err := c.send(ctx, http.MethodPut, "/_security/role/"+url.PathEscape(name), role)
	if err != nil {
		c.log.Error("credential service unreachable", "username", name, "error", err)
		return CredConnectionFailed
	}
	if status >= 300 {
		c.log.Warn("analytics role not created", "username", name, "status", status)
		return CredRoleNotCreated
	}

	user := map[string]interface{}{
		"password":  password,
		"roles":     []string{name},
		"full_name": username,
	}
	status, err = c.send(ctx, http.MethodPost, "/_security/user/"+url.PathEscape(name), user)
	if err != nil {
		c.log.Error("credential service unreachable", "username", name, "error", err)
		return CredConnectionFailed
	}
	if status >= 300 {
		c.log.Warn("analytics user not created", "username", name, "status", status)
		return CredUserNotCreated
	}
	return CredCreated
}

// DeleteAccount removes the user and its role; a missing user counts as
// deleted.
func (c *CredentialClient) DeleteAccount(ctx context.Context, username string) string {
	if c.url == "" {
		return CredDisabled
	}
	name := lowerName(username)

	status, err := c.send(ctx, http.MethodDelete, "/_security/user/"+url.PathEscape(name), nil)
	if err != nil {
		c.log.Error("credential service unreachable", "username", name, "error", err)
		return CredConnectionFailed
	}
	if status >= 300 && status != http.StatusNotFound {
		c.log.Warn("analytics user not deleted", "username", name, "status", status)
		return CredError
	}
	if status, err := c.send(ctx, http.MethodDelete, "/_security/role/"+url.PathEscape(name), nil); err != nil || (status >= 300 && status != http.StatusNotFound) {
		c.log.Warn("analytics role not deleted", "username", name, "status", status, "error", err)
	}
	return CredDeleted
}

func (c *CredentialClient) send(ctx context.Context, method, path string, in interface{}) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	return resp.StatusCode, nil
}
