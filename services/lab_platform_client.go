package services

import (
	"context"
	"encoding/json"
	"errors"
	"path"

	"gorm.io/datatypes"

	"lab-competition-system/logger"
	"lab-competition-system/models"
)

// LabPlatformClient turns provisioning actions into lab platform calls.
// Every method is a no-op on a disabled session. Failures are logged
// here; returned errors only let callers skip dependent steps.
type LabPlatformClient struct {
	api      PlatformAPI
	sessions *SessionManager
	log      *logger.Logger
}

func NewLabPlatformClient(api PlatformAPI, sessions *SessionManager, log *logger.Logger) *LabPlatformClient {
	return &LabPlatformClient{
		api:      api,
		sessions: sessions,
		log:      log.With("service", "LabPlatformClient"),
	}
}

// WorkspaceDir is the directory that holds a participant's labs.
func WorkspaceDir(name string) string {
	return path.Join("/", name)
}

func (c *LabPlatformClient) CreateWorkspace(ctx context.Context, s *PlatformSession, lab *models.Lab, name string) error {
	if s.Disabled() {
		return nil
	}
	labPath, err := c.api.CreateLab(ctx, s, WorkspaceDir(name), lab.Slug)
	c.observe(ctx, "create_lab", err)
	if err != nil {
		c.log.Error("failed to create workspace", "lab", lab.Slug, "participant", name, "error", err)
		return err
	}
	c.log.Info("workspace created", "lab", lab.Slug, "participant", name, "path", labPath)
	return nil
}

// ProvisionTopology adds the lab's nodes, networks, connectors and cloud
// connectors, in that order, inside a config session that is destroyed
// afterwards even when some additions failed.
func (c *LabPlatformClient) ProvisionTopology(ctx context.Context, s *PlatformSession, lab *models.Lab, name string) error {
	if s.Disabled() {
		return nil
	}
	labPath := path.Join(WorkspaceDir(name), lab.Slug+".unl")

	handle, err := c.api.CreateSession(ctx, s, labPath)
	c.observe(ctx, "create_session", err)
	if err != nil {
		c.log.Error("failed to open config session", "lab", lab.Slug, "participant", name, "error", err)
		return err
	}
	defer func() {
		err := c.api.DestroySession(ctx, s, handle)
		c.observe(ctx, "destroy_session", err)
		if err != nil {
			c.log.Error("failed to destroy config session", "lab", lab.Slug, "participant", name, "session", handle, "error", err)
		}
	}()

	err = c.api.JoinSession(ctx, s, handle)
	c.observe(ctx, "join_session", err)
	if err != nil {
		c.log.Error("failed to join config session", "lab", lab.Slug, "participant", name, "session", handle, "error", err)
		return err
	}

	steps := []struct {
		op  string
		raw datatypes.JSON
		add func(context.Context, *PlatformSession, string, json.RawMessage) error
	}{
		{"add_node", lab.Nodes, c.api.AddNode},
		{"add_network", lab.Networks, c.api.AddNetwork},
		{"add_connector", lab.Connectors, c.api.AddConnector},
		{"add_cloud_connector", lab.CloudConnectors, c.api.AddCloudConnector},
	}
	var failed error
	for _, step := range steps {
		items, err := models.TopologyItems(step.raw)
		if err != nil {
			c.log.Error("stored topology is not an array", "lab", lab.Slug, "step", step.op, "error", err)
			failed = errors.Join(failed, err)
			continue
		}
		for _, item := range items {
			err := step.add(ctx, s, handle, item)
			c.observe(ctx, step.op, err)
			if err != nil {
				c.log.Error("failed to add topology element", "lab", lab.Slug, "participant", name, "step", step.op, "error", err)
				failed = errors.Join(failed, err)
			}
		}
	}
	return failed
}

// Teardown deletes the participant's lab keyed by slug and then by raw
// lab name; older workspaces may exist under either.
func (c *LabPlatformClient) Teardown(ctx context.Context, s *PlatformSession, lab *models.Lab, name string) error {
	if s.Disabled() {
		return nil
	}
	var failed error
	for _, key := range []string{lab.Slug, lab.Name} {
		labPath := path.Join(WorkspaceDir(name), key+".unl")
		err := c.api.DeleteLab(ctx, s, labPath)
		c.observe(ctx, "delete_lab", err)
		if err != nil {
			c.log.Warn("failed to delete workspace", "lab", lab.Slug, "participant", name, "path", labPath, "error", err)
			failed = errors.Join(failed, err)
		}
	}
	return failed
}

func (c *LabPlatformClient) ChangeWorkspace(ctx context.Context, s *PlatformSession, username, newPath string) error {
	if s.Disabled() {
		return nil
	}
	err := c.api.ChangeWorkspace(ctx, s, username, newPath)
	c.observe(ctx, "change_workspace", err)
	if err != nil {
		c.log.Error("failed to change workspace", "username", username, "path", newPath, "error", err)
	}
	return err
}

func (c *LabPlatformClient) CreateDirectory(ctx context.Context, s *PlatformSession, basePath, name string) error {
	if s.Disabled() {
		return nil
	}
	err := c.api.CreateDirectory(ctx, s, basePath, name)
	c.observe(ctx, "create_directory", err)
	if err != nil {
		c.log.Error("failed to create directory", "base", basePath, "name", name, "error", err)
	}
	return err
}

// observe counts the call and drops the shared session when the platform
// rejected it, so the next caller logs in again.
func (c *LabPlatformClient) observe(ctx context.Context, op string, err error) {
	observeCall(op, err)
	if errors.Is(err, ErrPlatformUnauthorized) {
		c.sessions.Reset(ctx)
	}
}
