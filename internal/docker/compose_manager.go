package docker

import (
	"context"
	"strings"

	"github.com/docker/docker/client"
	"github.com/mcadmin/mc-admin/pkg/errs"
)

// ComposeManager drives one compose project. Lifecycle commands shell out
// to the compose CLI so user compose files behave exactly as they would
// by hand; container state and health are read from the engine API.
type ComposeManager struct {
	engine      *Engine
	projectPath string
	composeFile string
}

// NewComposeManager binds a manager to a project directory and its
// compose file (absolute path).
func NewComposeManager(engine *Engine, projectPath, composeFile string) *ComposeManager {
	return &ComposeManager{
		engine:      engine,
		projectPath: projectPath,
		composeFile: composeFile,
	}
}

// ProjectPath returns the compose project directory
func (m *ComposeManager) ProjectPath() string {
	return m.projectPath
}

func (m *ComposeManager) compose(ctx context.Context, args ...string) (string, error) {
	base := []string{"compose", "-f", m.composeFile, "--project-directory", m.projectPath}
	out, err := m.engine.runner.Run(ctx, "docker", append(base, args...)...)
	if err != nil {
		return out, errs.External(err, "compose command failed")
	}
	return out, nil
}

// Up creates and starts the service in the background
func (m *ComposeManager) Up(ctx context.Context) error {
	_, err := m.compose(ctx, "up", "-d")
	return err
}

// Down stops and removes the service's container
func (m *ComposeManager) Down(ctx context.Context) error {
	_, err := m.compose(ctx, "down")
	return err
}

// Start starts an already created container
func (m *ComposeManager) Start(ctx context.Context) error {
	_, err := m.compose(ctx, "start")
	return err
}

// Stop stops the container without removing it
func (m *ComposeManager) Stop(ctx context.Context) error {
	_, err := m.compose(ctx, "stop")
	return err
}

// Restart restarts the container
func (m *ComposeManager) Restart(ctx context.Context) error {
	_, err := m.compose(ctx, "restart")
	return err
}

// Exec runs a command inside the service container and returns its
// combined output untrimmed.
func (m *ComposeManager) Exec(ctx context.Context, service string, cmd ...string) (string, error) {
	args := append([]string{"exec", "-T", service}, cmd...)
	return m.compose(ctx, args...)
}

// ContainerID resolves the service's container id, or "" when no
// container has been created.
func (m *ComposeManager) ContainerID(ctx context.Context, service string) (string, error) {
	out, err := m.compose(ctx, "ps", "--all", "-q", service)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Created reports whether the service's container exists
func (m *ComposeManager) Created(ctx context.Context, service string) (bool, error) {
	id, err := m.ContainerID(ctx, service)
	if err != nil {
		return false, err
	}
	return id != "", nil
}

// Running reports whether the container process is running
func (m *ComposeManager) Running(ctx context.Context, service string) (bool, error) {
	state, err := m.inspectState(ctx, service)
	if err != nil || state == nil {
		return false, err
	}
	return state.running, nil
}

// Starting reports whether the container healthcheck is in "starting"
func (m *ComposeManager) Starting(ctx context.Context, service string) (bool, error) {
	state, err := m.inspectState(ctx, service)
	if err != nil || state == nil {
		return false, err
	}
	return state.running && state.health == "starting", nil
}

// Healthy reports whether the container is running and its healthcheck
// passes. A running container without a healthcheck counts as healthy;
// the engine reports no health state for it.
func (m *ComposeManager) Healthy(ctx context.Context, service string) (bool, error) {
	state, err := m.inspectState(ctx, service)
	if err != nil || state == nil {
		return false, err
	}
	if !state.running {
		return false, nil
	}
	return state.health == "healthy" || state.health == "", nil
}

type containerState struct {
	running bool
	health  string // "", "starting", "healthy", "unhealthy"
}

func (m *ComposeManager) inspectState(ctx context.Context, service string) (*containerState, error) {
	id, err := m.ContainerID(ctx, service)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}

	inspect, err := m.engine.client.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, errs.External(err, "container inspect failed")
	}

	state := &containerState{}
	if inspect.State != nil {
		state.running = inspect.State.Running
		if inspect.State.Health != nil {
			state.health = inspect.State.Health.Status
		}
	}
	return state, nil
}
