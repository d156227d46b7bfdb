package docker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/docker/docker/client"
)

// Engine owns the process-wide Docker SDK client. Compose lifecycle goes
// through the compose CLI; state, health and stats come from the API.
type Engine struct {
	client *client.Client
	runner CommandRunner
}

// CommandRunner executes an external command and returns its combined
// output. Tests substitute a fake.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}

// NewEngine connects to the Docker daemon
func NewEngine() (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Engine{client: cli, runner: execRunner{}}, nil
}

// NewEngineWithClient builds an engine around an existing client and
// runner, for tests.
func NewEngineWithClient(cli *client.Client, runner CommandRunner) *Engine {
	return &Engine{client: cli, runner: runner}
}

// Client exposes the raw SDK client
func (e *Engine) Client() *client.Client {
	return e.client
}

// Close releases the SDK client
func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
