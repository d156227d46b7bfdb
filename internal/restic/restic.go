// Package restic shells out to the restic binary for snapshot
// operations. Repository location and credentials travel via the
// environment; machine-readable output comes from --json.
package restic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mcadmin/mc-admin/pkg/errs"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// Runner executes a restic invocation and returns stdout. Extracted so
// tests can substitute a fake binary.
type Runner interface {
	Run(ctx context.Context, env []string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, env []string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "restic", args...)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return stdout.Bytes(), fmt.Errorf("restic %s: %s", args[0], detail)
	}
	return stdout.Bytes(), nil
}

// Config locates the repository
type Config struct {
	Repository string
	Password   string
	// Insecure runs the repository without a password
	Insecure bool
}

// Client wraps the restic CLI
type Client struct {
	config Config
	runner Runner
}

func NewClient(config Config) *Client {
	return &Client{config: config, runner: execRunner{}}
}

// NewClientWithRunner is used by tests
func NewClientWithRunner(config Config, runner Runner) *Client {
	return &Client{config: config, runner: runner}
}

func (c *Client) env() []string {
	env := []string{"RESTIC_REPOSITORY=" + c.config.Repository}
	if !c.config.Insecure {
		env = append(env, "RESTIC_PASSWORD="+c.config.Password)
	}
	return env
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	if c.config.Insecure {
		args = append(args, "--insecure-no-password")
	}
	logger.Debug("running restic", map[string]interface{}{
		"args": strings.Join(args, " "),
	})
	out, err := c.runner.Run(ctx, c.env(), args...)
	if err != nil {
		return out, errs.External(err, "restic invocation failed")
	}
	return out, nil
}

// BackupSummary is the summary message of a backup run
type BackupSummary struct {
	MessageType         string  `json:"message_type"`
	FilesNew            int     `json:"files_new"`
	FilesChanged        int     `json:"files_changed"`
	FilesUnmodified     int     `json:"files_unmodified"`
	DataAdded           int64   `json:"data_added"`
	TotalFilesProcessed int     `json:"total_files_processed"`
	TotalBytesProcessed int64   `json:"total_bytes_processed"`
	TotalDuration       float64 `json:"total_duration"`
	SnapshotID          string  `json:"snapshot_id"`
}

// Backup snapshots the given path and returns the parsed summary
func (c *Client) Backup(ctx context.Context, path string) (*BackupSummary, error) {
	out, err := c.run(ctx, "backup", path, "--json")
	if err != nil {
		return nil, err
	}

	// Output is one JSON message per line; the summary is the last
	// message_type=summary line.
	var summary *BackupSummary
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var msg BackupSummary
		if json.Unmarshal([]byte(line), &msg) == nil && msg.MessageType == "summary" {
			summary = &msg
		}
	}
	if summary == nil {
		return nil, errs.External(nil, "restic backup produced no summary")
	}
	return summary, nil
}

// Snapshot is one stored snapshot
type Snapshot struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id"`
	Time     time.Time `json:"time"`
	Hostname string    `json:"hostname"`
	Paths    []string  `json:"paths"`
	Tags     []string  `json:"tags"`
}

// Snapshots lists snapshots, optionally restricted to one id
func (c *Client) Snapshots(ctx context.Context, snapshotID string) ([]Snapshot, error) {
	args := []string{"snapshots"}
	if snapshotID != "" {
		args = append(args, snapshotID)
	}
	args = append(args, "--json")

	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	var snapshots []Snapshot
	if err := json.Unmarshal(out, &snapshots); err != nil {
		return nil, errs.External(err, "failed to decode restic snapshots")
	}
	return snapshots, nil
}

// RestoreOptions narrow and stage a restore
type RestoreOptions struct {
	// Include restricts the restore to paths matching the pattern
	Include string
	// DryRun previews the restore without writing anything
	DryRun bool
}

// RestoreAction is one file-level action reported by restore -vv
type RestoreAction struct {
	MessageType string `json:"message_type"`
	Action      string `json:"action"`
	Item        string `json:"item"`
	Size        int64  `json:"size"`
}

// Restore restores a snapshot over / with --delete, trusting the
// snapshot's stored absolute paths. With DryRun it returns the actions
// the restore would take.
func (c *Client) Restore(ctx context.Context, snapshotID string, opts RestoreOptions) ([]RestoreAction, error) {
	args := []string{"restore", snapshotID, "--target", "/", "--delete"}
	if opts.Include != "" {
		args = append(args, "--include", opts.Include)
	}
	if opts.DryRun {
		args = append(args, "--dry-run", "-vv")
	}
	args = append(args, "--json")

	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	var actions []RestoreAction
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var action RestoreAction
		if json.Unmarshal([]byte(line), &action) == nil && action.MessageType == "verbose_status" {
			actions = append(actions, action)
		}
	}
	return actions, nil
}

// RetentionPolicy maps to restic forget's --keep-* flags. Empty fields
// are omitted.
type RetentionPolicy struct {
	KeepLast    int      `json:"keepLast,omitempty"`
	KeepHourly  int      `json:"keepHourly,omitempty"`
	KeepDaily   int      `json:"keepDaily,omitempty"`
	KeepWeekly  int      `json:"keepWeekly,omitempty"`
	KeepMonthly int      `json:"keepMonthly,omitempty"`
	KeepYearly  int      `json:"keepYearly,omitempty"`
	KeepTag     []string `json:"keepTag,omitempty"`
	KeepWithin  string   `json:"keepWithin,omitempty"`
}

// Empty reports whether no retention field is set
func (p RetentionPolicy) Empty() bool {
	return p.KeepLast == 0 && p.KeepHourly == 0 && p.KeepDaily == 0 &&
		p.KeepWeekly == 0 && p.KeepMonthly == 0 && p.KeepYearly == 0 &&
		len(p.KeepTag) == 0 && p.KeepWithin == ""
}

func (p RetentionPolicy) flags() []string {
	var flags []string
	add := func(flag string, value int) {
		if value > 0 {
			flags = append(flags, flag, strconv.Itoa(value))
		}
	}
	add("--keep-last", p.KeepLast)
	add("--keep-hourly", p.KeepHourly)
	add("--keep-daily", p.KeepDaily)
	add("--keep-weekly", p.KeepWeekly)
	add("--keep-monthly", p.KeepMonthly)
	add("--keep-yearly", p.KeepYearly)
	for _, tag := range p.KeepTag {
		flags = append(flags, "--keep-tag", tag)
	}
	if p.KeepWithin != "" {
		flags = append(flags, "--keep-within", p.KeepWithin)
	}
	return flags
}

// Forget applies a retention policy, optionally pruning unreferenced
// data afterwards.
func (c *Client) Forget(ctx context.Context, policy RetentionPolicy, prune bool) error {
	if policy.Empty() {
		return errs.Validation("forget requires at least one retention field")
	}
	args := append([]string{"forget"}, policy.flags()...)
	if prune {
		args = append(args, "--prune")
	}
	_, err := c.run(ctx, args...)
	return err
}

// ForgetSnapshot drops one snapshot by id
func (c *Client) ForgetSnapshot(ctx context.Context, snapshotID string, prune bool) error {
	args := []string{"forget", snapshotID}
	if prune {
		args = append(args, "--prune")
	}
	_, err := c.run(ctx, args...)
	return err
}
