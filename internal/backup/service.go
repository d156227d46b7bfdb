// Package backup provides the operator-facing snapshot service and the
// built-in cron jobs (scheduled backups with retention and Uptime-Kuma
// pings, scheduled restarts).
package backup

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/mcadmin/mc-admin/internal/restic"
	"github.com/mcadmin/mc-admin/pkg/errs"
)

// Service exposes snapshot operations anchored to the servers root.
// Paths handed to restic are always absolute: a server-scoped backup
// with a relative path resolves under the instance's data directory,
// without one it covers the whole project directory.
type Service struct {
	restic      *restic.Client
	serversRoot string
}

func NewService(client *restic.Client, serversRoot string) *Service {
	return &Service{restic: client, serversRoot: serversRoot}
}

// ResolvePath anchors a backup target. Rules:
//   - no serverId: the servers root itself
//   - serverId only: that instance's project directory
//   - serverId + path: the path resolved under the instance's data dir
func (s *Service) ResolvePath(serverID, path string) (string, error) {
	if serverID == "" {
		if path != "" {
			return "", errs.Validation("path requires serverId")
		}
		return s.serversRoot, nil
	}

	project := filepath.Join(s.serversRoot, serverID)
	if path == "" {
		return project, nil
	}

	resolved := filepath.Join(project, "data", path)
	// Reject traversal out of the data directory
	if !strings.HasPrefix(resolved, filepath.Join(project, "data")+string(filepath.Separator)) &&
		resolved != filepath.Join(project, "data") {
		return "", errs.Validation("path %q escapes the server data directory", path)
	}
	return resolved, nil
}

// Backup snapshots a server (or the whole root) and returns the summary
func (s *Service) Backup(ctx context.Context, serverID, path string) (*restic.BackupSummary, error) {
	target, err := s.ResolvePath(serverID, path)
	if err != nil {
		return nil, err
	}
	return s.restic.Backup(ctx, target)
}

// List returns stored snapshots, optionally one by id
func (s *Service) List(ctx context.Context, snapshotID string) ([]restic.Snapshot, error) {
	return s.restic.Snapshots(ctx, snapshotID)
}

// RestorePreview returns the actions a restore would take without
// writing anything
func (s *Service) RestorePreview(ctx context.Context, snapshotID, include string) ([]restic.RestoreAction, error) {
	return s.restic.Restore(ctx, snapshotID, restic.RestoreOptions{Include: include, DryRun: true})
}

// Restore applies a snapshot in place
func (s *Service) Restore(ctx context.Context, snapshotID, include string) error {
	_, err := s.restic.Restore(ctx, snapshotID, restic.RestoreOptions{Include: include})
	return err
}

// Forget applies a retention policy
func (s *Service) Forget(ctx context.Context, policy restic.RetentionPolicy, prune bool) error {
	return s.restic.Forget(ctx, policy, prune)
}

// ForgetSnapshot drops one snapshot
func (s *Service) ForgetSnapshot(ctx context.Context, snapshotID string, prune bool) error {
	return s.restic.ForgetSnapshot(ctx, snapshotID, prune)
}
