package backup

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mcadmin/mc-admin/internal/cron"
	"github.com/mcadmin/mc-admin/internal/restic"
	"github.com/mcadmin/mc-admin/pkg/errs"
)

// Built-in cron job identifiers
const (
	JobBackup        = "backup"
	JobRestartServer = "restart_server"
)

// BackupParams configure one scheduled backup
type BackupParams struct {
	ServerID string `json:"serverId,omitempty"`
	Path     string `json:"path,omitempty"`

	EnableForget bool `json:"enableForget,omitempty"`
	restic.RetentionPolicy
	Prune bool `json:"prune,omitempty"`

	UptimeKumaURL string `json:"uptimeKumaUrl,omitempty" validate:"omitempty,url"`
}

// validateBackupParams enforces the cross-field rules tag validation
// cannot express
func validateBackupParams(v interface{}) error {
	params := v.(*BackupParams)
	if params.Path != "" && params.ServerID == "" {
		return errs.Validation("path requires serverId")
	}
	if params.EnableForget && params.RetentionPolicy.Empty() {
		return errs.Validation("enableForget requires at least one retention field")
	}
	return nil
}

// RestartParams configure one scheduled restart
type RestartParams struct {
	ServerID string `json:"serverId" validate:"required"`
}

// InstanceControl is the slice of the supervisor the restart job needs
type InstanceControl interface {
	IsRunning(ctx context.Context, instanceID string) (bool, error)
	Restart(ctx context.Context, instanceID string) error
}

// Jobs owns the built-in cron job bodies
type Jobs struct {
	service   *Service
	instances InstanceControl
	pinger    *http.Client
}

func NewJobs(service *Service, instances InstanceControl) *Jobs {
	return &Jobs{
		service:   service,
		instances: instances,
		pinger:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Register adds the built-in jobs to the registry
func (j *Jobs) Register(registry *cron.Registry) {
	registry.Register(cron.Registration{
		Identifier:  JobBackup,
		Description: "restic backup of a server (or the whole servers root) with optional retention and Uptime-Kuma ping",
		Fn:          j.runBackup,
		NewParams:   func() interface{} { return &BackupParams{} },
		Validate:    validateBackupParams,
	})
	registry.Register(cron.Registration{
		Identifier:  JobRestartServer,
		Description: "restart a server instance, skipped when it is not running",
		Fn:          j.runRestart,
		NewParams:   func() interface{} { return &RestartParams{} },
	})
}

func (j *Jobs) runBackup(ec *cron.ExecutionContext) error {
	params := ec.Params.(*BackupParams)
	started := time.Now()

	err := j.backup(ec, params)
	if params.UptimeKumaURL != "" {
		j.pushKuma(ec, params.UptimeKumaURL, err, time.Since(started))
	}
	return err
}

func (j *Jobs) backup(ec *cron.ExecutionContext, params *BackupParams) error {
	target, err := j.service.ResolvePath(params.ServerID, params.Path)
	if err != nil {
		return err
	}
	ec.Logf("backing up %s", target)

	summary, err := j.service.restic.Backup(ec.Context(), target)
	if err != nil {
		return err
	}
	ec.Logf("snapshot %s: %d new files, %d bytes added",
		summary.SnapshotID, summary.FilesNew, summary.DataAdded)

	if ec.Cancelled() {
		return cron.ErrCancelled
	}

	if params.EnableForget {
		// A failed forget never fails the backup that succeeded
		if err := j.service.Forget(ec.Context(), params.RetentionPolicy, params.Prune); err != nil {
			ec.Logf("forget failed (backup kept): %v", err)
		} else {
			ec.Log("retention policy applied")
		}
	}
	return nil
}

// pushKuma reports the outcome to an Uptime-Kuma push monitor
func (j *Jobs) pushKuma(ec *cron.ExecutionContext, kumaURL string, runErr error, elapsed time.Duration) {
	query := url.Values{}
	if runErr == nil {
		query.Set("status", "up")
		query.Set("msg", "OK")
		query.Set("ping", fmt.Sprintf("%d", elapsed.Milliseconds()))
	} else {
		query.Set("status", "down")
		query.Set("msg", runErr.Error())
	}

	resp, err := j.pinger.Get(kumaURL + "?" + query.Encode())
	if err != nil {
		ec.Logf("uptime-kuma push failed: %v", err)
		return
	}
	resp.Body.Close()
	ec.Logf("uptime-kuma push: %s", resp.Status)
}

func (j *Jobs) runRestart(ec *cron.ExecutionContext) error {
	params := ec.Params.(*RestartParams)

	running, err := j.instances.IsRunning(ec.Context(), params.ServerID)
	if err != nil {
		return err
	}
	if !running {
		ec.Logf("server %s is not running, skipping restart", params.ServerID)
		return nil
	}

	ec.Logf("restarting server %s", params.ServerID)
	return j.instances.Restart(ec.Context(), params.ServerID)
}
