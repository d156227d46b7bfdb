// Package supervisor manages the fleet of containerized game server
// instances under a single servers root: one directory per instance with
// a compose file and a data/ volume.
package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mcadmin/mc-admin/internal/compose"
	"github.com/mcadmin/mc-admin/internal/docker"
	"github.com/mcadmin/mc-admin/internal/query"
	"github.com/mcadmin/mc-admin/internal/rcon"
	"github.com/mcadmin/mc-admin/internal/repository"
	"github.com/mcadmin/mc-admin/pkg/errs"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

const queryTimeout = 1500 * time.Millisecond

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ComposeEngine is the slice of docker.ComposeManager the supervisor
// drives an instance through. Tests substitute a fake.
type ComposeEngine interface {
	Created(ctx context.Context, service string) (bool, error)
	Running(ctx context.Context, service string) (bool, error)
	Starting(ctx context.Context, service string) (bool, error)
	Healthy(ctx context.Context, service string) (bool, error)
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Exec(ctx context.Context, service string, cmd ...string) (string, error)
	Stats(ctx context.Context, service string) (*docker.ResourceStats, error)
}

// InstanceInfo is the queryable view of one instance
type InstanceInfo struct {
	ID         string              `json:"id"`
	Status     Status              `json:"status"`
	Properties *compose.Properties `json:"-"`
}

// Supervisor owns the servers root. All compose-dir writers for one
// instance are serialized behind a per-instance mutex.
type Supervisor struct {
	serversRoot string
	servers     *repository.ServerRepository

	newEngine    func(projectPath, composeFile string) ComposeEngine
	queryPlayers func(ctx context.Context, addr string) ([]string, error)

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	engines map[string]ComposeEngine
}

func NewSupervisor(engine *docker.Engine, serversRoot string, servers *repository.ServerRepository) *Supervisor {
	return &Supervisor{
		serversRoot: serversRoot,
		servers:     servers,
		newEngine: func(projectPath, composeFile string) ComposeEngine {
			return docker.NewComposeManager(engine, projectPath, composeFile)
		},
		queryPlayers: queryOnlinePlayers,
		locks:        make(map[string]*sync.Mutex),
		engines:      make(map[string]ComposeEngine),
	}
}

func queryOnlinePlayers(_ context.Context, addr string) ([]string, error) {
	stat, err := query.NewClient(addr, queryTimeout).FullStat()
	if err != nil {
		return nil, err
	}
	return stat.Players, nil
}

func (s *Supervisor) lock(instanceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[instanceID] == nil {
		s.locks[instanceID] = &sync.Mutex{}
	}
	return s.locks[instanceID]
}

func (s *Supervisor) projectDir(instanceID string) string {
	return filepath.Join(s.serversRoot, instanceID)
}

// composePath returns the instance's compose file, or "" when none exists
func (s *Supervisor) composePath(instanceID string) string {
	dir := s.projectDir(instanceID)
	for _, name := range compose.Filenames() {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func (s *Supervisor) engine(instanceID string) ComposeEngine {
	composeFile := s.composePath(instanceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if eng, ok := s.engines[instanceID]; ok {
		return eng
	}
	eng := s.newEngine(s.projectDir(instanceID), composeFile)
	s.engines[instanceID] = eng
	return eng
}

// dropEngine forgets a cached engine after its compose file changed
func (s *Supervisor) dropEngine(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.engines, instanceID)
}

// List returns the ids of all instances on disk, sorted, and syncs the
// server records with them.
func (s *Supervisor) List() ([]string, error) {
	entries, err := os.ReadDir(s.serversRoot)
	if err != nil {
		return nil, errs.Internal(err, "failed to read servers root")
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if s.composePath(entry.Name()) != "" {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)

	if err := s.servers.SyncWithInstances(ids); err != nil {
		logger.Error("server record sync failed", err, nil)
	}
	return ids, nil
}

// Status derives the instance's lifecycle state at query time
func (s *Supervisor) Status(ctx context.Context, instanceID string) (Status, error) {
	if s.composePath(instanceID) == "" {
		return StatusRemoved, nil
	}

	eng := s.engine(instanceID)
	created, err := eng.Created(ctx, compose.ServiceName)
	if err != nil {
		return StatusExists, err
	}
	if !created {
		return StatusExists, nil
	}

	healthy, err := eng.Healthy(ctx, compose.ServiceName)
	if err != nil {
		return StatusCreated, err
	}
	if healthy {
		return StatusHealthy, nil
	}

	starting, err := eng.Starting(ctx, compose.ServiceName)
	if err != nil {
		return StatusCreated, err
	}
	if starting {
		return StatusStarting, nil
	}

	running, err := eng.Running(ctx, compose.ServiceName)
	if err != nil {
		return StatusCreated, err
	}
	if running {
		return StatusRunning, nil
	}
	return StatusCreated, nil
}

// Get returns the instance's current status and compose properties
func (s *Supervisor) Get(ctx context.Context, instanceID string) (*InstanceInfo, error) {
	status, err := s.Status(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if status == StatusRemoved {
		return nil, errs.NotFound("instance %s does not exist", instanceID)
	}

	info := &InstanceInfo{ID: instanceID, Status: status}
	data, err := os.ReadFile(s.composePath(instanceID))
	if err != nil {
		return nil, errs.Internal(err, "failed to read compose file")
	}
	doc, err := compose.Parse(data)
	if err != nil {
		return nil, err
	}
	info.Properties, err = doc.Extract()
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Create validates the compose content and materializes a new instance:
// project dir, compose file and a data/ volume whose ownership matches
// the servers root.
func (s *Supervisor) Create(instanceID string, composeYAML []byte) error {
	if !instanceIDPattern.MatchString(instanceID) {
		return errs.Validation("invalid instance id %q", instanceID)
	}

	lock := s.lock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	if s.composePath(instanceID) != "" {
		return errs.Conflict("instance %s already exists", instanceID)
	}

	doc, err := compose.Parse(composeYAML)
	if err != nil {
		return err
	}
	props, err := doc.Validate(instanceID)
	if err != nil {
		return err
	}

	dir := s.projectDir(instanceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Internal(err, "failed to create instance directory")
	}
	if err := os.WriteFile(filepath.Join(dir, compose.Filenames()[0]), doc.Raw(), 0o644); err != nil {
		return errs.Internal(err, "failed to write compose file")
	}

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return errs.Internal(err, "failed to create data directory")
	}
	if err := chownLike(dataDir, s.serversRoot); err != nil {
		logger.Warn("could not match data dir ownership", map[string]interface{}{
			"instance": instanceID,
			"error":    err.Error(),
		})
	}

	if _, err := s.servers.EnsureActive(instanceID); err != nil {
		return err
	}

	logger.Info("instance created", map[string]interface{}{
		"instance": instanceID,
		"compose":  props.Fingerprint(),
	})
	return nil
}

// chownLike copies uid/gid from a reference path
func chownLike(path, reference string) error {
	info, err := os.Stat(reference)
	if err != nil {
		return err
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	return os.Chown(path, int(stat.Uid), int(stat.Gid))
}

// UpdateCompose replaces the compose file. Only allowed while no
// container exists for the instance.
func (s *Supervisor) UpdateCompose(ctx context.Context, instanceID string, composeYAML []byte) error {
	lock := s.lock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	return s.updateComposeLocked(ctx, instanceID, composeYAML)
}

func (s *Supervisor) updateComposeLocked(ctx context.Context, instanceID string, composeYAML []byte) error {
	status, err := s.Status(ctx, instanceID)
	if err != nil {
		return err
	}
	switch {
	case status == StatusRemoved:
		return errs.NotFound("instance %s does not exist", instanceID)
	case status.AtLeast(StatusCreated):
		return errs.Conflict("instance %s has a container, remove it before changing the compose file", instanceID)
	}

	doc, err := compose.Parse(composeYAML)
	if err != nil {
		return err
	}
	if _, err := doc.Validate(instanceID); err != nil {
		return err
	}

	if err := os.WriteFile(s.composePath(instanceID), doc.Raw(), 0o644); err != nil {
		return errs.Internal(err, "failed to write compose file")
	}
	s.dropEngine(instanceID)
	return nil
}

// Remove deletes the instance directory. Forbidden while a container
// exists; data is gone afterwards, so the caller snapshots first.
func (s *Supervisor) Remove(ctx context.Context, instanceID string) error {
	lock := s.lock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	status, err := s.Status(ctx, instanceID)
	if err != nil {
		return err
	}
	switch {
	case status == StatusRemoved:
		return errs.NotFound("instance %s does not exist", instanceID)
	case status.AtLeast(StatusCreated):
		return errs.Conflict("instance %s has a container, bring it down before removing", instanceID)
	}

	if err := os.RemoveAll(s.projectDir(instanceID)); err != nil {
		return errs.Internal(err, "failed to remove instance directory")
	}
	s.dropEngine(instanceID)

	if err := s.servers.Tombstone(instanceID); err != nil {
		return err
	}
	logger.Info("instance removed", map[string]interface{}{"instance": instanceID})
	return nil
}

func (s *Supervisor) requireExists(instanceID string) error {
	if s.composePath(instanceID) == "" {
		return errs.NotFound("instance %s does not exist", instanceID)
	}
	return nil
}

func (s *Supervisor) Up(ctx context.Context, instanceID string) error {
	if err := s.requireExists(instanceID); err != nil {
		return err
	}
	return s.engine(instanceID).Up(ctx)
}

func (s *Supervisor) Down(ctx context.Context, instanceID string) error {
	if err := s.requireExists(instanceID); err != nil {
		return err
	}
	return s.engine(instanceID).Down(ctx)
}

func (s *Supervisor) Start(ctx context.Context, instanceID string) error {
	if err := s.requireExists(instanceID); err != nil {
		return err
	}
	return s.engine(instanceID).Start(ctx)
}

func (s *Supervisor) Stop(ctx context.Context, instanceID string) error {
	if err := s.requireExists(instanceID); err != nil {
		return err
	}
	return s.engine(instanceID).Stop(ctx)
}

func (s *Supervisor) Restart(ctx context.Context, instanceID string) error {
	if err := s.requireExists(instanceID); err != nil {
		return err
	}
	return s.engine(instanceID).Restart(ctx)
}

// SendRconCommand runs a console command through the in-container
// rcon-cli. Only a healthy instance accepts commands.
func (s *Supervisor) SendRconCommand(ctx context.Context, instanceID, command string) (string, error) {
	status, err := s.Status(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if status == StatusRemoved {
		return "", errs.NotFound("instance %s does not exist", instanceID)
	}
	if status != StatusHealthy {
		return "", errs.Conflict("instance %s is %s, commands need HEALTHY", instanceID, status)
	}

	args := append([]string{"rcon-cli"}, strings.Fields(command)...)
	out, err := s.engine(instanceID).Exec(ctx, compose.ServiceName, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(rcon.StripANSI(out)), nil
}

// ListPlayers returns the authoritative online player list. The UDP
// query protocol is used when the server enables it, RCON `list` is the
// fallback.
func (s *Supervisor) ListPlayers(ctx context.Context, instanceID string) ([]string, error) {
	if err := s.requireExists(instanceID); err != nil {
		return nil, err
	}

	props, err := ReadServerProperties(filepath.Join(s.projectDir(instanceID), "data", "server.properties"))
	if err == nil && props.Bool("enable-query") {
		port := props.Int("query.port", 25565)
		players, err := s.queryPlayers(ctx, query.Addr("localhost", port))
		if err == nil {
			return players, nil
		}
		logger.Debug("query protocol failed, falling back to rcon", map[string]interface{}{
			"instance": instanceID,
			"error":    err.Error(),
		})
	}

	out, err := s.SendRconCommand(ctx, instanceID, "list")
	if err != nil {
		return nil, err
	}
	result, err := rcon.ParseList(out)
	if err != nil {
		return nil, errs.External(err, "unparseable list response from %s", instanceID)
	}
	return result.Players, nil
}

// Stats samples the instance's container resource usage
func (s *Supervisor) Stats(ctx context.Context, instanceID string) (*docker.ResourceStats, error) {
	if err := s.requireExists(instanceID); err != nil {
		return nil, err
	}
	return s.engine(instanceID).Stats(ctx, compose.ServiceName)
}

// DiskSpaceInfo reports the filesystem stats of the instance's data dir
func (s *Supervisor) DiskSpaceInfo(instanceID string) (*DiskSpace, error) {
	if err := s.requireExists(instanceID); err != nil {
		return nil, err
	}
	return statDiskSpace(filepath.Join(s.projectDir(instanceID), "data"))
}

// DataDir returns the instance's world data directory
func (s *Supervisor) DataDir(instanceID string) string {
	return filepath.Join(s.projectDir(instanceID), "data")
}

// LogPath returns the live server log the monitor tails
func (s *Supervisor) LogPath(instanceID string) string {
	return filepath.Join(s.projectDir(instanceID), "data", "logs", "latest.log")
}

// Rebuild tears the instance down, swaps the compose file and brings it
// back up, reporting progress on the channel. The channel is closed by
// the caller; Rebuild only sends while the context is live.
func (s *Supervisor) Rebuild(ctx context.Context, instanceID string, composeYAML []byte, progress chan<- string) error {
	lock := s.lock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.requireExists(instanceID); err != nil {
		return err
	}

	doc, err := compose.Parse(composeYAML)
	if err != nil {
		return err
	}
	if _, err := doc.Validate(instanceID); err != nil {
		return err
	}

	report := func(msg string) {
		select {
		case progress <- msg:
		case <-ctx.Done():
		}
	}

	report("stopping instance")
	if err := s.engine(instanceID).Down(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	report("updating compose file")
	if err := os.WriteFile(s.composePath(instanceID), doc.Raw(), 0o644); err != nil {
		return errs.Internal(err, "failed to write compose file")
	}
	s.dropEngine(instanceID)
	if err := ctx.Err(); err != nil {
		return err
	}

	report("starting instance")
	if err := s.engine(instanceID).Up(ctx); err != nil {
		return err
	}
	report("rebuild complete")
	return nil
}

// IsRunning satisfies the restart job's view of the supervisor
func (s *Supervisor) IsRunning(ctx context.Context, instanceID string) (bool, error) {
	status, err := s.Status(ctx, instanceID)
	if err != nil {
		return false, err
	}
	return status.AtLeast(StatusRunning), nil
}

// HealthyInstanceIDs lists the instances currently at HEALTHY. Errors on
// individual instances are logged and treated as not healthy.
func (s *Supervisor) HealthyInstanceIDs(ctx context.Context) []string {
	ids, err := s.List()
	if err != nil {
		logger.Error("instance listing failed", err, nil)
		return nil
	}

	var healthy []string
	for _, id := range ids {
		status, err := s.Status(ctx, id)
		if err != nil {
			logger.Debug("status check failed", map[string]interface{}{
				"instance": id,
				"error":    err.Error(),
			})
			continue
		}
		if status == StatusHealthy {
			healthy = append(healthy, id)
		}
	}
	return healthy
}

// OnlinePlayers satisfies the tracker reconciler's source interface
func (s *Supervisor) OnlinePlayers(ctx context.Context, instanceID string) ([]string, error) {
	return s.ListPlayers(ctx, instanceID)
}
