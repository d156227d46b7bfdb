package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mcadmin/mc-admin/internal/docker"
	"github.com/mcadmin/mc-admin/internal/models"
	"github.com/mcadmin/mc-admin/internal/repository"
	"github.com/mcadmin/mc-admin/pkg/errs"
)

type fakeEngine struct {
	mu       sync.Mutex
	created  bool
	running  bool
	starting bool
	healthy  bool
	execOut  string
	execErr  error
	calls    []string
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) Created(context.Context, string) (bool, error)  { return f.created, nil }
func (f *fakeEngine) Running(context.Context, string) (bool, error)  { return f.running, nil }
func (f *fakeEngine) Starting(context.Context, string) (bool, error) { return f.starting, nil }
func (f *fakeEngine) Healthy(context.Context, string) (bool, error)  { return f.healthy, nil }

func (f *fakeEngine) Up(context.Context) error {
	f.record("up")
	f.created, f.running, f.healthy = true, true, true
	return nil
}

func (f *fakeEngine) Down(context.Context) error {
	f.record("down")
	f.created, f.running, f.starting, f.healthy = false, false, false, false
	return nil
}

func (f *fakeEngine) Start(context.Context) error {
	f.record("start")
	f.running = true
	return nil
}

func (f *fakeEngine) Stop(context.Context) error {
	f.record("stop")
	f.running, f.healthy = false, false
	return nil
}

func (f *fakeEngine) Restart(context.Context) error {
	f.record("restart")
	return nil
}

func (f *fakeEngine) Exec(_ context.Context, _ string, cmd ...string) (string, error) {
	f.record("exec " + fmt.Sprint(cmd))
	return f.execOut, f.execErr
}

func (f *fakeEngine) Stats(context.Context, string) (*docker.ResourceStats, error) {
	return &docker.ResourceStats{CPUPercent: 12.5, MemoryBytes: 1 << 30}, nil
}

type fixture struct {
	sup     *Supervisor
	root    string
	engines map[string]*fakeEngine
	db      *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ServerRecord{}))

	fx := &fixture{
		root:    t.TempDir(),
		engines: make(map[string]*fakeEngine),
		db:      db,
	}
	fx.sup = &Supervisor{
		serversRoot: fx.root,
		servers:     repository.NewServerRepository(db),
		newEngine: func(projectPath, _ string) ComposeEngine {
			id := filepath.Base(projectPath)
			if fx.engines[id] == nil {
				fx.engines[id] = &fakeEngine{}
			}
			return fx.engines[id]
		},
		queryPlayers: func(context.Context, string) ([]string, error) {
			return nil, fmt.Errorf("query disabled in test")
		},
		locks:   make(map[string]*sync.Mutex),
		engines: make(map[string]ComposeEngine),
	}
	return fx
}

func (fx *fixture) engine(id string) *fakeEngine {
	if fx.engines[id] == nil {
		fx.engines[id] = &fakeEngine{}
	}
	return fx.engines[id]
}

func composeYAML(id string) []byte {
	return []byte(fmt.Sprintf(`services:
  mc:
    container_name: mc-%s
    image: itzg/minecraft-server:java21
    environment:
      TYPE: PAPER
      VERSION: "1.21"
      MEMORY: 4G
    ports:
      - "25565:25565"
      - "25575:25575"
`, id))
}

func TestCreateMaterializesInstance(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.sup.Create("survival", composeYAML("survival")))

	assert.FileExists(t, filepath.Join(fx.root, "survival", "docker-compose.yml"))
	assert.DirExists(t, filepath.Join(fx.root, "survival", "data"))

	var rec models.ServerRecord
	require.NoError(t, fx.db.Where("server_id = ?", "survival").First(&rec).Error)
	assert.Equal(t, models.ServerRecordActive, rec.Status)
}

func TestCreateConflictsOnExisting(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.sup.Create("survival", composeYAML("survival")))

	err := fx.sup.Create("survival", composeYAML("survival"))
	assert.True(t, errs.IsConflict(err))
}

func TestCreateRejectsWrongContainerName(t *testing.T) {
	fx := newFixture(t)

	err := fx.sup.Create("survival", composeYAML("other"))
	assert.True(t, errs.IsValidation(err))
	assert.NoDirExists(t, filepath.Join(fx.root, "survival"))
}

func TestCreateRejectsBadID(t *testing.T) {
	fx := newFixture(t)
	assert.True(t, errs.IsValidation(fx.sup.Create("../escape", composeYAML("escape"))))
	assert.True(t, errs.IsValidation(fx.sup.Create("UPPER", composeYAML("UPPER"))))
}

func TestStatusLadder(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	status, err := fx.sup.Status(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, StatusRemoved, status)

	require.NoError(t, fx.sup.Create("survival", composeYAML("survival")))
	engine := fx.engine("survival")

	cases := []struct {
		name    string
		mutate  func()
		want    Status
	}{
		{"exists", func() {}, StatusExists},
		{"created", func() { engine.created = true }, StatusCreated},
		{"running", func() { engine.running = true }, StatusRunning},
		{"starting", func() { engine.starting = true }, StatusStarting},
		{"healthy", func() { engine.healthy = true }, StatusHealthy},
	}
	for _, tc := range cases {
		tc.mutate()
		status, err := fx.sup.Status(ctx, "survival")
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, status, tc.name)
	}
}

func TestGetReportsTypedStatus(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.sup.Create("survival", composeYAML("survival")))
	require.NoError(t, fx.sup.Up(ctx, "survival"))

	info, err := fx.sup.Get(ctx, "survival")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, info.Status)
	assert.True(t, info.Status.AtLeast(StatusRunning))

	// The JSON contract stays the status name, not the numeric level
	body, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"status":"HEALTHY"`)
}

func TestUpdateComposeOnlyBeforeContainer(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.sup.Create("survival", composeYAML("survival")))

	require.NoError(t, fx.sup.UpdateCompose(ctx, "survival", composeYAML("survival")))

	fx.engine("survival").created = true
	err := fx.sup.UpdateCompose(ctx, "survival", composeYAML("survival"))
	assert.True(t, errs.IsConflict(err))
}

func TestRemoveForbiddenWithContainer(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.sup.Create("survival", composeYAML("survival")))

	fx.engine("survival").created = true
	assert.True(t, errs.IsConflict(fx.sup.Remove(ctx, "survival")))

	fx.engine("survival").created = false
	require.NoError(t, fx.sup.Remove(ctx, "survival"))
	assert.NoDirExists(t, filepath.Join(fx.root, "survival"))

	var rec models.ServerRecord
	require.NoError(t, fx.db.Where("server_id = ?", "survival").First(&rec).Error)
	assert.Equal(t, models.ServerRecordRemoved, rec.Status)
}

func TestListSortsAndSyncsRecords(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.sup.Create("zulu", composeYAML("zulu")))
	require.NoError(t, fx.sup.Create("alpha", composeYAML("alpha")))

	ids, err := fx.sup.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zulu"}, ids)

	// A directory vanishing outside our control gets tombstoned on list
	require.NoError(t, os.RemoveAll(filepath.Join(fx.root, "zulu")))
	_, err = fx.sup.List()
	require.NoError(t, err)

	var rec models.ServerRecord
	require.NoError(t, fx.db.Where("server_id = ?", "zulu").First(&rec).Error)
	assert.Equal(t, models.ServerRecordRemoved, rec.Status)
}

func TestSendRconCommandRequiresHealthy(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.sup.Create("survival", composeYAML("survival")))

	_, err := fx.sup.SendRconCommand(ctx, "survival", "list")
	assert.True(t, errs.IsConflict(err))

	engine := fx.engine("survival")
	engine.created, engine.running, engine.healthy = true, true, true
	engine.execOut = "\x1b[32mSeed: [12345]\x1b[0m\n"

	out, err := fx.sup.SendRconCommand(ctx, "survival", "seed")
	require.NoError(t, err)
	assert.Equal(t, "Seed: [12345]", out)
	assert.Contains(t, engine.calls, "exec [rcon-cli seed]")
}

func TestListPlayersFallsBackToRcon(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.sup.Create("survival", composeYAML("survival")))

	engine := fx.engine("survival")
	engine.created, engine.running, engine.healthy = true, true, true
	engine.execOut = "There are 2 of a max of 20 players online: Alice, Bob"

	players, err := fx.sup.ListPlayers(ctx, "survival")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, players)
}

func TestListPlayersPrefersQueryWhenEnabled(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.sup.Create("survival", composeYAML("survival")))

	propsPath := filepath.Join(fx.root, "survival", "data", "server.properties")
	require.NoError(t, os.WriteFile(propsPath, []byte("enable-query=true\nquery.port=25565\n"), 0o644))

	var queriedAddr string
	fx.sup.queryPlayers = func(_ context.Context, addr string) ([]string, error) {
		queriedAddr = addr
		return []string{"Carol"}, nil
	}

	players, err := fx.sup.ListPlayers(ctx, "survival")
	require.NoError(t, err)
	assert.Equal(t, []string{"Carol"}, players)
	assert.Equal(t, "localhost:25565", queriedAddr)
}

func TestHealthyInstanceIDs(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.sup.Create("up", composeYAML("up")))
	require.NoError(t, fx.sup.Create("down", composeYAML("down")))

	engine := fx.engine("up")
	engine.created, engine.running, engine.healthy = true, true, true

	assert.Equal(t, []string{"up"}, fx.sup.HealthyInstanceIDs(ctx))
}

func TestIsRunning(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.sup.Create("survival", composeYAML("survival")))

	running, err := fx.sup.IsRunning(ctx, "survival")
	require.NoError(t, err)
	assert.False(t, running)

	engine := fx.engine("survival")
	engine.created, engine.running = true, true
	running, err = fx.sup.IsRunning(ctx, "survival")
	require.NoError(t, err)
	assert.True(t, running)
}

func TestRebuildSequence(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.sup.Create("survival", composeYAML("survival")))

	engine := fx.engine("survival")
	engine.created, engine.running, engine.healthy = true, true, true

	progress := make(chan string, 16)
	require.NoError(t, fx.sup.Rebuild(ctx, "survival", composeYAML("survival"), progress))
	close(progress)

	var messages []string
	for msg := range progress {
		messages = append(messages, msg)
	}
	assert.Equal(t, []string{
		"stopping instance",
		"updating compose file",
		"starting instance",
		"rebuild complete",
	}, messages)
	assert.Equal(t, []string{"down", "up"}, engine.calls)
}

func TestRebuildHonorsCancellation(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.sup.Create("survival", composeYAML("survival")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	progress := make(chan string, 16)
	err := fx.sup.Rebuild(ctx, "survival", composeYAML("survival"), progress)
	assert.ErrorIs(t, err, context.Canceled)

	engine := fx.engine("survival")
	assert.NotContains(t, engine.calls, "up", "cancelled rebuild must not bring the instance up")
}

func TestDiskSpaceInfo(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.sup.Create("survival", composeYAML("survival")))

	space, err := fx.sup.DiskSpaceInfo("survival")
	require.NoError(t, err)
	assert.Positive(t, space.TotalBytes)
	assert.Equal(t, space.TotalBytes-space.FreeBytes, space.UsedBytes)
}

func TestReadServerProperties(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.properties")
	content := "# comment\nenable-query=true\nquery.port=25566\nmotd=A Minecraft Server\nbroken line\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	props, err := ReadServerProperties(path)
	require.NoError(t, err)
	assert.True(t, props.Bool("enable-query"))
	assert.Equal(t, 25566, props.Int("query.port", 25565))
	assert.Equal(t, 25565, props.Int("missing", 25565))
	assert.Equal(t, "A Minecraft Server", props["motd"])
}
