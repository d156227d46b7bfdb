package repository

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mcadmin/mc-admin/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

func TestEnsureActiveIsIdempotent(t *testing.T) {
	servers := NewServerRepository(openTestDB(t))

	first, err := servers.EnsureActive("survival")
	require.NoError(t, err)
	second, err := servers.EnsureActive("survival")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestTombstoneRetiresActiveRow(t *testing.T) {
	servers := NewServerRepository(openTestDB(t))

	rec, err := servers.EnsureActive("survival")
	require.NoError(t, err)
	require.NoError(t, servers.Tombstone("survival"))

	active, err := servers.FindActive("survival")
	require.NoError(t, err)
	assert.Nil(t, active)

	// Re-creating the same id starts a fresh row, the tombstone stays
	fresh, err := servers.EnsureActive("survival")
	require.NoError(t, err)
	assert.NotEqual(t, rec.ID, fresh.ID)

	old, err := servers.FindByID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ServerRecordRemoved, old.Status)
}

func TestSyncWithInstances(t *testing.T) {
	servers := NewServerRepository(openTestDB(t))

	_, err := servers.EnsureActive("survival")
	require.NoError(t, err)
	_, err = servers.EnsureActive("creative")
	require.NoError(t, err)

	require.NoError(t, servers.SyncWithInstances([]string{"survival", "skyblock"}))

	active, err := servers.FindAllActive()
	require.NoError(t, err)
	ids := make([]string, 0, len(active))
	for _, rec := range active {
		ids = append(ids, rec.ServerID)
	}
	assert.ElementsMatch(t, []string{"survival", "skyblock"}, ids)

	creative, err := servers.FindActive("creative")
	require.NoError(t, err)
	assert.Nil(t, creative)
}

func TestUpsertByUUIDTracksRenames(t *testing.T) {
	players := NewPlayerRepository(openTestDB(t))

	first, err := players.UpsertByUUID("069a79f444e94726a5befca90e38aaf5", "Notch")
	require.NoError(t, err)
	renamed, err := players.UpsertByUUID("069a79f444e94726a5befca90e38aaf5", "NotchRenamed")
	require.NoError(t, err)

	assert.Equal(t, first.ID, renamed.ID)
	assert.Equal(t, "NotchRenamed", renamed.CurrentName)

	byName, err := players.FindByName("NotchRenamed")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, first.ID, byName.ID)
}

func TestSessionLifecycleAndPlaytime(t *testing.T) {
	db := openTestDB(t)
	players := NewPlayerRepository(db)
	servers := NewServerRepository(db)

	player, err := players.UpsertByUUID("069a79f444e94726a5befca90e38aaf5", "Notch")
	require.NoError(t, err)
	server, err := servers.EnsureActive("survival")
	require.NoError(t, err)

	joined := time.Now().Add(-2 * time.Hour)
	session, err := players.OpenSession(player.ID, server.ID, joined)
	require.NoError(t, err)

	open, err := players.LatestOpenSession(player.ID, server.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, session.ID, open.ID)

	grouped, err := players.OnlineGroupedByServer()
	require.NoError(t, err)
	assert.Equal(t, []string{"Notch"}, grouped["survival"])

	require.NoError(t, players.CloseSession(open, joined.Add(45*time.Minute)))

	open, err = players.LatestOpenSession(player.ID, server.ID)
	require.NoError(t, err)
	assert.Nil(t, open)

	playtime, err := players.TotalPlaytimeSeconds(player.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(45*60), playtime)
}

func TestHeartbeatRoundTrip(t *testing.T) {
	players := NewPlayerRepository(openTestDB(t))

	last, err := players.LastHeartbeat()
	require.NoError(t, err)
	assert.Nil(t, last)

	ts := time.Now().Truncate(time.Second)
	require.NoError(t, players.UpsertHeartbeat(ts))
	require.NoError(t, players.UpsertHeartbeat(ts.Add(time.Minute)))

	last, err = players.LastHeartbeat()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.WithinDuration(t, ts.Add(time.Minute), *last, time.Second)
}
