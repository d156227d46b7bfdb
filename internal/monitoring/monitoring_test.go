package monitoring

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/mcadmin/mc-admin/internal/docker"
	"github.com/mcadmin/mc-admin/internal/supervisor"
)

type fakeFleet struct {
	statuses map[string]supervisor.Status
	players  map[string][]string
}

func (f *fakeFleet) List() ([]string, error) {
	var ids []string
	for id := range f.statuses {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeFleet) Status(_ context.Context, id string) (supervisor.Status, error) {
	return f.statuses[id], nil
}

func (f *fakeFleet) Stats(context.Context, string) (*docker.ResourceStats, error) {
	return &docker.ResourceStats{CPUPercent: 42.5, MemoryBytes: 2 << 30}, nil
}

func (f *fakeFleet) ListPlayers(_ context.Context, id string) ([]string, error) {
	return f.players[id], nil
}

func (f *fakeFleet) DiskSpaceInfo(string) (*supervisor.DiskSpace, error) {
	return &supervisor.DiskSpace{TotalBytes: 100, FreeBytes: 60, AvailableBytes: 55, UsedBytes: 40}, nil
}

func TestCollectPublishesGauges(t *testing.T) {
	fleet := &fakeFleet{
		statuses: map[string]supervisor.Status{
			"survival": supervisor.StatusHealthy,
			"stopped":  supervisor.StatusExists,
		},
		players: map[string][]string{"survival": {"Alice", "Bob"}},
	}
	metrics := NewMetrics(prometheus.NewRegistry())
	exporter := NewExporter(fleet, metrics, 0)

	exporter.Collect(context.Background())

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.FleetInstances))
	assert.Equal(t, float64(supervisor.StatusHealthy), testutil.ToFloat64(metrics.StatusLevel.WithLabelValues("survival")))
	assert.Equal(t, 42.5, testutil.ToFloat64(metrics.CPUPercent.WithLabelValues("survival")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.OnlinePlayers.WithLabelValues("survival")))
	assert.Equal(t, 55.0, testutil.ToFloat64(metrics.DiskFreeBytes.WithLabelValues("survival")))

	// A stopped instance reports status only
	assert.Equal(t, float64(supervisor.StatusExists), testutil.ToFloat64(metrics.StatusLevel.WithLabelValues("stopped")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.CPUPercent, "mcadmin_instance_cpu_percent"))
}

func TestCollectDropsRemovedInstances(t *testing.T) {
	fleet := &fakeFleet{statuses: map[string]supervisor.Status{"survival": supervisor.StatusHealthy}}
	metrics := NewMetrics(prometheus.NewRegistry())
	exporter := NewExporter(fleet, metrics, 0)

	exporter.Collect(context.Background())
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.StatusLevel, "mcadmin_instance_status"))

	delete(fleet.statuses, "survival")
	exporter.Collect(context.Background())
	assert.Zero(t, testutil.CollectAndCount(metrics.StatusLevel, "mcadmin_instance_status"))
}
