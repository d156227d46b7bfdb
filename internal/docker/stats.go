package docker

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/mcadmin/mc-admin/pkg/errs"
)

// ResourceStats is a point-in-time snapshot of a container's resource
// counters, read from the engine's cgroup accounting.
type ResourceStats struct {
	CPUPercent       float64
	MemoryBytes      uint64
	DiskReadBytes    uint64
	DiskWrittenBytes uint64
	NetworkRxBytes   uint64
	NetworkTxBytes   uint64
}

// Stats samples the container twice, one second apart, and derives the
// CPU percentage from the delta. Counter fields come from the second
// sample.
func (m *ComposeManager) Stats(ctx context.Context, service string) (*ResourceStats, error) {
	id, err := m.ContainerID(ctx, service)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errs.NotFound("no container for service %q", service)
	}

	first, err := m.readStats(ctx, id)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Second):
	}

	second, err := m.readStats(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := &ResourceStats{
		CPUPercent:  cpuPercent(first, second),
		MemoryBytes: memoryUsage(second),
	}
	stats.DiskReadBytes, stats.DiskWrittenBytes = blkioTotals(second)
	stats.NetworkRxBytes, stats.NetworkTxBytes = networkTotals(second)
	return stats, nil
}

func (m *ComposeManager) readStats(ctx context.Context, containerID string) (*container.StatsResponse, error) {
	resp, err := m.engine.client.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return nil, errs.External(err, "container stats failed")
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, errs.External(err, "failed to decode container stats")
	}
	return &stats, nil
}

// cpuPercent applies the engine's own delta formula between two samples
func cpuPercent(first, second *container.StatsResponse) float64 {
	cpuDelta := float64(second.CPUStats.CPUUsage.TotalUsage) - float64(first.CPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(second.CPUStats.SystemUsage) - float64(first.CPUStats.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}

	cpus := float64(second.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(second.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / systemDelta * cpus * 100.0
}

// memoryUsage reports anon+file usage: total usage minus reclaimable
// inactive file cache, matching what the engine's own CLI shows.
func memoryUsage(stats *container.StatsResponse) uint64 {
	usage := stats.MemoryStats.Usage
	if inactive, ok := stats.MemoryStats.Stats["inactive_file"]; ok && inactive < usage {
		usage -= inactive
	} else if cache, ok := stats.MemoryStats.Stats["total_inactive_file"]; ok && cache < usage {
		usage -= cache
	}
	return usage
}

func blkioTotals(stats *container.StatsResponse) (read, written uint64) {
	for _, entry := range stats.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(entry.Op) {
		case "read":
			read += entry.Value
		case "write":
			written += entry.Value
		}
	}
	return read, written
}

func networkTotals(stats *container.StatsResponse) (rx, tx uint64) {
	for _, network := range stats.Networks {
		rx += network.RxBytes
		tx += network.TxBytes
	}
	return rx, tx
}
