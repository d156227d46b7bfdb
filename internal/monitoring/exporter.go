package monitoring

import (
	"context"
	"time"

	"github.com/mcadmin/mc-admin/internal/docker"
	"github.com/mcadmin/mc-admin/internal/supervisor"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// Fleet is the slice of the supervisor the exporter samples
type Fleet interface {
	List() ([]string, error)
	Status(ctx context.Context, instanceID string) (supervisor.Status, error)
	Stats(ctx context.Context, instanceID string) (*docker.ResourceStats, error)
	ListPlayers(ctx context.Context, instanceID string) ([]string, error)
	DiskSpaceInfo(instanceID string) (*supervisor.DiskSpace, error)
}

// Exporter periodically samples every instance and publishes the
// results through Metrics. Sampling errors degrade to missing series,
// never to a failed scrape.
type Exporter struct {
	fleet    Fleet
	metrics  *Metrics
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewExporter(fleet Fleet, metrics *Metrics, interval time.Duration) *Exporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Exporter{
		fleet:    fleet,
		metrics:  metrics,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (e *Exporter) Start() {
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		e.Collect(context.Background())
		for {
			select {
			case <-e.stop:
				return
			case <-ticker.C:
				e.Collect(context.Background())
			}
		}
	}()
}

func (e *Exporter) Stop() {
	close(e.stop)
	<-e.done
}

// Collect samples the whole fleet once
func (e *Exporter) Collect(ctx context.Context) {
	ids, err := e.fleet.List()
	if err != nil {
		logger.Error("metrics collection failed to list instances", err, nil)
		return
	}

	e.metrics.reset()
	e.metrics.FleetInstances.Set(float64(len(ids)))

	for _, id := range ids {
		e.collectInstance(ctx, id)
	}
}

func (e *Exporter) collectInstance(ctx context.Context, instanceID string) {
	status, err := e.fleet.Status(ctx, instanceID)
	if err != nil {
		logger.Debug("metrics status sample failed", map[string]interface{}{
			"instance": instanceID,
			"error":    err.Error(),
		})
		return
	}
	e.metrics.StatusLevel.WithLabelValues(instanceID).Set(float64(status))

	if space, err := e.fleet.DiskSpaceInfo(instanceID); err == nil {
		e.metrics.DiskFreeBytes.WithLabelValues(instanceID).Set(float64(space.AvailableBytes))
	}

	if !status.AtLeast(supervisor.StatusRunning) {
		return
	}

	if stats, err := e.fleet.Stats(ctx, instanceID); err == nil {
		e.metrics.CPUPercent.WithLabelValues(instanceID).Set(stats.CPUPercent)
		e.metrics.MemoryBytes.WithLabelValues(instanceID).Set(float64(stats.MemoryBytes))
	} else {
		logger.Debug("metrics stats sample failed", map[string]interface{}{
			"instance": instanceID,
			"error":    err.Error(),
		})
	}

	if status == supervisor.StatusHealthy {
		if players, err := e.fleet.ListPlayers(ctx, instanceID); err == nil {
			e.metrics.OnlinePlayers.WithLabelValues(instanceID).Set(float64(len(players)))
		}
	}
}
