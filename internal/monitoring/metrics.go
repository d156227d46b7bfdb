// Package monitoring exports per-instance fleet metrics to Prometheus.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the fleet gauges. Registration happens against the
// registerer passed in, not a process-global default.
type Metrics struct {
	CPUPercent    *prometheus.GaugeVec
	MemoryBytes   *prometheus.GaugeVec
	OnlinePlayers *prometheus.GaugeVec
	StatusLevel   *prometheus.GaugeVec
	DiskFreeBytes *prometheus.GaugeVec

	FleetInstances prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	labels := []string{"instance"}

	return &Metrics{
		CPUPercent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcadmin_instance_cpu_percent",
			Help: "Current CPU usage of the instance container in percent",
		}, labels),
		MemoryBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcadmin_instance_memory_bytes",
			Help: "Current memory usage of the instance container in bytes",
		}, labels),
		OnlinePlayers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcadmin_instance_players",
			Help: "Number of players currently online on the instance",
		}, labels),
		StatusLevel: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcadmin_instance_status",
			Help: "Instance status level (0=removed 1=exists 2=created 3=running 4=starting 5=healthy)",
		}, labels),
		DiskFreeBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcadmin_instance_disk_free_bytes",
			Help: "Free bytes on the filesystem backing the instance data dir",
		}, labels),
		FleetInstances: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mcadmin_fleet_instances",
			Help: "Total number of instances on disk",
		}),
	}
}

// reset clears all per-instance series so removed instances disappear
// from the next scrape
func (m *Metrics) reset() {
	m.CPUPercent.Reset()
	m.MemoryBytes.Reset()
	m.OnlinePlayers.Reset()
	m.StatusLevel.Reset()
	m.DiskFreeBytes.Reset()
}
