package events

import (
	"encoding/json"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// InfluxSink archives dispatched events as time-series points. Writes go
// through the client's non-blocking API so dispatch latency is unaffected;
// write errors are logged and dropped.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// NewInfluxSink connects the sink to an InfluxDB bucket
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	writeAPI := client.WriteAPI(org, bucket)

	sink := &InfluxSink{
		client:   client,
		writeAPI: writeAPI,
	}

	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("InfluxDB event write failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return sink
}

// Record writes the event as a point in measurement mc_events
func (s *InfluxSink) Record(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Warn("Failed to serialize event for archive", map[string]interface{}{
			"event_kind": event.EventKind(),
			"error":      err.Error(),
		})
		return
	}

	point := influxdb2.NewPointWithMeasurement("mc_events").
		AddTag("type", string(event.EventKind())).
		AddTag("server", event.EventServer()).
		AddField("event_id", uuid.NewString()).
		AddField("payload", string(payload)).
		SetTime(event.EventTime())

	s.writeAPI.WritePoint(point)
}

// Close flushes pending points and releases the client
func (s *InfluxSink) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}
