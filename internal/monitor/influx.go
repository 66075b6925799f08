package monitor

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxSink writes metric snapshots to an InfluxDB bucket.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	scenario string
}

// InfluxConfig holds InfluxDB connection settings.
type InfluxConfig struct {
	URL      string
	Token    string
	Org      string
	Bucket   string
	Scenario string
}

// NewInfluxSink connects to InfluxDB and returns a sink.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx URL is required")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		scenario: cfg.Scenario,
	}, nil
}

// WriteSnapshot writes one snapshot as a measurement point.
func (s *InfluxSink) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	fields := make(map[string]interface{}, len(snap.Metrics))
	for k, v := range snap.Metrics {
		fields[k] = v
	}

	p := influxdb2.NewPoint(
		"training_metrics",
		map[string]string{"scenario": s.scenario},
		fields,
		snap.Timestamp,
	)

	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("failed to write metrics point: %w", err)
	}
	return nil
}

// Close shuts down the InfluxDB client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
