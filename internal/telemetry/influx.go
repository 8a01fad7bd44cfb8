// Package telemetry exports unit decisions to InfluxDB, Kafka and Prometheus.
// Every exporter is a wmc.Observer that never blocks the ticking unit.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/avast/retry-go"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/viking76/homeassistant-generic-wmc/internal/config"
	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

const influxQueueSize = 256

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes one point per accepted tick
type InfluxSink struct {
	cfg    config.InfluxConfig
	writer pointWriter
	client influxdb2.Client
	logger zerolog.Logger

	queue    chan *write.Point
	wg       sync.WaitGroup
	stopOnce sync.Once
	written  atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

// NewInfluxSink connects to the configured server and starts the writer
func NewInfluxSink(cfg config.InfluxConfig, logger zerolog.Logger) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	s := newInfluxSink(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg, logger)
	s.client = client
	return s
}

func newInfluxSink(w pointWriter, cfg config.InfluxConfig, logger zerolog.Logger) *InfluxSink {
	// retry-go treats zero attempts as unlimited
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	s := &InfluxSink{
		cfg:    cfg,
		writer: w,
		logger: logger,
		queue:  make(chan *write.Point, influxQueueSize),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Health checks that the server answers
func (s *InfluxSink) Health(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influx health check: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("influx health check: status %s", health.Status)
	}
	return nil
}

// Observe implements wmc.Observer
func (s *InfluxSink) Observe(d models.Decision) {
	p := DecisionPoint(s.cfg.Measurement, d)
	if p == nil {
		return
	}
	select {
	case s.queue <- p:
	default:
		s.dropped.Add(1)
		s.logger.Warn().Str("unit", d.UnitID).Msg("influx queue full, dropping point")
	}
}

func (s *InfluxSink) loop() {
	defer s.wg.Done()
	for p := range s.queue {
		s.write(p)
	}
}

func (s *InfluxSink) write(p *write.Point) {
	err := retry.Do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		return s.writer.WritePoint(ctx, p)
	}, retry.Attempts(s.cfg.Attempts), retry.Delay(s.cfg.RetryDelay), retry.LastErrorOnly(true))
	if err != nil {
		s.failed.Add(1)
		s.logger.Error().Err(err).Str("measurement", p.Name()).Msg("failed to write to influx")
		return
	}
	s.written.Add(1)
}

// Stop drains the queue and closes the client
func (s *InfluxSink) Stop() {
	s.stopOnce.Do(func() {
		close(s.queue)
		s.wg.Wait()
		if s.client != nil {
			s.client.Close()
		}
		s.logger.Info().
			Int64("written", s.written.Load()).
			Int64("dropped", s.dropped.Load()).
			Int64("failed", s.failed.Load()).
			Msg("influx sink stopped")
	})
}

// DecisionPoint converts a decision into a point. Failed ticks and mode
// changes carry no reading and produce nil.
func DecisionPoint(measurement string, d models.Decision) *write.Point {
	if d.Reading == nil || d.Failed() {
		return nil
	}
	fields := map[string]interface{}{
		"indoor_temp":       d.Reading.IndoorTemp,
		"indoor_humidity":   d.Reading.IndoorHumidity,
		"outdoor_temp":      d.Reading.OutdoorTemp,
		"outdoor_humidity":  d.Reading.OutdoorHumidity,
		"indoor_dew_point":  d.IndoorDewPoint,
		"outdoor_dew_point": d.OutdoorDewPoint,
		"delta":             d.Delta,
		"level":             int(d.To),
		"running":           d.To.Running(),
		"samples":           d.Samples,
	}
	if d.Target != nil {
		fields["target"] = *d.Target
	}
	return influxdb2.NewPoint(
		measurement,
		map[string]string{
			"unit": d.UnitID,
			"rule": string(d.Rule),
		},
		fields,
		d.Timestamp,
	)
}
