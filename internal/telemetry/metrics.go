package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

const namespace = "wmc"

// Metrics exposes unit decisions as Prometheus series on its own registry
type Metrics struct {
	registry        *prometheus.Registry
	ticks           *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	level           *prometheus.GaugeVec
	enabled         *prometheus.GaugeVec
	indoorDewPoint  *prometheus.GaugeVec
	outdoorDewPoint *prometheus.GaugeVec
	target          *prometheus.GaugeVec
	samples         *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Sampling ticks by unit and outcome (ok, sensor_error, disabled).",
		}, []string{"unit", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Level changes by unit, target level and rule.",
		}, []string{"unit", "to", "rule"}),
		level: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "level",
			Help:      "Current output level (0 off, 1 low, 2 high, 3 on).",
		}, []string{"unit"}),
		enabled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enabled",
			Help:      "1 when automatic control of the unit is active.",
		}, []string{"unit"}),
		indoorDewPoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indoor_dew_point_celsius",
			Help:      "Indoor dew point of the last accepted reading.",
		}, []string{"unit"}),
		outdoorDewPoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outdoor_dew_point_celsius",
			Help:      "Outdoor dew point of the last accepted reading.",
		}, []string{"unit"}),
		target: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_dew_point_celsius",
			Help:      "Dew point target the last tick was evaluated against.",
		}, []string{"unit"}),
		samples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_samples",
			Help:      "Samples currently held in the rolling window.",
		}, []string{"unit"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks,
		m.transitions,
		m.level,
		m.enabled,
		m.indoorDewPoint,
		m.outdoorDewPoint,
		m.target,
		m.samples,
	)
	return m
}

// Observe implements wmc.Observer
func (m *Metrics) Observe(d models.Decision) {
	unit := d.UnitID
	m.level.WithLabelValues(unit).Set(float64(d.To))
	m.enabled.WithLabelValues(unit).Set(boolGauge(d.Enabled))
	m.samples.WithLabelValues(unit).Set(float64(d.Samples))

	if d.Transitioned() {
		m.transitions.WithLabelValues(unit, d.To.String(), string(d.Rule)).Inc()
	}

	switch {
	case d.Failed():
		m.ticks.WithLabelValues(unit, "sensor_error").Inc()
		return
	case d.Reading == nil:
		// mode change, not a tick
		return
	case d.Rule == models.RuleDisabled:
		m.ticks.WithLabelValues(unit, "disabled").Inc()
	default:
		m.ticks.WithLabelValues(unit, "ok").Inc()
	}

	m.indoorDewPoint.WithLabelValues(unit).Set(d.IndoorDewPoint)
	m.outdoorDewPoint.WithLabelValues(unit).Set(d.OutdoorDewPoint)
	if d.Target != nil {
		m.target.WithLabelValues(unit).Set(*d.Target)
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
