// Package wmc runs ventilation units: each tick reads the sensors, feeds
// the sampler, lets the controller decide and reports the decision.
package wmc

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/viking76/homeassistant-generic-wmc/internal/controller"
	"github.com/viking76/homeassistant-generic-wmc/internal/dewpoint"
	"github.com/viking76/homeassistant-generic-wmc/internal/models"
	"github.com/viking76/homeassistant-generic-wmc/internal/sampler"
)

// Config describes one unit
type Config struct {
	ID             string
	Name           string
	Refs           sampler.SensorRefs
	Actuators      controller.Actuators
	Params         controller.Params
	TargetOffset   float64
	SampleInterval time.Duration
	SampleWindow   time.Duration
	Enabled        bool
	Backend        string
	Version        string
}

// Observer receives every decision a unit makes. Observe is called on
// the ticking goroutine and must not block.
type Observer interface {
	Observe(d models.Decision)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(d models.Decision)

func (f ObserverFunc) Observe(d models.Decision) {
	f(d)
}

// Unit is one ventilation device
type Unit struct {
	mu        sync.Mutex
	cfg       Config
	info      *models.UnitInfo
	source    sampler.SensorSource
	sampler   *sampler.Sampler
	ctrl      *controller.Controller
	observers []Observer
	logger    zerolog.Logger

	enabled     bool
	lastReading *models.SensorReading
	dewPoints   *sampler.DewPoints
	lastRule    models.Rule
	lastError   string
	lastUpdate  time.Time
}

// NewUnit creates a unit reading from src and switching through sink
func NewUnit(cfg Config, src sampler.SensorSource, sink controller.ActuatorSink, logger zerolog.Logger, observers ...Observer) *Unit {
	if cfg.SampleWindow <= 0 {
		cfg.SampleWindow = sampler.DefaultWindow
	}
	logger = logger.With().Str("unit", cfg.ID).Logger()
	ctrl := controller.New(cfg.Params, cfg.Actuators, sink, logger)
	cfg.Params = ctrl.Params()

	return &Unit{
		cfg:       cfg,
		info:      models.NewUnitInfo(cfg.ID, cfg.Name, cfg.Backend, cfg.Version, cfg.Actuators.TwoSpeed()),
		source:    src,
		sampler:   sampler.New(sampler.Capacity(cfg.SampleWindow, cfg.SampleInterval), cfg.TargetOffset),
		ctrl:      ctrl,
		observers: observers,
		logger:    logger,
		enabled:   cfg.Enabled,
	}
}

func (u *Unit) ID() string {
	return u.cfg.ID
}

// Info returns the unit's metadata
func (u *Unit) Info() models.UnitInfo {
	return *u.info
}

// Config returns the configuration the unit was built with
func (u *Unit) Config() Config {
	return u.cfg
}

// AddObserver registers o for future decisions
func (u *Unit) AddObserver(o Observer) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.observers = append(u.observers, o)
}

// Tick performs one sampling cycle at now
func (u *Unit) Tick(ctx context.Context, now time.Time) models.Decision {
	u.mu.Lock()
	d := u.tick(ctx, now)
	observers := append([]Observer(nil), u.observers...)
	u.mu.Unlock()

	for _, o := range observers {
		o.Observe(d)
	}
	return d
}

func (u *Unit) tick(ctx context.Context, now time.Time) models.Decision {
	st := u.ctrl.State()
	d := models.Decision{
		UnitID:     u.cfg.ID,
		Timestamp:  now,
		From:       st.Level,
		To:         st.Level,
		MinOnUntil: st.MinOnUntil,
		MaxOnUntil: st.MaxOnUntil,
		Samples:    u.sampler.Len(),
		Enabled:    u.enabled,
	}
	u.lastUpdate = now

	reading, err := sampler.Read(u.source, u.cfg.Refs, now)
	if err != nil {
		return u.skip(d, err)
	}
	d.Reading = &reading

	dp, err := u.sampler.Ingest(reading)
	if err != nil {
		return u.skip(d, err)
	}
	// the window now includes this reading
	target, hasTarget := u.sampler.Target()
	u.lastReading = &reading
	u.dewPoints = &dp
	u.lastError = ""

	d.IndoorDewPoint = dp.Indoor
	d.OutdoorDewPoint = dp.Outdoor
	d.Delta = dp.Indoor - dp.Outdoor
	d.Samples = u.sampler.Len()
	if hasTarget {
		d.Target = models.Float(target)
	}

	if !u.enabled {
		d.Rule = models.RuleDisabled
		u.lastRule = d.Rule
		return d
	}

	res := u.ctrl.Apply(ctx, controller.Input{
		IndoorDewPoint:  dp.Indoor,
		OutdoorDewPoint: dp.Outdoor,
		Target:          target,
		HasTarget:       hasTarget,
		IndoorHumidity:  reading.IndoorHumidity,
		Now:             now,
	})
	d.To = res.State.Level
	d.Rule = res.Rule
	d.MinOnUntil = res.State.MinOnUntil
	d.MaxOnUntil = res.State.MaxOnUntil
	u.lastRule = res.Rule

	u.logger.Debug().
		Float64("indoor_dew_point", dp.Indoor).
		Float64("outdoor_dew_point", dp.Outdoor).
		Float64("delta", d.Delta).
		Str("rule", string(res.Rule)).
		Str("level", res.State.Level.String()).
		Msg("tick")
	return d
}

func (u *Unit) skip(d models.Decision, err error) models.Decision {
	d.Rule = models.RuleSensorError
	d.Error = err.Error()
	u.lastRule = d.Rule
	u.lastError = d.Error
	u.logger.Warn().Err(err).Msg("skipping tick")
	return d
}

// Run syncs the switches, ticks once and then every sample interval
// until ctx is cancelled.
func (u *Unit) Run(ctx context.Context) error {
	u.mu.Lock()
	u.ctrl.Sync(ctx)
	u.mu.Unlock()

	u.Tick(ctx, time.Now())

	ticker := time.NewTicker(u.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			u.Tick(ctx, t)
		}
	}
}

// SetEnabled switches automatic control on or off. A disabled unit is
// forced off and keeps sampling.
func (u *Unit) SetEnabled(ctx context.Context, enabled bool, now time.Time) {
	u.mu.Lock()
	if u.enabled == enabled {
		u.mu.Unlock()
		return
	}
	u.enabled = enabled

	st := u.ctrl.State()
	d := models.Decision{
		UnitID:    u.cfg.ID,
		Timestamp: now,
		From:      st.Level,
		To:        st.Level,
		Samples:   u.sampler.Len(),
		Enabled:   enabled,
		Rule:      models.RuleEnabled,
	}
	if !enabled {
		res := u.ctrl.Force(ctx, models.LevelOff, models.RuleDisabled, now)
		d.To = res.State.Level
		d.Rule = models.RuleDisabled
	}
	u.lastRule = d.Rule
	observers := append([]Observer(nil), u.observers...)
	u.mu.Unlock()

	u.logger.Info().Bool("enabled", enabled).Msg("mode changed")
	for _, o := range observers {
		o.Observe(d)
	}
}

// Enabled reports whether automatic control is active
func (u *Unit) Enabled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.enabled
}

// Reset empties the sample window
func (u *Unit) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sampler.Reset()
	u.logger.Info().Msg("sample window reset")
}

// Restore loads persisted state and samples. The switches are not touched
// until Run syncs them.
func (u *Unit) Restore(st models.UnitState, samples []sampler.Sample) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.ctrl.Restore(controller.State{
		Level:      st.Level,
		MinOnUntil: st.MinOnUntil,
		MaxOnUntil: st.MaxOnUntil,
	})
	u.enabled = st.Enabled
	u.sampler.Restore(samples)

	u.logger.Info().
		Str("level", u.ctrl.State().Level.String()).
		Bool("enabled", st.Enabled).
		Int("samples", u.sampler.Len()).
		Msg("state restored")
}

// Snapshot returns the state worth persisting
func (u *Unit) Snapshot() models.UnitState {
	u.mu.Lock()
	defer u.mu.Unlock()
	st := u.ctrl.State()
	return models.UnitState{
		UnitID:     u.cfg.ID,
		Level:      st.Level,
		MinOnUntil: st.MinOnUntil,
		MaxOnUntil: st.MaxOnUntil,
		Enabled:    u.enabled,
		SavedAt:    time.Now(),
	}
}

// Samples returns the current window, oldest first
func (u *Unit) Samples() []sampler.Sample {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sampler.Samples()
}

// Status returns the unit's exposed attributes
func (u *Unit) Status() models.Status {
	u.mu.Lock()
	defer u.mu.Unlock()

	st := u.ctrl.State()
	s := models.Status{
		UnitID:          u.cfg.ID,
		Name:            u.cfg.Name,
		Level:           st.Level,
		Enabled:         u.enabled,
		TwoSpeed:        u.cfg.Params.TwoSpeed,
		NumberOfSamples: u.sampler.Len(),
		SampleCapacity:  u.sampler.Capacity(),
		MinHumidity:     u.cfg.Params.MinHumidity,
		LastRule:        u.lastRule,
		LastError:       u.lastError,
		LastUpdate:      u.lastUpdate,
	}
	if !st.MinOnUntil.IsZero() {
		t := st.MinOnUntil
		s.MinOnTimer = &t
	}
	if !st.MaxOnUntil.IsZero() {
		t := st.MaxOnUntil
		s.MaxOnTimer = &t
	}
	if lowest, ok := u.sampler.Lowest(); ok {
		s.LowestSample = models.Float(lowest)
	}
	target, hasTarget := u.sampler.Target()
	if hasTarget {
		s.Target = models.Float(target)
	}
	if u.dewPoints != nil {
		s.DewPoint = models.Float(u.dewPoints.Indoor)
		s.OutdoorDewPoint = models.Float(u.dewPoints.Outdoor)
		s.Delta = models.Float(u.dewPoints.Indoor - u.dewPoints.Outdoor)
	}
	if r := u.lastReading; r != nil {
		reading := *r
		s.LastReading = &reading
		if hasTarget {
			if rh, err := dewpoint.HumidityFromDewPoint(r.IndoorTemp, target); err == nil {
				s.TargetHumidity = models.Float(rh)
			}
		}
		c := dewpoint.NewComfort(r.IndoorTemp, r.IndoorHumidity, r.OutdoorTemp)
		s.AbsoluteHumidity = models.Float(c.AbsoluteHumidity)
		s.RecommendedMaxHumidity = models.Float(c.RecommendedMaxHumidity)
	}
	return s
}
