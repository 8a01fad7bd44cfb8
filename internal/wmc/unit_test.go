package wmc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viking76/homeassistant-generic-wmc/internal/controller"
	"github.com/viking76/homeassistant-generic-wmc/internal/models"
	"github.com/viking76/homeassistant-generic-wmc/internal/sampler"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu     sync.Mutex
	states map[string]string
}

func (f *fakeSource) State(entity string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.states[entity]
	return v, ok
}

func (f *fakeSource) set(entity, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[entity] = value
}

type fakeSink struct {
	mu    sync.Mutex
	calls []controller.Command
}

func (f *fakeSink) SetSwitch(_ context.Context, entity string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, controller.Command{Entity: entity, On: on})
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type collector struct {
	mu        sync.Mutex
	decisions []models.Decision
}

func (c *collector) Observe(d models.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions = append(c.decisions, d)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.decisions)
}

var refs = sampler.SensorRefs{
	IndoorTemp:      "sensor.in_t",
	IndoorHumidity:  "sensor.in_h",
	OutdoorTemp:     "sensor.out_t",
	OutdoorHumidity: "sensor.out_h",
}

func testConfig() Config {
	return Config{
		ID:        "cellar",
		Name:      "Cellar WMC",
		Refs:      refs,
		Actuators: controller.Actuators{LowSpeed: "switch.low", HighSpeed: "switch.high"},
		Params: controller.Params{
			DeltaTrigger: 3,
			MinOnTime:    0,
			MaxOnTime:    2 * time.Hour,
			MinHumidity:  30,
		},
		TargetOffset:   3,
		SampleInterval: 5 * time.Minute,
		SampleWindow:   15 * time.Minute,
		Enabled:        true,
	}
}

func newTestUnit(t *testing.T) (*Unit, *fakeSource, *fakeSink, *collector) {
	t.Helper()
	src := &fakeSource{states: map[string]string{
		refs.IndoorTemp:      "22",
		refs.IndoorHumidity:  "65",
		refs.OutdoorTemp:     "5",
		refs.OutdoorHumidity: "80",
	}}
	sink := &fakeSink{}
	obs := &collector{}
	return NewUnit(testConfig(), src, sink, zerolog.Nop(), obs), src, sink, obs
}

func TestUnit_FirstTickGoesHigh(t *testing.T) {
	u, _, sink, obs := newTestUnit(t)

	d := u.Tick(context.Background(), t0)

	assert.Equal(t, models.LevelOff, d.From)
	assert.Equal(t, models.LevelHigh, d.To)
	assert.Equal(t, models.RuleDeltaHigh, d.Rule)
	require.NotNil(t, d.Target)
	assert.InDelta(t, d.IndoorDewPoint-3, *d.Target, 1e-9)
	assert.InDelta(t, 13.3, d.Delta, 0.05)
	assert.Equal(t, 1, d.Samples)
	assert.Equal(t, t0.Add(2*time.Hour), d.MaxOnUntil)
	assert.Equal(t, []controller.Command{{Entity: "switch.low", On: false}, {Entity: "switch.high", On: true}}, sink.calls)
	require.Equal(t, 1, obs.len())

	status := u.Status()
	require.NotNil(t, status.Target)
	assert.InDelta(t, *status.DewPoint-3, *status.Target, 1e-9)
	require.NotNil(t, status.TargetHumidity)
	assert.Less(t, *status.TargetHumidity, 65.0)
}

func TestUnit_TargetIncludesNewSample(t *testing.T) {
	u, src, sink, _ := newTestUnit(t)
	ctx := context.Background()

	first := u.Tick(ctx, t0)
	calls := sink.count()

	// indoor dew point drops from 15.11 to 11.10
	src.set(refs.IndoorHumidity, "50")
	d := u.Tick(ctx, t0.Add(5*time.Minute))

	require.NotNil(t, d.Target)
	assert.InDelta(t, d.IndoorDewPoint-3, *d.Target, 1e-9)
	assert.Greater(t, d.IndoorDewPoint, *d.Target)
	assert.Equal(t, models.RuleDeltaHigh, d.Rule)
	assert.Equal(t, models.LevelHigh, d.To)
	assert.Equal(t, first.MaxOnUntil, d.MaxOnUntil)
	assert.Equal(t, calls, sink.count())
}

func TestUnit_TargetReachedTurnsOff(t *testing.T) {
	cfg := testConfig()
	cfg.TargetOffset = 0
	src := &fakeSource{states: map[string]string{
		refs.IndoorTemp:      "22",
		refs.IndoorHumidity:  "50",
		refs.OutdoorTemp:     "5",
		refs.OutdoorHumidity: "80",
	}}
	sink := &fakeSink{}
	u := NewUnit(cfg, src, sink, zerolog.Nop())
	ctx := context.Background()

	// the lowest sample in the window is the target itself
	d := u.Tick(ctx, t0)
	assert.Equal(t, models.RuleTargetReached, d.Rule)
	assert.Equal(t, models.LevelOff, d.To)

	src.set(refs.IndoorHumidity, "65")
	d = u.Tick(ctx, t0.Add(5*time.Minute))
	require.Equal(t, models.LevelHigh, d.To)

	src.set(refs.IndoorHumidity, "50")
	d = u.Tick(ctx, t0.Add(10*time.Minute))

	require.NotNil(t, d.Target)
	assert.LessOrEqual(t, d.IndoorDewPoint, *d.Target)
	assert.Equal(t, models.RuleTargetReached, d.Rule)
	assert.Equal(t, models.LevelOff, d.To)
	assert.True(t, d.MinOnUntil.IsZero())
	assert.True(t, d.MaxOnUntil.IsZero())
	assert.Equal(t, controller.Command{Entity: "switch.high", On: false}, sink.calls[len(sink.calls)-1])
}

func TestUnit_SensorErrorSkipsTick(t *testing.T) {
	u, src, sink, obs := newTestUnit(t)
	ctx := context.Background()

	first := u.Tick(ctx, t0)
	calls := sink.count()

	src.set(refs.OutdoorTemp, "unavailable")
	d := u.Tick(ctx, t0.Add(5*time.Minute))

	assert.True(t, d.Failed())
	assert.Equal(t, models.RuleSensorError, d.Rule)
	assert.Equal(t, first.To, d.To)
	assert.Equal(t, first.MaxOnUntil, d.MaxOnUntil)
	assert.Equal(t, 1, d.Samples)
	assert.Equal(t, calls, sink.count())
	assert.Equal(t, 2, obs.len())

	status := u.Status()
	assert.Equal(t, 1, status.NumberOfSamples)
	assert.NotEmpty(t, status.LastError)

	src.set(refs.OutdoorTemp, "5")
	d = u.Tick(ctx, t0.Add(10*time.Minute))
	assert.False(t, d.Failed())
	assert.Empty(t, u.Status().LastError)
}

func TestUnit_DomainErrorSkipsTick(t *testing.T) {
	u, src, _, _ := newTestUnit(t)

	src.set(refs.IndoorHumidity, "0")
	d := u.Tick(context.Background(), t0)

	assert.True(t, d.Failed())
	assert.Equal(t, models.LevelOff, d.To)
	assert.Equal(t, 0, u.Status().NumberOfSamples)
}

func TestUnit_BelowHumidityFloorHolds(t *testing.T) {
	u, src, sink, _ := newTestUnit(t)

	src.set(refs.IndoorHumidity, "20")
	d := u.Tick(context.Background(), t0)

	assert.Equal(t, models.RuleBelowMinHumidity, d.Rule)
	assert.Equal(t, models.LevelOff, d.To)
	assert.Zero(t, sink.count())
}

func TestUnit_Disabled(t *testing.T) {
	u, _, sink, obs := newTestUnit(t)
	ctx := context.Background()

	u.Tick(ctx, t0)
	u.SetEnabled(ctx, false, t0.Add(time.Minute))

	assert.False(t, u.Enabled())
	status := u.Status()
	assert.Equal(t, models.LevelOff, status.Level)
	assert.Nil(t, status.MinOnTimer)
	assert.Nil(t, status.MaxOnTimer)
	assert.Equal(t, controller.Command{Entity: "switch.high", On: false}, sink.calls[len(sink.calls)-1])

	calls := sink.count()
	d := u.Tick(ctx, t0.Add(5*time.Minute))
	assert.Equal(t, models.RuleDisabled, d.Rule)
	assert.Equal(t, models.LevelOff, d.To)
	assert.Equal(t, calls, sink.count())
	assert.Equal(t, 2, u.Status().NumberOfSamples, "a disabled unit keeps sampling")

	// setting the same mode again is a no-op
	before := obs.len()
	u.SetEnabled(ctx, false, t0.Add(6*time.Minute))
	assert.Equal(t, before, obs.len())

	u.SetEnabled(ctx, true, t0.Add(7*time.Minute))
	d = u.Tick(ctx, t0.Add(10*time.Minute))
	assert.Equal(t, models.LevelHigh, d.To)
}

func TestUnit_Reset(t *testing.T) {
	u, _, _, _ := newTestUnit(t)
	u.Tick(context.Background(), t0)

	u.Reset()

	status := u.Status()
	assert.Equal(t, 0, status.NumberOfSamples)
	assert.Nil(t, status.Target)
	assert.Nil(t, status.LowestSample)
}

func TestUnit_SnapshotRestore(t *testing.T) {
	u, _, _, _ := newTestUnit(t)
	u.Tick(context.Background(), t0)
	snap := u.Snapshot()
	samples := u.Samples()

	restored, _, sink, _ := newTestUnit(t)
	restored.Restore(snap, samples)

	st := restored.Status()
	assert.Equal(t, models.LevelHigh, st.Level)
	require.NotNil(t, st.MaxOnTimer)
	assert.Equal(t, t0.Add(2*time.Hour), *st.MaxOnTimer)
	assert.Equal(t, 1, st.NumberOfSamples)
	assert.Zero(t, sink.count(), "restore does not touch the switches")

	// the restored level is already high so the next tick sends nothing
	d := restored.Tick(context.Background(), t0.Add(5*time.Minute))
	assert.False(t, d.Transitioned())
	assert.Zero(t, sink.count())
}

func TestUnit_StatusComfort(t *testing.T) {
	u, _, _, _ := newTestUnit(t)
	u.Tick(context.Background(), t0)

	s := u.Status()
	assert.Equal(t, "cellar", s.UnitID)
	assert.True(t, s.TwoSpeed)
	assert.Equal(t, 3, s.SampleCapacity)
	assert.Equal(t, 30.0, s.MinHumidity)
	require.NotNil(t, s.AbsoluteHumidity)
	assert.Greater(t, *s.AbsoluteHumidity, 0.0)
	require.NotNil(t, s.RecommendedMaxHumidity)
	require.NotNil(t, s.LastReading)
	assert.Equal(t, t0, s.LastUpdate)
}

func TestUnit_Run(t *testing.T) {
	u, _, sink, obs := newTestUnit(t)
	u.cfg.SampleInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	require.Eventually(t, func() bool { return obs.len() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	// two sync commands for off, then two for the switch to high
	assert.GreaterOrEqual(t, sink.count(), 4)
}
