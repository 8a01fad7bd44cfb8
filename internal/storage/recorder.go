package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
	"github.com/viking76/homeassistant-generic-wmc/internal/sampler"
)

// StateStore persists and reloads unit state
type StateStore interface {
	SaveUnitState(st models.UnitState) error
	LoadUnitState(unitID string) (*models.UnitState, error)
	LoadSamples(unitID string, since time.Time, limit int) ([]sampler.Sample, error)
}

// Restorable is a unit whose state can be reloaded after a restart
type Restorable interface {
	ID() string
	Restore(st models.UnitState, samples []sampler.Sample)
}

// Recorder observes unit decisions: every decision is queued on the
// writer and the controller state is saved whenever it changes.
type Recorder struct {
	writer *DBWriter
	states StateStore
	logger zerolog.Logger

	mu    sync.Mutex
	saved map[string]models.UnitState
}

// NewRecorder creates a Recorder. writer may be nil to keep only state.
func NewRecorder(writer *DBWriter, states StateStore, logger zerolog.Logger) *Recorder {
	return &Recorder{
		writer: writer,
		states: states,
		logger: logger,
		saved:  make(map[string]models.UnitState),
	}
}

// Observe implements wmc.Observer
func (r *Recorder) Observe(d models.Decision) {
	if r.writer != nil {
		r.writer.Write(d.Copy())
	}
	if d.Failed() {
		return
	}

	st := models.UnitState{
		UnitID:     d.UnitID,
		Level:      d.To,
		MinOnUntil: d.MinOnUntil,
		MaxOnUntil: d.MaxOnUntil,
		Enabled:    d.Enabled,
		SavedAt:    d.Timestamp,
	}

	r.mu.Lock()
	prev, ok := r.saved[d.UnitID]
	if ok && sameState(prev, st) {
		r.mu.Unlock()
		return
	}
	r.saved[d.UnitID] = st
	r.mu.Unlock()

	if err := r.states.SaveUnitState(st); err != nil {
		r.logger.Error().Err(err).Str("unit", d.UnitID).Msg("Failed to save unit state")
	}
}

func sameState(a, b models.UnitState) bool {
	return a.Level == b.Level &&
		a.Enabled == b.Enabled &&
		a.MinOnUntil.Equal(b.MinOnUntil) &&
		a.MaxOnUntil.Equal(b.MaxOnUntil)
}

// Restore reloads the saved state of u and the samples recorded during
// the last window. A unit with no saved state is left untouched.
func (r *Recorder) Restore(u Restorable, window time.Duration, capacity int, now time.Time) error {
	st, err := r.states.LoadUnitState(u.ID())
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	samples, err := r.states.LoadSamples(u.ID(), now.Add(-window), capacity)
	if err != nil {
		return err
	}

	u.Restore(*st, samples)

	r.mu.Lock()
	r.saved[u.ID()] = *st
	r.mu.Unlock()
	return nil
}
