// Package sampler turns raw sensor states into dew-point samples and
// tracks the dehumidification target over a rolling window.
package sampler

import (
	"fmt"

	"github.com/viking76/homeassistant-generic-wmc/internal/dewpoint"
	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

// DewPoints are the dew points of a single reading
type DewPoints struct {
	Indoor  float64
	Outdoor float64
}

// Sampler owns the rolling window and the target derived from it.
// It is not safe for concurrent use.
type Sampler struct {
	window    *Window
	offset    float64
	target    float64
	hasTarget bool
}

// New creates a sampler holding capacity samples. The target is the
// lowest indoor dew point in the window minus offset.
func New(capacity int, offset float64) *Sampler {
	return &Sampler{
		window: NewWindow(capacity),
		offset: offset,
	}
}

func dewPoints(r models.SensorReading) (DewPoints, error) {
	indoor, err := dewpoint.DewPoint(r.IndoorTemp, r.IndoorHumidity)
	if err != nil {
		return DewPoints{}, fmt.Errorf("indoor dew point (%.1f°C, %.1f%%): %w", r.IndoorTemp, r.IndoorHumidity, err)
	}
	outdoor, err := dewpoint.DewPoint(r.OutdoorTemp, r.OutdoorHumidity)
	if err != nil {
		return DewPoints{}, fmt.Errorf("outdoor dew point (%.1f°C, %.1f%%): %w", r.OutdoorTemp, r.OutdoorHumidity, err)
	}
	return DewPoints{Indoor: indoor, Outdoor: outdoor}, nil
}

// Ingest appends the reading to the window and recomputes the target.
// A reading whose dew points are undefined leaves the window untouched.
func (s *Sampler) Ingest(r models.SensorReading) (DewPoints, error) {
	dp, err := dewPoints(r)
	if err != nil {
		return DewPoints{}, err
	}
	s.window.Add(Sample{Reading: r, IndoorDewPoint: dp.Indoor, OutdoorDewPoint: dp.Outdoor})
	s.recompute()
	return dp, nil
}

func (s *Sampler) recompute() {
	lowest, ok := s.window.MinIndoorDewPoint()
	s.hasTarget = ok
	if ok {
		s.target = lowest - s.offset
	} else {
		s.target = 0
	}
}

// Target returns the current target; false when the window is empty
func (s *Sampler) Target() (float64, bool) {
	return s.target, s.hasTarget
}

// Lowest returns the lowest indoor dew point in the window
func (s *Sampler) Lowest() (float64, bool) {
	return s.window.MinIndoorDewPoint()
}

// Len returns the number of samples in the window
func (s *Sampler) Len() int {
	return s.window.Len()
}

func (s *Sampler) Capacity() int {
	return s.window.Cap()
}

// Samples returns a copy of the window, oldest first
func (s *Sampler) Samples() []Sample {
	return s.window.All()
}

// Reset empties the window and unsets the target
func (s *Sampler) Reset() {
	s.window.Clear()
	s.recompute()
}

// Restore refills the window from previously accepted samples, oldest
// first. Only the newest Capacity() samples are kept.
func (s *Sampler) Restore(samples []Sample) {
	s.window.Clear()
	if extra := len(samples) - s.window.Cap(); extra > 0 {
		samples = samples[extra:]
	}
	for _, smp := range samples {
		s.window.Add(smp)
	}
	s.recompute()
}
