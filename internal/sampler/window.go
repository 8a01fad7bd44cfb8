package sampler

import (
	"time"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

// DefaultWindow is the span of samples used to derive the target
const DefaultWindow = 15 * time.Minute

// Sample is an accepted reading with its dew points
type Sample struct {
	Reading         models.SensorReading `json:"reading"`
	IndoorDewPoint  float64              `json:"indoor_dew_point"`
	OutdoorDewPoint float64              `json:"outdoor_dew_point"`
}

// Capacity returns how many samples fit in window at the given interval,
// never less than one.
func Capacity(window, interval time.Duration) int {
	if interval <= 0 {
		return 1
	}
	n := int(window / interval)
	if n < 1 {
		return 1
	}
	return n
}

// Window is a fixed-capacity ring of samples. The oldest sample is
// evicted when a new one arrives at capacity.
type Window struct {
	samples []Sample
	head    int
	count   int
}

// NewWindow creates an empty window holding at most capacity samples
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{samples: make([]Sample, capacity)}
}

// Add appends s, evicting the oldest sample when full
func (w *Window) Add(s Sample) {
	w.samples[w.head] = s
	w.head = (w.head + 1) % len(w.samples)
	if w.count < len(w.samples) {
		w.count++
	}
}

// Len returns the number of samples held
func (w *Window) Len() int {
	return w.count
}

// Cap returns the capacity
func (w *Window) Cap() int {
	return len(w.samples)
}

// All returns the samples, oldest first
func (w *Window) All() []Sample {
	out := make([]Sample, 0, w.count)
	start := (w.head - w.count + len(w.samples)) % len(w.samples)
	for i := 0; i < w.count; i++ {
		out = append(out, w.samples[(start+i)%len(w.samples)])
	}
	return out
}

// MinIndoorDewPoint returns the lowest indoor dew point held
func (w *Window) MinIndoorDewPoint() (float64, bool) {
	if w.count == 0 {
		return 0, false
	}
	start := (w.head - w.count + len(w.samples)) % len(w.samples)
	lowest := w.samples[start].IndoorDewPoint
	for i := 1; i < w.count; i++ {
		if dp := w.samples[(start+i)%len(w.samples)].IndoorDewPoint; dp < lowest {
			lowest = dp
		}
	}
	return lowest, true
}

// Clear empties the window
func (w *Window) Clear() {
	w.head = 0
	w.count = 0
}
