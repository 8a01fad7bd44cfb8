package sensor

import (
	"strconv"
	"sync"
	"time"
)

// Entry is the last state seen for an entity
type Entry struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateCache holds the latest state of every entity the node hears about.
// It is the SensorSource of the units and is safe for concurrent use.
type StateCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	maxAge  time.Duration
	now     func() time.Time
}

// NewStateCache creates an empty cache. States older than maxAge are
// reported as unknown; zero disables the check.
func NewStateCache(maxAge time.Duration) *StateCache {
	return &StateCache{
		entries: make(map[string]Entry),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Set records the state of an entity
func (c *StateCache) Set(entity, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entity] = Entry{Value: value, UpdatedAt: c.now()}
}

// SetFloat records a numeric state
func (c *StateCache) SetFloat(entity string, value float64) {
	c.Set(entity, strconv.FormatFloat(value, 'f', -1, 64))
}

// State implements sampler.SensorSource
func (c *StateCache) State(entity string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[entity]
	if !ok {
		return "", false
	}
	if c.maxAge > 0 && c.now().Sub(e.UpdatedAt) > c.maxAge {
		return "", false
	}
	return e.Value, true
}

// Snapshot returns a copy of every entry
func (c *StateCache) Snapshot() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of known entities
func (c *StateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
