package server

import (
	"sort"
	"sync"
	"time"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

// MemoryStore keeps the last decisions of every unit in memory
type MemoryStore struct {
	capacity       int
	data           map[string][]*models.Decision
	mutex          sync.RWMutex
	totalDecisions int64
}

// StoreStats contains statistics about the memory store
type StoreStats struct {
	TotalDecisions   int64     `json:"total_decisions"`
	UniqueUnits      int       `json:"unique_units"`
	CurrentDecisions int       `json:"current_decisions"` // in memory now
	OldestDecision   time.Time `json:"oldest_decision,omitempty"`
	NewestDecision   time.Time `json:"newest_decision,omitempty"`
}

// NewMemoryStore creates a store holding up to capacity decisions per unit
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryStore{
		capacity: capacity,
		data:     make(map[string][]*models.Decision),
	}
}

// Add stores a copy of d, evicting the unit's oldest decision when full
func (ms *MemoryStore) Add(d *models.Decision) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	decisions := ms.data[d.UnitID]
	if len(decisions) >= ms.capacity {
		decisions = decisions[1:]
	}
	decisions = append(decisions, d.Copy())
	ms.data[d.UnitID] = decisions
	ms.totalDecisions++
}

// GetLatest returns the n most recent decisions of a unit
func (ms *MemoryStore) GetLatest(unitID string, n int) []*models.Decision {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	decisions := ms.data[unitID]
	if len(decisions) == 0 || n <= 0 {
		return nil
	}

	start := len(decisions) - n
	if start < 0 {
		start = 0
	}

	// copies, newest first
	result := make([]*models.Decision, len(decisions)-start)
	for i, j := len(decisions)-1, 0; i >= start; i, j = i-1, j+1 {
		result[j] = decisions[i].Copy()
	}
	return result
}

// GetCurrent returns the most recent decision of a unit
func (ms *MemoryStore) GetCurrent(unitID string) *models.Decision {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	decisions := ms.data[unitID]
	if len(decisions) == 0 {
		return nil
	}
	return decisions[len(decisions)-1].Copy()
}

// GetUnitIDs returns the sorted ids of every unit that has reported
func (ms *MemoryStore) GetUnitIDs() []string {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	keys := make([]string, 0, len(ms.data))
	for key := range ms.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Stats returns statistics about the store
func (ms *MemoryStore) Stats() StoreStats {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	stats := StoreStats{
		TotalDecisions: ms.totalDecisions,
		UniqueUnits:    len(ms.data),
	}
	for _, decisions := range ms.data {
		stats.CurrentDecisions += len(decisions)
		if len(decisions) == 0 {
			continue
		}
		oldest := decisions[0].Timestamp
		newest := decisions[len(decisions)-1].Timestamp
		if stats.OldestDecision.IsZero() || oldest.Before(stats.OldestDecision) {
			stats.OldestDecision = oldest
		}
		if newest.After(stats.NewestDecision) {
			stats.NewestDecision = newest
		}
	}
	return stats
}

// Clear removes all data from the store
func (ms *MemoryStore) Clear() {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.data = make(map[string][]*models.Decision)
	ms.totalDecisions = 0
}

// Observe implements wmc.Observer so a node can feed its own store
func (ms *MemoryStore) Observe(d models.Decision) {
	ms.Add(&d)
}
