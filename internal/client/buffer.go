package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

// DecisionBuffer is a thread-safe FIFO of decisions waiting for the uplink
type DecisionBuffer struct {
	decisions  []*models.Decision
	capacity   int
	dropOldest bool
	mutex      sync.RWMutex
	stats      BufferStats
}

// BufferStats tracks buffer usage statistics
type BufferStats struct {
	TotalPushed   int64
	TotalDropped  int64
	HighWaterMark int
	LastPushTime  time.Time
	LastDropTime  time.Time
}

// NewDecisionBuffer creates a buffer with the given capacity. When full,
// dropOldest evicts the oldest steady tick, or the oldest decision if every
// buffered one is a transition or a failure; otherwise the new one is
// refused.
func NewDecisionBuffer(capacity int, dropOldest bool) *DecisionBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &DecisionBuffer{
		decisions:  make([]*models.Decision, 0, capacity),
		capacity:   capacity,
		dropOldest: dropOldest,
	}
}

// Push adds a decision to the buffer.
// Returns false if it was dropped (when full and dropOldest=false).
func (b *DecisionBuffer) Push(d *models.Decision) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if len(b.decisions) >= b.capacity {
		b.stats.TotalDropped++
		b.stats.LastDropTime = time.Now()
		if !b.dropOldest {
			return false
		}
		b.evict()
	}
	b.decisions = append(b.decisions, d)
	b.stats.TotalPushed++
	b.stats.LastPushTime = time.Now()

	if len(b.decisions) > b.stats.HighWaterMark {
		b.stats.HighWaterMark = len(b.decisions)
	}
	return true
}

func (b *DecisionBuffer) evict() {
	victim := 0
	for i, d := range b.decisions {
		if d.From == d.To && d.Error == "" {
			victim = i
			break
		}
	}
	b.decisions = append(b.decisions[:victim], b.decisions[victim+1:]...)
}

// PopBatch removes and returns up to n decisions, oldest first
func (b *DecisionBuffer) PopBatch(n int) []*models.Decision {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	count := min(n, len(b.decisions))
	if count <= 0 {
		return nil
	}
	result := make([]*models.Decision, count)
	copy(result, b.decisions[:count])
	b.decisions = b.decisions[count:]
	return result
}

// Requeue puts a batch that could not be sent back at the front. Decisions
// that no longer fit are dropped, oldest first.
func (b *DecisionBuffer) Requeue(batch []*models.Decision) {
	if len(batch) == 0 {
		return
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()

	merged := make([]*models.Decision, 0, len(batch)+len(b.decisions))
	merged = append(merged, batch...)
	merged = append(merged, b.decisions...)
	if over := len(merged) - b.capacity; over > 0 {
		merged = merged[over:]
		b.stats.TotalDropped += int64(over)
		b.stats.LastDropTime = time.Now()
	}
	b.decisions = merged
}

// Peek returns up to n decisions without removing them
func (b *DecisionBuffer) Peek(n int) []*models.Decision {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	count := min(n, len(b.decisions))
	if count <= 0 {
		return nil
	}
	result := make([]*models.Decision, count)
	copy(result, b.decisions[:count])
	return result
}

// Size returns the current number of decisions in the buffer
func (b *DecisionBuffer) Size() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.decisions)
}

// IsFull returns true if buffer is at capacity
func (b *DecisionBuffer) IsFull() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.decisions) >= b.capacity
}

// IsEmpty returns true if buffer has no decisions
func (b *DecisionBuffer) IsEmpty() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.decisions) == 0
}

// Clear removes all decisions and resets the counters
func (b *DecisionBuffer) Clear() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.decisions = make([]*models.Decision, 0, b.capacity)
	b.stats = BufferStats{}
}

// Capacity returns the maximum capacity of the buffer
func (b *DecisionBuffer) Capacity() int {
	return b.capacity
}

// Stats returns a copy of current buffer statistics
func (b *DecisionBuffer) Stats() BufferStats {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.stats
}

// String returns something like "Buffer[12/1000, dropped: 5, mode: drop-oldest]"
func (b *DecisionBuffer) String() string {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	mode := "drop-newest"
	if b.dropOldest {
		mode = "drop-oldest"
	}
	return fmt.Sprintf("Buffer[%d/%d, dropped: %d, mode: %s]",
		len(b.decisions),
		b.capacity,
		b.stats.TotalDropped,
		mode,
	)
}
