// internal/sensor/cache_test.go
package sensor

import (
	"sync"
	"testing"
	"time"

	"github.com/viking76/homeassistant-generic-wmc/internal/sampler"
)

var _ sampler.SensorSource = (*StateCache)(nil)

func TestStateCache_SetAndState(t *testing.T) {
	c := NewStateCache(0)

	if _, known := c.State("sensor.cellar_temperature"); known {
		t.Error("unseen entity should be unknown")
	}

	c.Set("sensor.cellar_temperature", "21.5")
	c.SetFloat("sensor.cellar_humidity", 64.25)

	if v, known := c.State("sensor.cellar_temperature"); !known || v != "21.5" {
		t.Errorf("State = %q, %v", v, known)
	}
	if v, _ := c.State("sensor.cellar_humidity"); v != "64.25" {
		t.Errorf("SetFloat stored %q, want 64.25", v)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestStateCache_MaxAge(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewStateCache(10 * time.Minute)
	c.now = func() time.Time { return now }

	c.Set("sensor.garden_temperature", "4.0")

	now = now.Add(9 * time.Minute)
	if _, known := c.State("sensor.garden_temperature"); !known {
		t.Error("fresh state should be known")
	}

	now = now.Add(2 * time.Minute)
	if _, known := c.State("sensor.garden_temperature"); known {
		t.Error("stale state should be unknown")
	}

	snap := c.Snapshot()
	if snap["sensor.garden_temperature"].Value != "4.0" {
		t.Error("Snapshot should still hold stale entries")
	}
}

func TestStateCache_Concurrent(t *testing.T) {
	c := NewStateCache(0)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.SetFloat("sensor.x", float64(i*j))
				c.State("sensor.x")
			}
		}(i)
	}
	wg.Wait()

	if _, known := c.State("sensor.x"); !known {
		t.Error("entity should be known")
	}
}
