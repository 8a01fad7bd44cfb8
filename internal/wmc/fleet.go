package wmc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

// ErrUnknownUnit is returned when no unit has the requested id
var ErrUnknownUnit = errors.New("unknown unit")

// Fleet holds the units of a node, in configuration order
type Fleet struct {
	mu    sync.RWMutex
	units map[string]*Unit
	order []string
}

// NewFleet creates an empty fleet
func NewFleet() *Fleet {
	return &Fleet{units: make(map[string]*Unit)}
}

// Add registers u. Ids must be unique.
func (f *Fleet) Add(u *Unit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.units[u.ID()]; exists {
		return fmt.Errorf("unit %s already registered", u.ID())
	}
	f.units[u.ID()] = u
	f.order = append(f.order, u.ID())
	return nil
}

// Get returns the unit with the given id
func (f *Fleet) Get(id string) (*Unit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.units[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, id)
	}
	return u, nil
}

// Units returns all units in configuration order
func (f *Fleet) Units() []*Unit {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Unit, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.units[id])
	}
	return out
}

// Len returns the number of units
func (f *Fleet) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.order)
}

// AddObserver registers o on every unit
func (f *Fleet) AddObserver(o Observer) {
	for _, u := range f.Units() {
		u.AddObserver(o)
	}
}

func (f *Fleet) Statuses() []models.Status {
	units := f.Units()
	out := make([]models.Status, 0, len(units))
	for _, u := range units {
		out = append(out, u.Status())
	}
	return out
}

func (f *Fleet) Status(id string) (models.Status, error) {
	u, err := f.Get(id)
	if err != nil {
		return models.Status{}, err
	}
	return u.Status(), nil
}

func (f *Fleet) SetEnabled(ctx context.Context, id string, enabled bool) error {
	u, err := f.Get(id)
	if err != nil {
		return err
	}
	u.SetEnabled(ctx, enabled, time.Now())
	return nil
}

func (f *Fleet) Reset(id string) error {
	u, err := f.Get(id)
	if err != nil {
		return err
	}
	u.Reset()
	return nil
}

// Run runs every unit in its own goroutine and waits for all of them to
// stop after ctx is cancelled.
func (f *Fleet) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, u := range f.Units() {
		wg.Add(1)
		go func(u *Unit) {
			defer wg.Done()
			_ = u.Run(ctx)
		}(u)
	}
	wg.Wait()
}
