package server

import (
	"context"
	"sort"
	"sync"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
	"github.com/viking76/homeassistant-generic-wmc/internal/wmc"
)

// RemoteRegistry mirrors the status of units reported by nodes over the
// ingest endpoint. Commands cannot be sent back to nodes.
type RemoteRegistry struct {
	mu       sync.RWMutex
	statuses map[string]models.Status
	nodes    map[string]string
}

func NewRemoteRegistry() *RemoteRegistry {
	return &RemoteRegistry{
		statuses: make(map[string]models.Status),
		nodes:    make(map[string]string),
	}
}

// Update records the statuses a node reported
func (r *RemoteRegistry) Update(nodeID string, statuses []models.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range statuses {
		r.statuses[s.UnitID] = s
		r.nodes[s.UnitID] = nodeID
	}
}

// Node returns the id of the node that last reported unitID
func (r *RemoteRegistry) Node(unitID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[unitID]
	return n, ok
}

func (r *RemoteRegistry) Statuses() []models.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Status, 0, len(r.statuses))
	for _, s := range r.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out
}

func (r *RemoteRegistry) Status(id string) (models.Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.statuses[id]
	if !ok {
		return models.Status{}, wmc.ErrUnknownUnit
	}
	return s, nil
}

func (r *RemoteRegistry) SetEnabled(_ context.Context, id string, _ bool) error {
	if _, err := r.Status(id); err != nil {
		return err
	}
	return ErrReadOnly
}

func (r *RemoteRegistry) Reset(id string) error {
	if _, err := r.Status(id); err != nil {
		return err
	}
	return ErrReadOnly
}
