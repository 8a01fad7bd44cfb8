package server

import (
	"context"
	"errors"
	"time"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
	"github.com/viking76/homeassistant-generic-wmc/internal/storage"
)

// ErrReadOnly is returned by registries that only mirror remote units
var ErrReadOnly = errors.New("units are read-only on this server")

// DecisionStore defines the interface for real-time decision storage.
// MemoryStore implements this interface.
type DecisionStore interface {
	// Add adds a decision to the store
	Add(d *models.Decision)

	// GetLatest returns the n most recent decisions of a unit (newest first)
	GetLatest(unitID string, n int) []*models.Decision

	// GetCurrent returns the most recent decision of a unit
	GetCurrent(unitID string) *models.Decision

	// GetUnitIDs returns every unit that has reported
	GetUnitIDs() []string

	Stats() StoreStats
	Clear()
}

// HistoricalStore defines the interface for persistent storage.
// storage.SQLiteStore implements this interface.
type HistoricalStore interface {
	GetDecisionsInRange(unitID string, start, end time.Time, limit int) ([]*models.Decision, error)
	GetDailyStats(unitID string, start, end time.Time) ([]storage.DailyStat, error)
	GetStorageStats() (*storage.StorageStats, error)
}

// Registry gives access to the units a server controls or mirrors.
// wmc.Fleet implements it on a node, RemoteRegistry on the monitor.
type Registry interface {
	Statuses() []models.Status
	Status(id string) (models.Status, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Reset(id string) error
}

// DecisionWriter persists decisions asynchronously.
// storage.DBWriter implements this interface.
type DecisionWriter interface {
	Write(d *models.Decision) bool
}
