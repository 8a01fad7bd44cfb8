package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
	"github.com/viking76/homeassistant-generic-wmc/internal/storage"
	"github.com/viking76/homeassistant-generic-wmc/internal/wmc"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 5000
	defaultDailyDays    = 7
)

// APIHandler handles HTTP API requests
type APIHandler struct {
	store    DecisionStore
	history  HistoricalStore
	registry Registry
	version  string
	started  time.Time
	logger   zerolog.Logger
}

// NewAPIHandler creates a new API handler. history may be nil when
// SQLite storage is disabled.
func NewAPIHandler(store DecisionStore, history HistoricalStore, registry Registry, version string, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		store:    store,
		history:  history,
		registry: registry,
		version:  version,
		started:  time.Now(),
		logger:   logger,
	}
}

// HandleHealth reports liveness
func (api *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": api.version,
		"units":   len(api.registry.Statuses()),
		"uptime":  int64(time.Since(api.started).Seconds()),
	})
}

// HandleUnits lists the status of every unit
func (api *APIHandler) HandleUnits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.registry.Statuses())
}

// HandleUnit returns the status of one unit
func (api *APIHandler) HandleUnit(w http.ResponseWriter, r *http.Request) {
	s, err := api.registry.Status(mux.Vars(r)["id"])
	if err != nil {
		api.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type modeRequest struct {
	Enabled *bool `json:"enabled"`
}

// HandleMode enables or disables automatic control of a unit
func (api *APIHandler) HandleMode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}
	if err := api.registry.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
		api.writeRegistryError(w, err)
		return
	}
	api.logger.Info().Str("unit", id).Bool("enabled", *req.Enabled).Msg("Mode changed through API")
	api.HandleUnit(w, r)
}

// HandleReset empties the sample window of a unit
func (api *APIHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := api.registry.Reset(id); err != nil {
		api.writeRegistryError(w, err)
		return
	}
	api.logger.Info().Str("unit", id).Msg("Sample window reset through API")
	api.HandleUnit(w, r)
}

// HandleHistory returns recent decisions of a unit. With start and end
// (RFC3339) the SQLite history is queried instead of memory.
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()

	limit := defaultHistoryLimit
	if limitStr := q.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	if q.Get("start") == "" && q.Get("end") == "" {
		decisions := api.store.GetLatest(id, limit)
		if decisions == nil {
			decisions = []*models.Decision{}
		}
		writeJSON(w, http.StatusOK, decisions)
		return
	}

	if api.history == nil {
		writeError(w, http.StatusNotImplemented, "history storage is not enabled")
		return
	}
	end := time.Now()
	start := end.Add(-24 * time.Hour)
	var err error
	if s := q.Get("start"); s != "" {
		if start, err = time.Parse(time.RFC3339, s); err != nil {
			writeError(w, http.StatusBadRequest, "start must be RFC3339")
			return
		}
	}
	if e := q.Get("end"); e != "" {
		if end, err = time.Parse(time.RFC3339, e); err != nil {
			writeError(w, http.StatusBadRequest, "end must be RFC3339")
			return
		}
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end is before start")
		return
	}

	decisions, err := api.history.GetDecisionsInRange(id, start, end, limit)
	if err != nil {
		api.logger.Error().Err(err).Str("unit", id).Msg("History query failed")
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if decisions == nil {
		decisions = []*models.Decision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

// HandleDailyStats returns per-day aggregates of a unit
func (api *APIHandler) HandleDailyStats(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		writeError(w, http.StatusNotImplemented, "history storage is not enabled")
		return
	}
	id := mux.Vars(r)["id"]

	days := defaultDailyDays
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err != nil || parsed <= 0 || parsed > 365 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 365")
			return
		}
		days = parsed
	}

	end := time.Now()
	stats, err := api.history.GetDailyStats(id, end.AddDate(0, 0, -days), end)
	if err != nil {
		api.logger.Error().Err(err).Str("unit", id).Msg("Daily stats query failed")
		writeError(w, http.StatusInternalServerError, "daily stats query failed")
		return
	}
	if stats == nil {
		stats = []storage.DailyStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// StorageStatsResponse combines memory and database statistics
type StorageStatsResponse struct {
	Memory   StoreStats            `json:"memory"`
	Database *storage.StorageStats `json:"database,omitempty"`
}

// HandleStorageStats returns storage statistics
func (api *APIHandler) HandleStorageStats(w http.ResponseWriter, r *http.Request) {
	resp := StorageStatsResponse{Memory: api.store.Stats()}
	if api.history != nil {
		stats, err := api.history.GetStorageStats()
		if err != nil {
			api.logger.Error().Err(err).Msg("Storage stats query failed")
			writeError(w, http.StatusInternalServerError, "storage stats query failed")
			return
		}
		resp.Database = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *APIHandler) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wmc.ErrUnknownUnit):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrReadOnly):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		api.logger.Error().Err(err).Msg("Registry operation failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
