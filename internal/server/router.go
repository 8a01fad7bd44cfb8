package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/viking76/homeassistant-generic-wmc/internal/config"
)

// RouterConfig lists the handlers mounted by NewRouter. Nil handlers are
// not routed.
type RouterConfig struct {
	AuthToken string
	API       *APIHandler
	Hub       http.Handler
	Ingest    *Handler
	Metrics   http.Handler
}

// NewRouter builds the HTTP routes
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", cfg.API.HandleHealth).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/units", cfg.API.HandleUnits).Methods("GET")
	api.HandleFunc("/units/{id}", cfg.API.HandleUnit).Methods("GET")
	api.HandleFunc("/units/{id}/history", cfg.API.HandleHistory).Methods("GET")
	api.HandleFunc("/units/{id}/daily", cfg.API.HandleDailyStats).Methods("GET")
	api.HandleFunc("/storage/stats", cfg.API.HandleStorageStats).Methods("GET")

	commands := api.PathPrefix("/units/{id}").Subrouter()
	commands.Use(requireToken(cfg.AuthToken))
	commands.HandleFunc("/mode", cfg.API.HandleMode).Methods("POST")
	commands.HandleFunc("/reset", cfg.API.HandleReset).Methods("POST")

	if cfg.Hub != nil {
		r.Handle("/ws", cfg.Hub).Methods("GET")
	}
	if cfg.Ingest != nil {
		r.Handle("/ingest", cfg.Ingest).Methods("GET")
		api.HandleFunc("/nodes", cfg.Ingest.HandleNodes).Methods("GET")
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods("GET")
	}
	return r
}

// requireToken rejects requests without the bearer token
func requireToken(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validToken(r, token) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewHTTPServer creates the http.Server for the configured address
func NewHTTPServer(settings config.ServerSettings, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         settings.Addr(),
		Handler:      handler,
		ReadTimeout:  settings.ReadTimeout,
		WriteTimeout: settings.WriteTimeout,
	}
}
