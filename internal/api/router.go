package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/vigil/internal/api/handlers"
	"github.com/wonny/vigil/pkg/logger"
)

// NewRouter creates and configures the HTTP router
func NewRouter(riskHandler *handlers.RiskHandler, ksHandler *handlers.KillSwitchHandler, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	// API v1
	api := r.PathPrefix("/api").Subrouter()

	// Risk view endpoints
	api.HandleFunc("/risk/snapshot", riskHandler.GetSnapshot).Methods("GET")
	api.HandleFunc("/risk/alerts", riskHandler.GetAlerts).Methods("GET")
	api.HandleFunc("/risk/stress", riskHandler.RunStress).Methods("POST")
	api.HandleFunc("/risk/size", riskHandler.SizeSignal).Methods("POST")

	// Kill switch endpoints
	api.HandleFunc("/killswitch/status", ksHandler.GetStatus).Methods("GET")
	api.HandleFunc("/killswitch/events", ksHandler.GetEvents).Methods("GET")
	api.HandleFunc("/killswitch/override", ksHandler.Override).Methods("POST")
	api.HandleFunc("/killswitch/reset", ksHandler.Reset).Methods("POST")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "vigil-api",
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
