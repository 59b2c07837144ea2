package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"brewlytics/anomaly"
	"brewlytics/database/forecasts"
	"brewlytics/database/metrics"
	"brewlytics/database/registry"
	reportstore "brewlytics/database/reports"
	"brewlytics/scheduler"
)

// Server handles HTTP API requests
type Server struct {
	scheduler *scheduler.Scheduler
	registry  *registry.Repository
	metrics   *metrics.Repository
	forecasts *forecasts.Repository
	reports   *reportstore.Repository
	detector  *anomaly.Detector
	branchIDs []int
}

// NewServer creates a new API server instance
func NewServer(
	sched *scheduler.Scheduler,
	reg *registry.Repository,
	metricsRepo *metrics.Repository,
	forecastRepo *forecasts.Repository,
	reportRepo *reportstore.Repository,
	detector *anomaly.Detector,
	branchIDs []int,
) *Server {
	return &Server{
		scheduler: sched,
		registry:  reg,
		metrics:   metricsRepo,
		forecasts: forecastRepo,
		reports:   reportRepo,
		detector:  detector,
		branchIDs: branchIDs,
	}
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port int) error {
	mux := http.NewServeMux()

	// Scheduler control
	mux.HandleFunc("POST /api/scheduler/start", s.handleSchedulerStart)
	mux.HandleFunc("POST /api/scheduler/stop", s.handleSchedulerStop)
	mux.HandleFunc("GET /api/scheduler/status", s.handleSchedulerStatus)

	// Manual job triggers
	mux.HandleFunc("POST /api/jobs/{name}/run", s.handleJobRun)

	// Model introspection
	mux.HandleFunc("GET /api/models/active", s.handleActiveModels)
	mux.HandleFunc("GET /api/models/history", s.handleModelHistory)

	// Analytics data
	mux.HandleFunc("GET /api/forecasts/recent", s.handleRecentForecasts)
	mux.HandleFunc("GET /api/anomalies/latest", s.handleLatestAnomaly)
	mux.HandleFunc("GET /api/metrics/window", s.handleMetricsWindow)
	mux.HandleFunc("GET /api/reports/recent", s.handleRecentReports)

	mux.HandleFunc("GET /health", s.handleHealth)

	// Add middleware
	handler := s.corsMiddleware(s.loggingMiddleware(mux))

	serverAddr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Printf("🚀 API Server starting on %s", serverAddr)
	return http.ListenAndServe(serverAddr, handler)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"scheduler_running": s.scheduler.Running(),
		"time":              time.Now().UTC().Format(time.RFC3339),
	})
}
