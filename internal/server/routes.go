package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ternarybob/reportree/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)   // GET (list), POST (submit)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)  // GET /{id}/status
	mux.HandleFunc("/api/results/", s.handleResults) // GET /{handle}/{key}

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	mux.Handle("/metrics", promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{}))

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.app.JobHandler.ListJobsHandler, s.app.JobHandler.CreateJobHandler)
}

// handleJobRoutes routes /api/jobs/{id}/... requests
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	segments := handlers.PathSegments(r.URL.Path, "/api/jobs/")

	if len(segments) == 2 && segments[1] == "status" {
		s.app.JobHandler.JobStatusHandler(w, r, segments[0])
		return
	}

	s.app.APIHandler.NotFoundHandler(w, r)
}

// handleResults routes /api/results/{handle}/{key}
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	segments := handlers.PathSegments(r.URL.Path, "/api/results/")
	if len(segments) != 2 {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	s.app.JobHandler.ResultHandler(w, r, segments[0], segments[1])
}
