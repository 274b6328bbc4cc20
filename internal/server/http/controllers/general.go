package controllers

import (
	"net/http"

	"github.com/rzbill/engram/internal/metrics"
	"github.com/rzbill/engram/internal/runtime"
	"github.com/rzbill/engram/internal/version"
)

// GeneralController handles process-level HTTP endpoints: health, readiness,
// version, and the Prometheus scrape surface.
type GeneralController struct {
	rt *runtime.Runtime
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

// RegisterRoutes registers general routes with the given mux.
//
// This method sets up HTTP endpoints for:
// - Liveness and readiness (/healthz, /readyz)
// - Build identification (/version)
// - Prometheus metrics (/metrics)
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", c.handleHealth)
	mux.HandleFunc("/readyz", c.handleReady)
	mux.HandleFunc("/version", c.handleVersion)
	mux.Handle("/metrics", metrics.Handler(c.rt))
}

// handleHealth reports process liveness. It always returns 200 while the
// process can serve HTTP at all.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleReady reports readiness to take traffic.
//
// Returns 200 OK with {"status": "ok"} when the store answers, 503 Service
// Unavailable otherwise.
func (c *GeneralController) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleVersion returns the build version and commit.
func (c *GeneralController) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"version": version.Version, "commit": version.Commit})
}
