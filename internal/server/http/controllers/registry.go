package controllers

import (
	"net/http"

	"github.com/rzbill/engram/internal/runtime"
	eventsvc "github.com/rzbill/engram/internal/services/events"
)

// ControllerRegistry manages all HTTP controllers.
//
// It provides a centralized way to register all controller routes
// and manages the lifecycle of individual controllers.
type ControllerRegistry struct {
	general *GeneralController
	streams *StreamsController
	cursors *CursorsController
}

// NewControllerRegistry creates a new controller registry.
//
// It initializes all controllers with the provided runtime and service.
func NewControllerRegistry(rt *runtime.Runtime, eventsSvc *eventsvc.Service) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(rt),
		streams: NewStreamsController(eventsSvc),
		cursors: NewCursorsController(eventsSvc),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
//
// This method sets up all HTTP endpoints for the Engram service:
// process-level endpoints (health, readiness, version, metrics), stream
// endpoints, and consumer cursor endpoints.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.streams.RegisterRoutes(mux)
	r.cursors.RegisterRoutes(mux)
}
