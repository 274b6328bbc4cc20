package controllers

import (
	"encoding/json"
	"net/http"

	eventsvc "github.com/rzbill/engram/internal/services/events"
)

// CursorsController handles consumer group cursor endpoints.
//
// Cursors record how far a consumer group has processed a stream so it can
// resume after a restart without re-reading everything.
type CursorsController struct {
	ev *eventsvc.Service
}

// NewCursorsController creates a new cursors controller.
func NewCursorsController(svc *eventsvc.Service) *CursorsController {
	return &CursorsController{ev: svc}
}

// RegisterRoutes registers cursor routes with the given mux.
func (c *CursorsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/cursors/commit", c.handleCommit)
	mux.HandleFunc("/v1/cursors/get", c.handleGet)
	mux.HandleFunc("/v1/cursors/list", c.handleList)
}

// handleCommit records a consumer group position. Commits never move a
// cursor backwards.
func (c *CursorsController) handleCommit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req commitCursorReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Stream == "" {
		writeError(w, http.StatusBadRequest, "Stream parameter is required")
		return
	}
	if req.Group == "" {
		writeError(w, http.StatusBadRequest, "Group parameter is required")
		return
	}
	if err := c.ev.CommitCursor(req.Stream, req.Group, req.Seq); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to commit cursor")
		return
	}
	writeNoContent(w)
}

// handleGet returns a consumer group's committed position.
func (c *CursorsController) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	stream := r.URL.Query().Get("stream")
	group := r.URL.Query().Get("group")
	if stream == "" {
		writeError(w, http.StatusBadRequest, "Stream parameter is required")
		return
	}
	if group == "" {
		writeError(w, http.StatusBadRequest, "Group parameter is required")
		return
	}
	seq, found, err := c.ev.GetCursor(stream, group)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get cursor")
		return
	}
	writeJSON(w, cursorResp{Stream: stream, Group: group, Seq: seq, Found: found})
}

// handleList returns every group cursor on a stream.
func (c *CursorsController) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		writeError(w, http.StatusBadRequest, "Stream parameter is required")
		return
	}
	cursors, err := c.ev.ListCursors(stream)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list cursors")
		return
	}
	writeJSON(w, map[string]any{"stream": stream, "cursors": cursors})
}
