package controllers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	eventsvc "github.com/rzbill/engram/internal/services/events"
)

// StreamsController handles all stream-related HTTP endpoints.
//
// It provides a RESTful interface to the events service, including stream
// management, publishing, hot-window reads, replay sampling, reward
// write-back, journal barriers, compaction, and real-time streaming via
// Server-Sent Events.
type StreamsController struct {
	ev *eventsvc.Service
}

// NewStreamsController creates a new streams controller.
func NewStreamsController(svc *eventsvc.Service) *StreamsController {
	return &StreamsController{ev: svc}
}

// RegisterRoutes registers all stream-related routes with the given mux.
//
// This method sets up HTTP endpoints for:
// - Stream management (list, create)
// - Event operations (publish, get, range, sample, reward)
// - Streaming (subscribe via SSE)
// - Durability (flush, snapshot, compact)
// - Statistics (stats)
func (c *StreamsController) RegisterRoutes(mux *http.ServeMux) {
	// Stream management
	mux.HandleFunc("/v1/streams/list", c.handleListStreams)
	mux.HandleFunc("/v1/streams/create", c.handleCreate)

	// Event operations
	mux.HandleFunc("/v1/streams/publish", c.handlePublish)
	mux.HandleFunc("/v1/streams/get", c.handleGet)
	mux.HandleFunc("/v1/streams/range", c.handleRange)
	mux.HandleFunc("/v1/streams/sample", c.handleSample)
	mux.HandleFunc("/v1/streams/reward", c.handleReward)

	// Streaming
	mux.HandleFunc("/v1/streams/subscribe", c.handleSubscribeSSE)

	// Durability
	mux.HandleFunc("/v1/streams/flush", c.handleFlush)
	mux.HandleFunc("/v1/streams/snapshot", c.handleSnapshot)
	mux.HandleFunc("/v1/streams/compact", c.handleCompact)

	// Statistics
	mux.HandleFunc("/v1/streams/stats", c.handleStats)
}

// handleListStreams lists every registered stream's meta record.
func (c *StreamsController) handleListStreams(w http.ResponseWriter, r *http.Request) {
	list, err := c.ev.ListStreams()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list streams")
		return
	}
	writeJSON(w, map[string]any{"streams": list})
}

// handleCreate registers a stream, optionally persisting tuning overrides.
func (c *StreamsController) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req createStreamReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Stream == "" {
		writeError(w, http.StatusBadRequest, "Stream parameter is required")
		return
	}
	if _, err := c.ev.CreateStream(eventsvc.CreateStreamOptions{
		Name:           req.Stream,
		BufferCapacity: req.BufferCapacity,
		BatchSize:      req.BatchSize,
		BatchTimeoutMs: req.BatchTimeoutMs,
		QueueCapacity:  req.QueueCapacity,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create stream")
		return
	}
	writeCreated(w)
}

// handlePublish publishes one event to a stream and returns its sequence.
func (c *StreamsController) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	start := time.Now()
	var req publishReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	seq, err := c.ev.Publish(r.Context(), req.Stream, eventsvc.PublishRequest{
		Kind:        req.Kind,
		Step:        req.Step,
		State:       req.State,
		Action:      req.Action,
		Reward:      req.Reward,
		RewardTotal: req.RewardTotal,
	})
	switch {
	case err == nil:
	case errors.Is(err, eventsvc.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, "Unknown kind")
		return
	case errors.Is(err, eventsvc.ErrVectorTooLong):
		writeError(w, http.StatusBadRequest, "Vector too long")
		return
	default:
		writeError(w, http.StatusInternalServerError, "Failed to publish event")
		return
	}
	// Expose basic timing for client-side debugging
	w.Header().Set("X-Publish-Latency-Ms", strconv.FormatInt(time.Since(start).Milliseconds(), 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(publishResp{Stream: req.Stream, Seq: seq})
}

// handleGet returns one live event by stream-wide sequence.
func (c *StreamsController) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		writeError(w, http.StatusBadRequest, "Stream parameter is required")
		return
	}
	seq, ok := parseSeq(r.URL.Query().Get("seq"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid seq parameter")
		return
	}
	ev, live, err := c.ev.Get(stream, seq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get event")
		return
	}
	if !live {
		writeError(w, http.StatusNotFound, "Not live")
		return
	}
	writeJSON(w, ev)
}

// handleRange returns the live events in [start, end), clamped to the hot
// window. A missing end means everything from start onward.
func (c *StreamsController) handleRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		writeError(w, http.StatusBadRequest, "Stream parameter is required")
		return
	}
	start, _ := parseSeq(r.URL.Query().Get("start"))
	end := uint64(math.MaxUint64)
	if v, ok := parseSeq(r.URL.Query().Get("end")); ok {
		end = v
	}
	events, err := c.ev.Range(stream, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read range")
		return
	}
	writeJSON(w, map[string]any{"stream": stream, "events": events, "count": len(events)})
}

// handleSample draws a replay batch from the live window.
func (c *StreamsController) handleSample(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req sampleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// bound filter length to 2KiB to avoid abuse
	if len(req.Filter) > 2048 {
		writeError(w, http.StatusBadRequest, "Filter too long")
		return
	}
	events, err := c.ev.Sample(req.Stream, eventsvc.SampleRequest{
		Size:     req.Size,
		Strategy: req.Strategy,
		Kind:     req.Kind,
		Filter:   req.Filter,
	})
	switch {
	case err == nil:
	case errors.Is(err, eventsvc.ErrUnknownStrategy):
		writeError(w, http.StatusBadRequest, "Unknown strategy")
		return
	case errors.Is(err, eventsvc.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, "Unknown kind")
		return
	case errors.Is(err, eventsvc.ErrBadFilter):
		writeError(w, http.StatusBadRequest, "Invalid filter")
		return
	default:
		writeError(w, http.StatusInternalServerError, "Failed to sample")
		return
	}
	writeJSON(w, map[string]any{"stream": req.Stream, "events": events, "count": len(events)})
}

// handleReward mutates a reward field on a live record.
func (c *StreamsController) handleReward(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req rewardReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	err := c.ev.UpdateReward(req.Stream, req.Seq, req.Field, req.Value)
	switch {
	case err == nil:
	case errors.Is(err, eventsvc.ErrUnknownField):
		writeError(w, http.StatusBadRequest, "Unknown field")
		return
	case errors.Is(err, eventsvc.ErrNotLive):
		writeError(w, http.StatusNotFound, "Not live")
		return
	default:
		writeError(w, http.StatusInternalServerError, "Failed to update reward")
		return
	}
	writeNoContent(w)
}

// handleSubscribeSSE streams live events over Server-Sent Events.
//
// Query params: stream (required), filter (optional CEL expression),
// limit (optional max events before the server closes the stream).
func (c *StreamsController) handleSubscribeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	stream := r.URL.Query().Get("stream")
	filter := r.URL.Query().Get("filter")
	limitStr := r.URL.Query().Get("limit")
	if stream == "" {
		writeError(w, http.StatusBadRequest, "Stream parameter is required")
		return
	}

	var opts eventsvc.SubscribeOptions
	if filter != "" {
		// bound filter length to 2KiB to avoid abuse
		if len(filter) > 2048 {
			writeError(w, http.StatusBadRequest, "Filter too long")
			return
		}
		if err := eventsvc.ValidateFilter(filter); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid filter")
			return
		}
		opts.Filter = filter
	}
	if limitStr != "" {
		if limit := parseLimit(limitStr); limit > 0 {
			opts.Limit = limit
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Push headers out before the first event so clients see the stream
	// open immediately.
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	if err := c.ev.Subscribe(r.Context(), stream, opts, sseSink{w: w, r: r}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to subscribe")
		return
	}
}

// handleFlush forces the stream's queued journal entries onto disk.
func (c *StreamsController) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req streamReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := c.ev.Flush(r.Context(), req.Stream); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to flush")
		return
	}
	writeNoContent(w)
}

// handleSnapshot appends a durable snapshot marker to the stream's journal.
func (c *StreamsController) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req streamReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := c.ev.WriteSnapshotMarker(r.Context(), req.Stream); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to write snapshot marker")
		return
	}
	writeNoContent(w)
}

// handleCompact rewrites the stream's journal from its last snapshot marker.
func (c *StreamsController) handleCompact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req streamReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := c.ev.Compact(req.Stream)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compact")
		return
	}
	writeJSON(w, compactResp{
		Stream:         req.Stream,
		EntriesKept:    res.EntriesKept,
		EntriesDropped: res.EntriesDropped,
		MarkersDropped: res.MarkersDropped,
		BytesBefore:    res.BytesBefore,
		BytesAfter:     res.BytesAfter,
	})
}

// handleStats snapshots the stream's counters.
func (c *StreamsController) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		writeError(w, http.StatusBadRequest, "Stream parameter is required")
		return
	}
	stats, err := c.ev.Stats(stream)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get stream stats")
		return
	}
	writeJSON(w, stats)
}
