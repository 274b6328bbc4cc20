package httpserver

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rzbill/engram/internal/metrics"
	"github.com/rzbill/engram/internal/runtime"
	"github.com/rzbill/engram/internal/server/http/controllers"
	eventsvc "github.com/rzbill/engram/internal/services/events"
	logpkg "github.com/rzbill/engram/pkg/log"
)

// Server is the HTTP transport: JSON endpoints plus SSE subscribe, with
// CORS and per-route latency instrumentation.
type Server struct {
	srv    *http.Server
	lis    net.Listener
	logger logpkg.Logger
}

// New returns a server with an events service built from rt and a default
// logger.
func New(rt *runtime.Runtime) *Server {
	return NewWithService(rt, eventsvc.New(rt), nil)
}

// NewWithService returns a server sharing svc with other entry points.
func NewWithService(rt *runtime.Runtime, svc *eventsvc.Service, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("http"))
	}
	mux := http.NewServeMux()
	controllers.NewControllerRegistry(rt, svc).RegisterAllRoutes(mux)
	return &Server{
		srv:    &http.Server{Handler: cors(instrument(mux))},
		logger: logger,
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// with a 5 second drain window.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops accepting connections immediately.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter captures the response code for instrumentation while
// passing Flush through so SSE streaming keeps working.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument records request duration per matched route and status code.
// The mux pattern keeps the label set bounded; unmatched paths share one
// label.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.WithLabelValues(route, strconv.Itoa(sw.status)).Observe(time.Since(start).Seconds())
	})
}
