// Package api serves inbound webhooks on their configured paths and the
// admin API under /_hookrelay.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	"github.com/xraph/forwarder/dispatch"
	"github.com/xraph/forwarder/history"
	"github.com/xraph/forwarder/registry"
	"github.com/xraph/forwarder/route"
)

// Dispatcher is the dispatch surface the handler needs.
type Dispatcher interface {
	DispatchSnapshot(ctx context.Context, snap *registry.Snapshot, r *route.Route, method string, raw any) dispatch.Result
	Test(ctx context.Context, req dispatch.TestRequest) (dispatch.Result, error)
}

// Snapshotter supplies the active configuration.
type Snapshotter interface {
	Snapshot() *registry.Snapshot
}

// Handler is the root HTTP handler.
type Handler struct {
	registry   Snapshotter
	dispatcher Dispatcher
	history    history.Store
	metrics    http.Handler
	health     func(context.Context) error
	origins    []string
	logger     *slog.Logger
	router     chi.Router
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) HandlerOption {
	return func(hd *Handler) { hd.metrics = h }
}

// WithHealthCheck sets the check behind /_hookrelay/healthz, typically the
// history store's Ping.
func WithHealthCheck(fn func(context.Context) error) HandlerOption {
	return func(hd *Handler) { hd.health = fn }
}

// WithAllowedOrigins sets the CORS origins for the admin API.
func WithAllowedOrigins(origins ...string) HandlerOption {
	return func(hd *Handler) { hd.origins = origins }
}

// NewHandler creates the root handler.
func NewHandler(reg Snapshotter, d Dispatcher, hist history.Store, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		registry:   reg,
		dispatcher: d,
		history:    hist,
		origins:    []string{"*"},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.router = h.routes()
	return h
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.panicRecovery)
	r.Use(h.logging)

	r.Route(route.AdminPrefix, func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		r.Get("/history", h.listHistory)
		r.Post("/test", h.sendTest)
		r.Get("/targets", h.listTargets)
		r.Get("/routes", h.listRoutes)
		r.Get("/healthz", h.healthz)
	})

	if h.metrics != nil {
		r.Method(http.MethodGet, route.MetricsPath, h.metrics)
	}

	r.Handle("/*", http.HandlerFunc(h.ingress))
	return r
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, r, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

// queryInt returns a query parameter as a non-negative int or a default
// value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
