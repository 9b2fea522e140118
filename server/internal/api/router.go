package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// RouterOptions are the handlers the relay's HTTP surface is built from.
type RouterOptions struct {
	// WebSocket receives every request that asks for a WebSocket upgrade,
	// whatever its path.
	WebSocket http.Handler

	// API serves /api/v1/*.
	API http.Handler

	// Metrics serves /metrics. Optional.
	Metrics http.Handler

	// Map serves GET /map. Optional; without it /map falls through to Static.
	Map http.Handler

	// Static serves everything else.
	Static http.Handler

	Logger *slog.Logger
}

// NewRouter assembles the relay's HTTP surface.
func NewRouter(opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(upgradeTo(opts.WebSocket))
	r.Use(requestLog(logger))

	r.Handle("/api/v1/*", opts.API)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	if opts.Map != nil {
		r.Handle("/map", opts.Map)
	}
	r.NotFound(opts.Static.ServeHTTP)
	r.MethodNotAllowed(opts.Static.ServeHTTP)
	return r
}

// upgradeTo sends WebSocket upgrade requests to ws before any routing.
func upgradeTo(ws http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ws != nil && websocket.IsWebSocketUpgrade(r) {
				ws.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
				"bytes", ww.BytesWritten(), "remote_addr", r.RemoteAddr)
		})
	}
}
