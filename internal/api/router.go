// Package api serves the read-only status API and pushes status
// transitions to websocket clients.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ernie/craftwatch/internal/domain"
	"github.com/ernie/craftwatch/internal/render"
	"github.com/ernie/craftwatch/internal/storage"
	"github.com/klauspost/compress/gzhttp"
)

// StatusSource provides the last known snapshot
type StatusSource interface {
	Last() (domain.Snapshot, bool)
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux    *http.ServeMux
	status StatusSource
	store  *storage.Store
	server render.Static
	hub    *Hub
	log    *slog.Logger
}

// NewRouter creates a new HTTP router. store may be nil, which disables
// the message reference route. A nil hub gets a fresh one.
func NewRouter(status StatusSource, store *storage.Store, hub *Hub, server render.Static, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	r := &Router{
		mux:    http.NewServeMux(),
		status: status,
		store:  store,
		server: server,
		hub:    hub,
		log:    logger,
	}

	r.mux.HandleFunc("GET /api/status", r.handleGetStatus)
	r.mux.HandleFunc("GET /api/status/icon.png", r.handleGetIcon)

	if store != nil {
		r.mux.HandleFunc("GET /api/message-ref", r.handleGetMessageRef)
	}

	r.mux.HandleFunc("GET /ws", r.handleSubscribe)
	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}

// Handler returns the router with response compression on every route
// except the websocket upgrade, which needs the raw connection
func (r *Router) Handler() http.Handler {
	compressed := gzhttp.GzipHandler(r)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/ws" {
			r.ServeHTTP(w, req)
			return
		}
		compressed.ServeHTTP(w, req)
	})
}

// Hub returns the push hub; it is also the loop's event sink
func (r *Router) Hub() *Hub {
	return r.hub
}

// StartHub runs the push hub until ctx ends
func (r *Router) StartHub(ctx context.Context) {
	go r.hub.Run(ctx)
}
