package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ernie/craftwatch/internal/domain"
	"github.com/gorilla/websocket"
)

// EventSnapshot is the first frame a subscriber receives once the loop has
// observed the server at least once
const EventSnapshot = "snapshot"

const (
	subscriberQueue = 64
	pushWriteWait   = 10 * time.Second
	pushPongWait    = 60 * time.Second
	pushPingEvery   = 30 * time.Second
)

var transitionEvents = map[string]bool{
	domain.EventServerOnline:   true,
	domain.EventServerOffline:  true,
	domain.EventPlayersChanged: true,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// getClientIP returns the caller's address, preferring proxy headers
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// subscriber is one websocket client of the hub
type subscriber struct {
	hub    *Hub
	conn   *websocket.Conn
	out    chan []byte
	events map[string]bool // nil means every transition
	addr   string
}

func (s *subscriber) wants(eventType string) bool {
	return s.events == nil || s.events[eventType]
}

// Hub fans status transitions out to websocket subscribers. It implements
// the loop's event sink through Publish.
type Hub struct {
	subs    map[*subscriber]struct{}
	publish chan domain.Event
	join    chan *subscriber
	leave   chan *subscriber
	done    chan struct{}
	dropped int
	mu      sync.RWMutex
	log     *slog.Logger
}

// NewHub creates a hub; call Run before serving subscribers
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:    make(map[*subscriber]struct{}),
		publish: make(chan domain.Event, 256),
		join:    make(chan *subscriber),
		leave:   make(chan *subscriber),
		done:    make(chan struct{}),
		log:     logger,
	}
}

// Run owns the subscriber set until ctx ends, then disconnects everyone
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.subs {
				h.remove(s)
			}
			h.mu.Unlock()
			return

		case s := <-h.join:
			h.mu.Lock()
			h.subs[s] = struct{}{}
			n := len(h.subs)
			h.mu.Unlock()
			h.log.Debug("Subscriber connected", "remote", s.addr, "total", n)

		case s := <-h.leave:
			h.mu.Lock()
			if _, ok := h.subs[s]; ok {
				h.remove(s)
			}
			n := len(h.subs)
			h.mu.Unlock()
			h.log.Debug("Subscriber disconnected", "remote", s.addr, "total", n)

		case event := <-h.publish:
			h.deliver(event)
		}
	}
}

// deliver encodes the event once and queues it for every interested
// subscriber. Subscribers that cannot keep up are disconnected.
func (h *Hub) deliver(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("Encoding event failed", "event", event.Type, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !s.wants(event.Type) {
			continue
		}
		select {
		case s.out <- data:
		default:
			h.log.Warn("Subscriber too slow, disconnecting", "remote", s.addr)
			h.remove(s)
		}
	}
}

// remove must be called with mu held
func (h *Hub) remove(s *subscriber) {
	delete(h.subs, s)
	close(s.out)
}

// Publish queues a transition for delivery without blocking the caller
func (h *Hub) Publish(event domain.Event) {
	select {
	case h.publish <- event:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		h.log.Warn("Push queue full, dropping event", "event", event.Type, "id", event.ID)
	}
}

// SubscriberCount returns the number of connected subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many events Publish discarded because the queue was full
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// parseEventFilter reads ?events=a,b. An empty value subscribes to every
// transition.
func parseEventFilter(r *http.Request) (map[string]bool, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("events"))
	if raw == "" {
		return nil, true
	}
	events := make(map[string]bool)
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if !transitionEvents[name] {
			return nil, false
		}
		events[name] = true
	}
	return events, true
}

// handleSubscribe upgrades to a websocket, sends the current snapshot and
// then streams transitions
func (r *Router) handleSubscribe(w http.ResponseWriter, req *http.Request) {
	events, ok := parseEventFilter(req)
	if !ok {
		writeError(w, http.StatusBadRequest, "events must be server_online, server_offline or players_changed")
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("WebSocket upgrade failed", "err", err)
		return
	}

	s := &subscriber{
		hub:    r.hub,
		conn:   conn,
		out:    make(chan []byte, subscriberQueue),
		events: events,
		addr:   getClientIP(req),
	}

	if snap, ok := r.status.Last(); ok {
		snap.Raw.Icon = ""
		if data, err := json.Marshal(domain.NewEvent(EventSnapshot, snap.ObservedAt, snap)); err == nil {
			s.out <- data
		}
	}

	select {
	case r.hub.join <- s:
	case <-r.hub.done:
		conn.Close()
		return
	case <-req.Context().Done():
		conn.Close()
		return
	}

	go s.writeLoop()
	go s.readLoop()
}

// readLoop discards client frames and notices disconnects
func (s *subscriber) readLoop() {
	defer func() {
		select {
		case s.hub.leave <- s:
		case <-s.hub.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pushPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pushPongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				s.hub.log.Debug("Subscriber read failed", "remote", s.addr, "err", err)
			}
			return
		}
	}
}

// writeLoop sends one frame per event and keeps the connection alive
func (s *subscriber) writeLoop() {
	ping := time.NewTicker(pushPingEvery)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(pushWriteWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(pushWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
