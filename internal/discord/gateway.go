package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ernie/craftwatch/internal/domain"
	"github.com/gorilla/websocket"
)

// DefaultGatewayURL is the gateway endpoint with the JSON encoding
const DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Gateway intents
const (
	IntentGuilds         = 1 << 0
	IntentGuildMessages  = 1 << 9
	IntentMessageContent = 1 << 15

	DefaultIntents = IntentGuilds | IntentGuildMessages | IntentMessageContent
)

// Gateway opcodes
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opPresenceUpdate = 3
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

const (
	writeWait  = 10 * time.Second
	maxBackoff = time.Minute
)

// fatalCloseCodes end Run instead of reconnecting
var fatalCloseCodes = map[int]string{
	4004: "authentication failed",
	4010: "invalid shard",
	4011: "sharding required",
	4012: "invalid API version",
	4013: "invalid intents",
	4014: "disallowed intents",
}

var errReconnect = errors.New("gateway requested reconnect")

// Author is the sender of an inbound message
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

// Message is an inbound chat message
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	Content   string `json:"content"`
	Author    Author `json:"author"`
}

// MessageHandler receives inbound messages, each on its own goroutine
type MessageHandler func(Message)

type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type outgoing struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

type presenceUpdate struct {
	Since      *int64     `json:"since"`
	Activities []activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

type identify struct {
	Token      string            `json:"token"`
	Intents    int               `json:"intents"`
	Properties map[string]string `json:"properties"`
	Presence   *presenceUpdate   `json:"presence,omitempty"`
}

type ready struct {
	SessionID string `json:"session_id"`
	User      Author `json:"user"`
}

// Gateway keeps one websocket session to the gateway alive
type Gateway struct {
	url     string
	token   string
	intents int
	log     *slog.Logger
	dialer  *websocket.Dialer

	minBackoff time.Duration

	handlerMu sync.RWMutex
	onMessage MessageHandler

	wmu  sync.Mutex // serializes writes to conn
	mu   sync.Mutex // guards conn, presence and seq
	conn *websocket.Conn
	seq  *int64

	presence *domain.Presence
}

// NewGateway creates a gateway client; an empty url uses DefaultGatewayURL
func NewGateway(url, token string, logger *slog.Logger) *Gateway {
	if url == "" {
		url = DefaultGatewayURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		url:        url,
		token:      token,
		intents:    DefaultIntents,
		log:        logger,
		dialer:     websocket.DefaultDialer,
		minBackoff: time.Second,
	}
}

// OnMessage sets the inbound message handler
func (g *Gateway) OnMessage(h MessageHandler) {
	g.handlerMu.Lock()
	g.onMessage = h
	g.handlerMu.Unlock()
}

// SetPresence updates the bot's presence. While disconnected the presence
// is kept and sent with the next identify.
func (g *Gateway) SetPresence(ctx context.Context, p domain.Presence) error {
	g.mu.Lock()
	g.presence = &p
	conn := g.conn
	g.mu.Unlock()

	if conn == nil {
		return nil
	}
	return g.write(conn, outgoing{Op: opPresenceUpdate, D: presencePayload(p)})
}

// Run connects and reconnects until ctx is cancelled or the gateway closes
// the session with a non-recoverable code.
func (g *Gateway) Run(ctx context.Context) error {
	backoff := g.minBackoff

	for {
		start := time.Now()
		err := g.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			if reason, fatal := fatalCloseCodes[closeErr.Code]; fatal {
				return fmt.Errorf("gateway closed: %s (%d)", reason, closeErr.Code)
			}
		}

		if time.Since(start) > maxBackoff {
			backoff = g.minBackoff
		}
		if errors.Is(err, errReconnect) {
			g.log.Info("Gateway reconnecting", "reason", err)
		} else {
			g.log.Warn("Gateway connection lost", "err", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if !errors.Is(err, errReconnect) {
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

// session runs one connection from dial to close
func (g *Gateway) session(ctx context.Context) error {
	conn, _, err := g.dialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(16 << 20)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			g.wmu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"),
				time.Now().Add(time.Second))
			g.wmu.Unlock()
			conn.Close()
		case <-stop:
		}
	}()

	var p payload
	if err := conn.ReadJSON(&p); err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	if p.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", p.Op)
	}
	var h hello
	if err := json.Unmarshal(p.D, &h); err != nil || h.HeartbeatInterval <= 0 {
		return errors.New("invalid hello payload")
	}

	g.mu.Lock()
	g.seq = nil
	presence := g.presence
	g.mu.Unlock()

	ident := identify{
		Token:   g.token,
		Intents: g.intents,
		Properties: map[string]string{
			"os":      "linux",
			"browser": "craftwatch",
			"device":  "craftwatch",
		},
	}
	if presence != nil {
		ident.Presence = presencePayload(*presence)
	}
	if err := g.write(conn, outgoing{Op: opIdentify, D: ident}); err != nil {
		return fmt.Errorf("identifying: %w", err)
	}

	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.conn = nil
		g.mu.Unlock()
	}()

	acked := make(chan struct{}, 1)
	go g.heartbeat(conn, time.Duration(h.HeartbeatInterval)*time.Millisecond, acked, stop)

	for {
		var p payload
		if err := conn.ReadJSON(&p); err != nil {
			return err
		}

		if p.S != nil {
			g.mu.Lock()
			seq := *p.S
			g.seq = &seq
			g.mu.Unlock()
		}

		switch p.Op {
		case opDispatch:
			g.dispatch(p)
		case opHeartbeat:
			if err := g.write(conn, outgoing{Op: opHeartbeat, D: g.lastSeq()}); err != nil {
				return err
			}
		case opHeartbeatAck:
			select {
			case acked <- struct{}{}:
			default:
			}
		case opReconnect:
			return errReconnect
		case opInvalidSession:
			return fmt.Errorf("%w: invalid session", errReconnect)
		}
	}
}

// heartbeat sends heartbeats on the interval and closes conn when the
// previous one was never acknowledged
func (g *Gateway) heartbeat(conn *websocket.Conn, interval time.Duration, acked <-chan struct{}, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	waiting := false
	for {
		select {
		case <-stop:
			return
		case <-acked:
			waiting = false
		case <-ticker.C:
			if waiting {
				g.log.Warn("Gateway heartbeat not acknowledged, reconnecting")
				conn.Close()
				return
			}
			if err := g.write(conn, outgoing{Op: opHeartbeat, D: g.lastSeq()}); err != nil {
				return
			}
			waiting = true
		}
	}
}

func (g *Gateway) dispatch(p payload) {
	switch p.T {
	case "READY":
		var r ready
		if err := json.Unmarshal(p.D, &r); err == nil {
			g.log.Info("Gateway ready", "user", r.User.Username, "session", r.SessionID)
		}
	case "MESSAGE_CREATE":
		var m Message
		if err := json.Unmarshal(p.D, &m); err != nil {
			g.log.Warn("Invalid message payload", "err", err)
			return
		}
		g.handlerMu.RLock()
		h := g.onMessage
		g.handlerMu.RUnlock()
		if h != nil {
			go h(m)
		}
	}
}

func (g *Gateway) lastSeq() *int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

func (g *Gateway) write(conn *websocket.Conn, v any) error {
	g.wmu.Lock()
	defer g.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func presencePayload(p domain.Presence) *presenceUpdate {
	update := &presenceUpdate{
		Activities: []activity{},
		Status:     string(p.Status),
	}
	if code := p.Activity.Code(); code >= 0 && p.Text != "" {
		update.Activities = append(update.Activities, activity{Name: p.Text, Type: code})
	}
	return update
}
