// Package reconcile keeps the external status surfaces in line with the
// server: one goroutine polls on an interval, diffs the result against the
// previous tick and applies side effects at most once per tick.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ernie/craftwatch/internal/domain"
	"github.com/ernie/craftwatch/internal/query"
	"github.com/ernie/craftwatch/internal/render"
	"github.com/ernie/craftwatch/internal/status"
	"github.com/google/uuid"
)

// Config is the runtime config the loop needs
type Config struct {
	Host         string
	Port         int
	Variant      domain.Variant
	Policy       domain.OnlinePolicy
	Interval     time.Duration
	QueryTimeout time.Duration

	// OfflineAfter is the number of consecutive unreachable ticks after
	// which the server is reported offline. 0 skips failed ticks forever.
	OfflineAfter int

	OnlineStatus  domain.PresenceStatus
	OfflineStatus domain.PresenceStatus
	Activity      domain.ActivityKind
}

// Outcome is the result of one tick
type Outcome int

const (
	OutcomeSkipped      Outcome = iota // query failed, no side effects
	OutcomeUnchanged                   // same state as the previous tick
	OutcomeTransitioned                // online flag or player count changed
	OutcomeBusy                        // another tick was still running
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeTransitioned:
		return "transitioned"
	case OutcomeBusy:
		return "busy"
	default:
		return "skipped"
	}
}

// presenceKey is the part of a snapshot the presence reflects
type presenceKey struct {
	online  bool
	players int
}

// Loop owns the last known snapshot; only Tick writes it
type Loop struct {
	cfg      Config
	client   Querier
	renderer *render.Renderer
	ports    Ports
	log      *slog.Logger
	now      func() time.Time

	tickMu            sync.Mutex
	mu                sync.RWMutex // guards last for Last
	last              *domain.Snapshot
	applied           *presenceKey
	unreachableStreak int
}

// New creates a loop with immutable config
func New(cfg Config, client Querier, renderer *render.Renderer, ports Ports, logger *slog.Logger) (*Loop, error) {
	if cfg.Host == "" {
		return nil, errors.New("reconcile: host required")
	}
	if !cfg.Variant.Valid() {
		return nil, fmt.Errorf("reconcile: invalid variant %q", cfg.Variant)
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("reconcile: interval must be > 0")
	}
	if cfg.QueryTimeout <= 0 {
		return nil, errors.New("reconcile: query timeout must be > 0")
	}
	if client == nil || renderer == nil {
		return nil, errors.New("reconcile: client and renderer required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:      cfg,
		client:   client,
		renderer: renderer,
		ports:    ports,
		log:      logger,
		now:      time.Now,
	}, nil
}

// Last returns the last known snapshot, if any tick has succeeded yet
func (l *Loop) Last() (domain.Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.last == nil {
		return domain.Snapshot{}, false
	}
	return *l.last, true
}

// Run ticks once immediately and then on every interval until ctx ends.
// A tick that overruns the interval delays the next one; ticks never overlap.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick performs exactly one poll → diff → apply cycle.
// It never panics and never returns an error: failures are logged and the
// affected side effect is skipped until the next tick.
func (l *Loop) Tick(ctx context.Context) (outcome Outcome) {
	if !l.tickMu.TryLock() {
		l.log.Debug("Previous tick still running, skipping")
		return OutcomeBusy
	}
	defer l.tickMu.Unlock()

	log := l.log.With("tick", uuid.NewString())
	defer func() {
		if r := recover(); r != nil {
			log.Error("Reconciliation tick panicked", "panic", r)
			outcome = OutcomeSkipped
		}
	}()

	snap, ok := l.observe(ctx, log)
	if !ok {
		return OutcomeSkipped
	}

	prev := l.last
	defer func() {
		l.mu.Lock()
		l.last = &snap
		l.mu.Unlock()
	}()

	l.editStatusMessage(ctx, log, snap)
	l.updatePresence(ctx, log, snap)

	if prev != nil && prev.Online == snap.Online && prev.Players.Online == snap.Players.Online {
		return OutcomeUnchanged
	}
	l.publish(prev, snap)
	log.Info("Server status changed", "online", snap.Online, "players", snap.Players.Online, "max", snap.Players.Max)
	return OutcomeTransitioned
}

// observe queries the server and returns the snapshot to apply.
// ok is false when the tick must be skipped.
func (l *Loop) observe(ctx context.Context, log *slog.Logger) (domain.Snapshot, bool) {
	raw, err := l.query(ctx)
	now := l.now()

	if err != nil {
		kind := query.KindOf(err)
		if kind == query.KindUnreachable {
			l.unreachableStreak++
		} else {
			l.unreachableStreak = 0
		}

		if l.cfg.OfflineAfter > 0 && l.unreachableStreak >= l.cfg.OfflineAfter {
			log.Warn("Server unreachable, reporting offline", "failures", l.unreachableStreak, "err", err)
			return domain.OfflineSnapshot(l.cfg.Variant, now), true
		}
		log.Warn("Status query failed, skipping tick", "kind", kind.String(), "err", err)
		return domain.Snapshot{}, false
	}

	l.unreachableStreak = 0
	return status.Normalize(raw, l.cfg.Policy, now), true
}

// query runs the client under the query timeout. A client that ignores its
// context still cannot hold the tick past the deadline.
func (l *Loop) query(ctx context.Context) (domain.RawStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.QueryTimeout)
	defer cancel()

	type result struct {
		raw domain.RawStatus
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &query.Error{Kind: query.KindUnknown, Op: "query", Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		raw, err := l.client.Query(ctx, l.cfg.Host, l.cfg.Port, l.cfg.Variant)
		done <- result{raw: raw, err: err}
	}()

	select {
	case r := <-done:
		return r.raw, r.err
	case <-ctx.Done():
		return domain.RawStatus{}, &query.Error{Kind: query.KindUnreachable, Op: "query", Err: ctx.Err()}
	}
}

// editStatusMessage overwrites the persisted message with the current view
func (l *Loop) editStatusMessage(ctx context.Context, log *slog.Logger, snap domain.Snapshot) {
	if l.ports.Editor == nil || l.ports.Refs == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.QueryTimeout)
	defer cancel()

	ref, ok, err := l.ports.Refs.LoadMessageRef(ctx)
	if err != nil {
		log.Error("Loading status message reference failed", "err", &domain.PortError{Port: "store", Err: err})
		return
	}
	if !ok {
		log.Debug("No status message configured, skipping edit")
		return
	}

	view := l.renderer.View(snap)
	if err := l.ports.Editor.EditMessage(ctx, ref.ChannelID, ref.MessageID, view); err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			log.Warn("Status message no longer exists", "channel", ref.ChannelID, "message", ref.MessageID)
			return
		}
		log.Error("Editing status message failed", "err", &domain.PortError{Port: "edit", Err: err})
		return
	}

	if snap.Online {
		log.Debug("Status message updated", "online", true, "players", snap.Players.Online)
	} else {
		log.Debug("Status message updated", "online", false)
	}
}

// updatePresence sets the presence when the visible state changed since the
// last successful update
func (l *Loop) updatePresence(ctx context.Context, log *slog.Logger, snap domain.Snapshot) {
	if l.ports.Presence == nil {
		return
	}

	key := presenceKey{online: snap.Online, players: snap.Players.Online}
	if l.applied != nil && *l.applied == key {
		return
	}

	text, err := l.renderer.PresenceText(snap)
	if err != nil {
		log.Error("Rendering presence failed", "err", err)
		return
	}

	p := domain.Presence{Status: l.cfg.OfflineStatus, Activity: l.cfg.Activity, Text: text}
	if snap.Online {
		p.Status = l.cfg.OnlineStatus
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.QueryTimeout)
	defer cancel()

	if err := l.ports.Presence.SetPresence(ctx, p); err != nil {
		log.Warn("Updating presence failed", "err", &domain.PortError{Port: "presence", Err: err})
		return
	}
	l.applied = &key
	log.Debug("Presence updated", "status", p.Status, "text", p.Text)
}

func (l *Loop) publish(prev *domain.Snapshot, snap domain.Snapshot) {
	if l.ports.Sink == nil {
		return
	}

	data := domain.StatusChangeEvent{
		Online:        snap.Online,
		PlayersOnline: snap.Players.Online,
		PlayersMax:    snap.Players.Max,
		Roster:        snap.Players.Roster,
		First:         prev == nil,
	}
	eventType := domain.EventServerOffline
	if snap.Online {
		eventType = domain.EventServerOnline
	}
	if prev != nil {
		data.WasOnline = prev.Online
		data.PrevPlayers = prev.Players.Online
		if prev.Online == snap.Online {
			eventType = domain.EventPlayersChanged
		}
	}

	l.ports.Sink.Publish(domain.NewEvent(eventType, snap.ObservedAt, data))
}
