// Package autoreply answers keyword questions in chat. Each inbound message
// is handled independently; the status answer runs its own live query and
// never touches the reconciliation loop's state.
package autoreply

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ernie/craftwatch/internal/config"
	"github.com/ernie/craftwatch/internal/domain"
	"github.com/ernie/craftwatch/internal/query"
	"github.com/ernie/craftwatch/internal/render"
	"github.com/ernie/craftwatch/internal/status"
	"github.com/ernie/craftwatch/internal/trigger"
)

// Querier fetches the raw server status
type Querier interface {
	Query(ctx context.Context, host string, port int, variant domain.Variant) (domain.RawStatus, error)
}

// Replier posts text into a channel. replyTo may be empty.
type Replier interface {
	SendText(ctx context.Context, channelID, replyTo, text string) error
}

// Typer is implemented by repliers that can show a typing indicator
type Typer interface {
	TriggerTyping(ctx context.Context, channelID string) error
}

// Message is an inbound chat message
type Message struct {
	ID        string
	ChannelID string
	Content   string
	AuthorBot bool
}

// Config is the runtime config of the responder
type Config struct {
	Enabled      bool
	Prefix       string
	Host         string
	Port         int
	Variant      domain.Variant
	Policy       domain.OnlinePolicy
	QueryTimeout time.Duration
	ErrorReply   string
}

// ConfigFrom extracts the responder config from the application config
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Enabled:      cfg.AutoReply.Enabled,
		Prefix:       cfg.Commands.Prefix,
		Host:         cfg.Server.IP,
		Port:         cfg.Server.Port,
		Variant:      cfg.Server.Type,
		Policy:       cfg.Status.OnlineCheck,
		QueryTimeout: cfg.Status.QueryTimeout,
		ErrorReply:   cfg.Status.ErrorReply,
	}
}

// MatcherFrom compiles the trigger words of the application config.
// The site category is left out when no site is configured.
func MatcherFrom(cfg *config.Config) *trigger.Matcher {
	words := map[trigger.Category][]string{
		trigger.CategoryIP:      cfg.AutoReply.IP.TriggerWords,
		trigger.CategoryVersion: cfg.AutoReply.Version.TriggerWords,
		trigger.CategoryStatus:  cfg.AutoReply.Status.TriggerWords,
	}
	if cfg.Server.Site != "" {
		words[trigger.CategorySite] = cfg.AutoReply.Site.TriggerWords
	}
	return trigger.New(words)
}

var staticKinds = map[trigger.Category]render.Kind{
	trigger.CategoryIP:      render.KindIP,
	trigger.CategorySite:    render.KindSite,
	trigger.CategoryVersion: render.KindVersion,
}

// Responder turns matched categories into replies
type Responder struct {
	cfg      Config
	matcher  *trigger.Matcher
	renderer *render.Renderer
	client   Querier
	replier  Replier
	log      *slog.Logger
}

// New creates a responder
func New(cfg Config, matcher *trigger.Matcher, renderer *render.Renderer, client Querier, replier Replier, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		cfg:      cfg,
		matcher:  matcher,
		renderer: renderer,
		client:   client,
		replier:  replier,
		log:      logger,
	}
}

// Accepts reports whether msg may be matched at all
func (r *Responder) Accepts(msg Message) bool {
	if !r.cfg.Enabled || msg.AuthorBot {
		return false
	}
	if r.cfg.Prefix != "" && strings.HasPrefix(msg.Content, r.cfg.Prefix) {
		return false
	}
	return true
}

// Handle answers every category matched in msg, in category order, and
// returns the categories it replied to. Reply failures are logged. A panic
// below Handle is logged and ends handling of msg; it never reaches the
// caller's goroutine.
func (r *Responder) Handle(ctx context.Context, msg Message) (answered []trigger.Category) {
	if !r.Accepts(msg) {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Auto reply panicked", "channel", msg.ChannelID, "message", msg.ID, "panic", p)
		}
	}()

	for _, cat := range r.matcher.Match(msg.Content) {
		text, ok := r.reply(ctx, msg, cat)
		if !ok {
			continue
		}
		if err := r.replier.SendText(ctx, msg.ChannelID, "", text); err != nil {
			r.log.Warn("Sending auto reply failed", "category", cat, "channel", msg.ChannelID,
				"err", &domain.PortError{Port: "reply", Err: err})
			continue
		}
		answered = append(answered, cat)
	}
	return answered
}

func (r *Responder) reply(ctx context.Context, msg Message, cat trigger.Category) (string, bool) {
	if kind, ok := staticKinds[cat]; ok {
		text, err := r.renderer.Text(kind, nil)
		if err != nil {
			r.log.Error("Rendering auto reply failed", "category", cat, "err", err)
			return "", false
		}
		return text, true
	}

	if t, ok := r.replier.(Typer); ok {
		if err := t.TriggerTyping(ctx, msg.ChannelID); err != nil {
			r.log.Debug("Typing indicator failed", "err", err)
		}
	}

	snap, err := r.liveStatus(ctx)
	if err != nil {
		r.log.Warn("Live status query failed", "kind", query.KindOf(err).String(), "err", err)
		return r.cfg.ErrorReply, r.cfg.ErrorReply != ""
	}
	text, err := r.renderer.StatusText(snap)
	if err != nil {
		r.log.Error("Rendering status reply failed", "err", err)
		return "", false
	}
	return text, true
}

// liveStatus queries the server under its own timeout
func (r *Responder) liveStatus(ctx context.Context) (domain.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	raw, err := r.query(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return status.Normalize(raw, r.cfg.Policy, time.Now()), nil
}

// query reports a panicking querier as an unknown query failure
func (r *Responder) query(ctx context.Context) (raw domain.RawStatus, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &query.Error{Kind: query.KindUnknown, Op: "query", Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return r.client.Query(ctx, r.cfg.Host, r.cfg.Port, r.cfg.Variant)
}
