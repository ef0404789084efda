package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ernie/craftwatch/internal/domain"
	"github.com/ernie/craftwatch/internal/query"
	"github.com/ernie/craftwatch/internal/render"
)

// --- fakes ---

type fakeQuerier struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (domain.RawStatus, error)
}

func (f *fakeQuerier) Query(ctx context.Context, host string, port int, variant domain.Variant) (domain.RawStatus, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(n)
}

func always(raw domain.RawStatus, err error) *fakeQuerier {
	return &fakeQuerier{fn: func(int) (domain.RawStatus, error) { return raw, err }}
}

type fakeRefs struct {
	ref domain.MessageRef
	ok  bool
	err error
}

func (f *fakeRefs) LoadMessageRef(ctx context.Context) (domain.MessageRef, bool, error) {
	return f.ref, f.ok, f.err
}

type editCall struct {
	channelID, messageID string
	view                 domain.Embed
}

type fakeEditor struct {
	mu    sync.Mutex
	calls []editCall
	err   error
	panic bool
}

func (f *fakeEditor) EditMessage(ctx context.Context, channelID, messageID string, view domain.Embed) error {
	if f.panic {
		panic("editor exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, editCall{channelID, messageID, view})
	return f.err
}

func (f *fakeEditor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePresence struct {
	mu    sync.Mutex
	calls []domain.Presence
	err   error
}

func (f *fakePresence) SetPresence(ctx context.Context, p domain.Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	return f.err
}

func (f *fakePresence) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeSink) Publish(e domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

// --- helpers ---

func testConfig() Config {
	return Config{
		Host:          "play.example.net",
		Port:          25565,
		Variant:       domain.VariantJava,
		Policy:        domain.PolicyStrict,
		Interval:      time.Minute,
		QueryTimeout:  time.Second,
		OnlineStatus:  domain.StatusOnline,
		OfflineStatus: domain.StatusIdle,
		Activity:      domain.ActivityPlaying,
	}
}

func testRenderer() *render.Renderer {
	return render.New(
		render.Static{IP: "play.example.net", Port: 25565, Version: "1.21", Name: "Example SMP"},
		render.Templates{
			PresenceOnline:  "{playerOnline}/{playerMax} players",
			PresenceOffline: "Server offline",
		},
		render.EmbedStyle{Title: "{name}", OnlineDescription: "{motd}", OfflineDescription: "Offline"},
	)
}

type harness struct {
	loop     *Loop
	refs     *fakeRefs
	editor   *fakeEditor
	presence *fakePresence
	sink     *fakeSink
}

func newHarness(t *testing.T, cfg Config, q Querier) *harness {
	t.Helper()
	h := &harness{
		refs:     &fakeRefs{ref: domain.MessageRef{ChannelID: "c1", MessageID: "m1"}, ok: true},
		editor:   &fakeEditor{},
		presence: &fakePresence{},
		sink:     &fakeSink{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	loop, err := New(cfg, q, testRenderer(), Ports{
		Refs:     h.refs,
		Editor:   h.editor,
		Presence: h.presence,
		Sink:     h.sink,
	}, logger)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	h.loop = loop
	return h
}

func rawOnline(players, maxPlayers int, roster []string) domain.RawStatus {
	return domain.RawStatus{
		Variant:       domain.VariantJava,
		Online:        true,
		PlayersOnline: players,
		PlayersMax:    maxPlayers,
		Roster:        roster,
		MOTD:          "Welcome",
		Version:       "Paper 1.21",
	}
}

var errUnreachable = &query.Error{Kind: query.KindUnreachable, Op: "dial", Err: errors.New("connection refused")}

// --- tests ---

func TestNew_RejectsBadConfig(t *testing.T) {
	q := always(domain.RawStatus{}, nil)
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no host", func(c *Config) { c.Host = "" }},
		{"bad variant", func(c *Config) { c.Variant = "pocket" }},
		{"zero interval", func(c *Config) { c.Interval = 0 }},
		{"zero timeout", func(c *Config) { c.QueryTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg, q, testRenderer(), Ports{}, nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTick_EndToEnd(t *testing.T) {
	roster := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	h := newHarness(t, testConfig(), always(rawOnline(5, 20, roster), nil))

	if got := h.loop.Tick(context.Background()); got != OutcomeTransitioned {
		t.Fatalf("outcome = %v, want transitioned", got)
	}

	if h.editor.count() != 1 {
		t.Fatalf("edits = %d, want 1", h.editor.count())
	}
	call := h.editor.calls[0]
	if call.channelID != "c1" || call.messageID != "m1" {
		t.Errorf("edited %s/%s", call.channelID, call.messageID)
	}

	var summary string
	var columns []domain.EmbedField
	for _, f := range call.view.Fields {
		if f.Name == "__**PLAYERS**__" {
			summary = f.Value
		}
		if strings.HasPrefix(f.Name, "• ") {
			columns = append(columns, f)
		}
	}
	if !strings.Contains(summary, "5/20") {
		t.Errorf("summary = %q, want 5/20", summary)
	}
	if len(columns) != 3 {
		t.Fatalf("columns = %d, want 3", len(columns))
	}
	for _, c := range columns {
		names := 1 + strings.Count(c.Value, "•")
		if names > 4 {
			t.Errorf("column %q has %d names", c.Name, names)
		}
	}

	snap, ok := h.loop.Last()
	if !ok || !snap.Online || snap.Players.Online != 5 {
		t.Errorf("Last() = %+v, %v", snap, ok)
	}
}

func TestTick_QueryFailureSkipsSideEffects(t *testing.T) {
	h := newHarness(t, testConfig(), always(domain.RawStatus{}, errUnreachable))

	if got := h.loop.Tick(context.Background()); got != OutcomeSkipped {
		t.Fatalf("outcome = %v, want skipped", got)
	}
	if h.editor.count() != 0 || h.presence.count() != 0 || len(h.sink.events) != 0 {
		t.Errorf("side effects on failed tick: edits=%d presence=%d events=%d",
			h.editor.count(), h.presence.count(), len(h.sink.events))
	}
	if _, ok := h.loop.Last(); ok {
		t.Error("failed tick must not record a snapshot")
	}
}

func TestTick_FailureKeepsLastKnown(t *testing.T) {
	q := &fakeQuerier{fn: func(call int) (domain.RawStatus, error) {
		if call == 1 {
			return rawOnline(3, 10, nil), nil
		}
		return domain.RawStatus{}, errUnreachable
	}}
	h := newHarness(t, testConfig(), q)

	h.loop.Tick(context.Background())
	h.loop.Tick(context.Background())

	snap, ok := h.loop.Last()
	if !ok || !snap.Online || snap.Players.Online != 3 {
		t.Errorf("Last() = %+v, %v, want online 3", snap, ok)
	}
	if h.editor.count() != 1 {
		t.Errorf("edits = %d, want 1", h.editor.count())
	}
}

func TestTick_PresenceOnlyOnChange(t *testing.T) {
	h := newHarness(t, testConfig(), always(rawOnline(4, 20, nil), nil))

	first := h.loop.Tick(context.Background())
	second := h.loop.Tick(context.Background())

	if first != OutcomeTransitioned || second != OutcomeUnchanged {
		t.Errorf("outcomes = %v, %v", first, second)
	}
	if h.presence.count() != 1 {
		t.Errorf("presence updates = %d, want 1", h.presence.count())
	}
	if h.editor.count() != 2 {
		t.Errorf("edits = %d, want one per tick", h.editor.count())
	}
	p := h.presence.calls[0]
	if p.Status != domain.StatusOnline || p.Text != "4/20 players" || p.Activity != domain.ActivityPlaying {
		t.Errorf("presence = %+v", p)
	}
}

func TestTick_PresenceRetriedAfterFailure(t *testing.T) {
	h := newHarness(t, testConfig(), always(rawOnline(1, 20, nil), nil))
	h.presence.err = errors.New("gateway closed")

	h.loop.Tick(context.Background())
	h.presence.err = nil
	h.loop.Tick(context.Background())
	h.loop.Tick(context.Background())

	if h.presence.count() != 2 {
		t.Errorf("presence attempts = %d, want 2", h.presence.count())
	}
}

func TestTick_OfflineUsesOfflineStatus(t *testing.T) {
	raw := domain.RawStatus{Variant: domain.VariantJava, Online: false}
	h := newHarness(t, testConfig(), always(raw, nil))

	h.loop.Tick(context.Background())

	if h.presence.count() != 1 {
		t.Fatalf("presence updates = %d", h.presence.count())
	}
	p := h.presence.calls[0]
	if p.Status != domain.StatusIdle || p.Text != "Server offline" {
		t.Errorf("presence = %+v", p)
	}
	if h.editor.count() != 1 || h.editor.calls[0].view.Fields[0].Value != "❌ Offline" {
		t.Errorf("offline view not applied: %+v", h.editor.calls)
	}
}

func TestTick_NoMessageRef(t *testing.T) {
	h := newHarness(t, testConfig(), always(rawOnline(2, 20, nil), nil))
	h.refs.ok = false

	if got := h.loop.Tick(context.Background()); got != OutcomeTransitioned {
		t.Fatalf("outcome = %v", got)
	}
	if h.editor.count() != 0 {
		t.Errorf("edited without a message reference")
	}
	if h.presence.count() != 1 {
		t.Errorf("presence must still be applied")
	}
}

func TestTick_MessageNotFoundIsNotFatal(t *testing.T) {
	h := newHarness(t, testConfig(), always(rawOnline(2, 20, nil), nil))
	h.editor.err = domain.ErrMessageNotFound

	h.loop.Tick(context.Background())
	h.loop.Tick(context.Background())

	if h.editor.count() != 2 {
		t.Errorf("edits = %d, want a retry every tick", h.editor.count())
	}
	if h.presence.count() != 1 {
		t.Errorf("presence = %d, want 1", h.presence.count())
	}
	if _, ok := h.loop.Last(); !ok {
		t.Error("snapshot must be recorded despite edit failure")
	}
}

func TestTick_RefStoreError(t *testing.T) {
	h := newHarness(t, testConfig(), always(rawOnline(2, 20, nil), nil))
	h.refs.err = errors.New("database is locked")

	h.loop.Tick(context.Background())

	if h.editor.count() != 0 {
		t.Error("edited despite store error")
	}
}

func TestTick_RecoversFromPanic(t *testing.T) {
	h := newHarness(t, testConfig(), always(rawOnline(2, 20, nil), nil))
	h.editor.panic = true

	if got := h.loop.Tick(context.Background()); got != OutcomeSkipped {
		t.Errorf("outcome = %v, want skipped", got)
	}
	if _, ok := h.loop.Last(); !ok {
		t.Error("snapshot must be recorded even when a side effect panics")
	}

	h.editor.panic = false
	if got := h.loop.Tick(context.Background()); got != OutcomeUnchanged {
		t.Errorf("next tick outcome = %v, want unchanged", got)
	}
}

func TestTick_QuerierPanicIsUnknownFailure(t *testing.T) {
	q := &fakeQuerier{fn: func(int) (domain.RawStatus, error) { panic("boom") }}
	h := newHarness(t, testConfig(), q)

	if got := h.loop.Tick(context.Background()); got != OutcomeSkipped {
		t.Errorf("outcome = %v", got)
	}
}

func TestTick_HungQuerierTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	q := &fakeQuerier{fn: func(int) (domain.RawStatus, error) {
		<-release
		return domain.RawStatus{}, nil
	}}
	cfg := testConfig()
	cfg.QueryTimeout = 50 * time.Millisecond
	cfg.OfflineAfter = 1
	h := newHarness(t, cfg, q)

	start := time.Now()
	got := h.loop.Tick(context.Background())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("tick took %v", elapsed)
	}
	if got != OutcomeTransitioned {
		t.Fatalf("outcome = %v, want offline transition", got)
	}
	snap, _ := h.loop.Last()
	if snap.Online {
		t.Error("timed out query must count as unreachable")
	}
}

func TestTick_OfflineAfterDebounce(t *testing.T) {
	cfg := testConfig()
	cfg.OfflineAfter = 2
	q := &fakeQuerier{fn: func(call int) (domain.RawStatus, error) {
		if call == 1 {
			return rawOnline(3, 10, nil), nil
		}
		return domain.RawStatus{}, errUnreachable
	}}
	h := newHarness(t, cfg, q)

	outcomes := []Outcome{
		h.loop.Tick(context.Background()),
		h.loop.Tick(context.Background()),
		h.loop.Tick(context.Background()),
	}
	want := []Outcome{OutcomeTransitioned, OutcomeSkipped, OutcomeTransitioned}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Errorf("tick %d = %v, want %v", i+1, outcomes[i], want[i])
		}
	}

	snap, _ := h.loop.Last()
	if snap.Online || snap.Players.Online != 0 {
		t.Errorf("Last() = %+v, want offline", snap)
	}
	if n := h.presence.count(); n != 2 || h.presence.calls[1].Status != domain.StatusIdle {
		t.Errorf("presence calls = %+v", h.presence.calls)
	}
}

func TestTick_MalformedResetsDebounce(t *testing.T) {
	cfg := testConfig()
	cfg.OfflineAfter = 2
	malformed := &query.Error{Kind: query.KindMalformed, Op: "decode", Err: errors.New("bad json")}
	errs := []error{errUnreachable, malformed, errUnreachable}
	q := &fakeQuerier{fn: func(call int) (domain.RawStatus, error) {
		return domain.RawStatus{}, errs[call-1]
	}}
	h := newHarness(t, cfg, q)

	for range errs {
		if got := h.loop.Tick(context.Background()); got != OutcomeSkipped {
			t.Fatalf("outcome = %v, want skipped", got)
		}
	}
}

func TestTick_PublishesTransitions(t *testing.T) {
	results := []domain.RawStatus{
		rawOnline(1, 10, nil),
		rawOnline(1, 10, nil),
		rawOnline(2, 10, nil),
		{Variant: domain.VariantJava},
	}
	q := &fakeQuerier{fn: func(call int) (domain.RawStatus, error) { return results[call-1], nil }}
	h := newHarness(t, testConfig(), q)

	for range results {
		h.loop.Tick(context.Background())
	}

	want := []string{domain.EventServerOnline, domain.EventPlayersChanged, domain.EventServerOffline}
	if len(h.sink.events) != len(want) {
		t.Fatalf("events = %d, want %d", len(h.sink.events), len(want))
	}
	for i, e := range h.sink.events {
		if e.Type != want[i] {
			t.Errorf("event %d = %s, want %s", i, e.Type, want[i])
		}
		if e.ID == "" {
			t.Errorf("event %d has no id", i)
		}
	}
	data := h.sink.events[1].Data.(domain.StatusChangeEvent)
	if data.PrevPlayers != 1 || data.PlayersOnline != 2 || !data.WasOnline {
		t.Errorf("players changed data = %+v", data)
	}
}

func TestTick_DoesNotOverlap(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	q := &fakeQuerier{fn: func(call int) (domain.RawStatus, error) {
		if call == 1 {
			close(entered)
			<-release
		}
		return rawOnline(1, 10, nil), nil
	}}
	cfg := testConfig()
	cfg.QueryTimeout = 5 * time.Second
	h := newHarness(t, cfg, q)

	done := make(chan Outcome)
	go func() { done <- h.loop.Tick(context.Background()) }()

	<-entered
	if got := h.loop.Tick(context.Background()); got != OutcomeBusy {
		t.Errorf("concurrent tick = %v, want busy", got)
	}
	close(release)

	if got := <-done; got != OutcomeTransitioned {
		t.Errorf("first tick = %v", got)
	}
	if h.editor.count() != 1 {
		t.Errorf("edits = %d, want 1", h.editor.count())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 10 * time.Millisecond
	h := newHarness(t, cfg, always(rawOnline(1, 10, nil), nil))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.loop.Run(ctx)
		close(stopped)
	}()

	deadline := time.After(2 * time.Second)
	for h.editor.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("loop did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
