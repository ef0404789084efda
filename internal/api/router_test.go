package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ernie/craftwatch/internal/domain"
	"github.com/ernie/craftwatch/internal/render"
	"github.com/ernie/craftwatch/internal/storage"
	"github.com/gorilla/websocket"
)

type fakeStatus struct {
	mu   sync.Mutex
	snap *domain.Snapshot
}

func (f *fakeStatus) Last() (domain.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap == nil {
		return domain.Snapshot{}, false
	}
	return *f.snap, true
}

func (f *fakeStatus) set(s domain.Snapshot) {
	f.mu.Lock()
	f.snap = &s
	f.mu.Unlock()
}

func newTestRouter(t *testing.T) (*Router, *fakeStatus, *storage.Store, *httptest.Server) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("storage.New() err=%v", err)
	}
	t.Cleanup(func() { store.Close() })

	status := &fakeStatus{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRouter(status, store, nil, render.Static{IP: "play.example.net", Port: 25565, Name: "Example SMP", Version: "1.21"}, logger)
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)
	return r, status, store, srv
}

func getJSON(t *testing.T, url string, target any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func pngDataURI(t *testing.T, size int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestHealth(t *testing.T) {
	_, _, _, srv := newTestRouter(t)

	var health HealthResponse
	if code := getJSON(t, srv.URL+"/health", &health); code != http.StatusOK {
		t.Errorf("status = %d", code)
	}
	if health.Status != "ok" || health.Subscribers != 0 || health.DroppedEvents != 0 {
		t.Errorf("health = %+v", health)
	}
}

func TestGetStatus(t *testing.T) {
	_, status, _, srv := newTestRouter(t)

	var before StatusResponse
	if code := getJSON(t, srv.URL+"/api/status", &before); code != http.StatusServiceUnavailable {
		t.Errorf("before first tick = %d, want 503", code)
	}
	if before.Status != nil || before.Server.Address != "play.example.net:25565" {
		t.Errorf("before = %+v", before)
	}

	status.set(domain.Snapshot{
		Online:     true,
		Players:    domain.Players{Online: 2, Max: 20, Roster: []string{"alex", "steve"}},
		Raw:        domain.RawStatus{Variant: domain.VariantJava, Online: true, Icon: pngDataURI(t, 8)},
		ObservedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	})

	var after StatusResponse
	if code := getJSON(t, srv.URL+"/api/status", &after); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if after.Status == nil || !after.Status.Online || after.Status.Players.Online != 2 {
		t.Fatalf("after = %+v", after.Status)
	}
	if after.Status.Raw.Icon != "" {
		t.Error("icon data must not be inlined")
	}
	if after.Server.Name != "Example SMP" {
		t.Errorf("server = %+v", after.Server)
	}
}

func TestGetIcon(t *testing.T) {
	_, status, _, srv := newTestRouter(t)

	if code := getJSON(t, srv.URL+"/api/status/icon.png", nil); code != http.StatusNotFound {
		t.Errorf("no snapshot = %d, want 404", code)
	}

	status.set(domain.Snapshot{Online: true, Raw: domain.RawStatus{Icon: pngDataURI(t, 64)}})

	tests := []struct {
		query    string
		wantCode int
		wantSize int
	}{
		{"", http.StatusOK, 64},
		{"?size=32", http.StatusOK, 32},
		{"?size=128", http.StatusOK, 128},
		{"?size=4", http.StatusBadRequest, 0},
		{"?size=big", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/api/status/icon.png" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("code = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
				t.Errorf("content type = %q", ct)
			}
			img, err := png.Decode(resp.Body)
			if err != nil {
				t.Fatalf("decoding png: %v", err)
			}
			if b := img.Bounds(); b.Dx() != tt.wantSize || b.Dy() != tt.wantSize {
				t.Errorf("bounds = %v, want %dx%d", b, tt.wantSize, tt.wantSize)
			}
		})
	}
}

func TestGetIcon_InvalidData(t *testing.T) {
	_, status, _, srv := newTestRouter(t)
	status.set(domain.Snapshot{Raw: domain.RawStatus{Icon: "data:image/png;base64,!!!"}})

	if code := getJSON(t, srv.URL+"/api/status/icon.png", nil); code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", code)
	}
}

func TestGetMessageRef(t *testing.T) {
	_, _, store, srv := newTestRouter(t)

	if code := getJSON(t, srv.URL+"/api/message-ref", nil); code != http.StatusNotFound {
		t.Errorf("unset = %d, want 404", code)
	}

	ref := domain.MessageRef{ChannelID: "123", MessageID: "456"}
	if err := store.SetMessageRef(context.Background(), storage.StatusMessage, ref); err != nil {
		t.Fatal(err)
	}

	var got MessageRefResponse
	if code := getJSON(t, srv.URL+"/api/message-ref", &got); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if got.ChannelID != "123" || got.MessageID != "456" || got.UpdatedAt.IsZero() {
		t.Errorf("got %+v", got)
	}
}

func TestTransitionsAreNotServed(t *testing.T) {
	_, _, _, srv := newTestRouter(t)

	if code := getJSON(t, srv.URL+"/api/transitions", nil); code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", code)
	}
}

func TestNilStoreDisablesMessageRefRoute(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewRouter(&fakeStatus{}, nil, nil, render.Static{}, logger).Handler())
	defer srv.Close()

	if code := getJSON(t, srv.URL+"/api/message-ref", nil); code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", code)
	}
}

func TestCompression(t *testing.T) {
	_, status, _, srv := newTestRouter(t)

	roster := make([]string, 300)
	for i := range roster {
		roster[i] = fmt.Sprintf("player_%03d", i)
	}
	status.set(domain.Snapshot{Online: true, Players: domain.Players{Online: 300, Max: 500, Roster: roster}})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", resp.Header.Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var body StatusResponse
	if err := json.NewDecoder(zr).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status == nil || len(body.Status.Players.Roster) != 300 {
		t.Error("decompressed body incomplete")
	}
}

func TestCORSPreflight(t *testing.T) {
	_, _, _, srv := newTestRouter(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/status", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", resp.StatusCode, resp.Header)
	}
}

func dialPush(t *testing.T, r *Router, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	before := r.Hub().SubscriberCount()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws"+query, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(3 * time.Second)
	for r.Hub().SubscriberCount() != before+1 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

type pushFrame struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) pushFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f pushFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestPushBroadcast(t *testing.T) {
	r, _, _, srv := newTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartHub(ctx)

	conn := dialPush(t, r, srv, "")

	event := domain.NewEvent(domain.EventServerOffline, time.Now(), domain.StatusChangeEvent{WasOnline: true, PrevPlayers: 4})
	r.Hub().Publish(event)

	got := readFrame(t, conn)
	if got.ID != event.ID || got.Event != domain.EventServerOffline {
		t.Errorf("got %+v", got)
	}
}

func TestPushSendsSnapshotFirst(t *testing.T) {
	r, status, _, srv := newTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartHub(ctx)

	status.set(domain.Snapshot{
		Online:  true,
		Players: domain.Players{Online: 3, Max: 20},
		Raw:     domain.RawStatus{Icon: "data:image/png;base64,AAAA"},
	})
	conn := dialPush(t, r, srv, "")

	got := readFrame(t, conn)
	if got.Event != EventSnapshot {
		t.Fatalf("first frame = %q, want %q", got.Event, EventSnapshot)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(got.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if !snap.Online || snap.Players.Online != 3 || snap.Raw.Icon != "" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestPushEventFilter(t *testing.T) {
	r, _, _, srv := newTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartHub(ctx)

	conn := dialPush(t, r, srv, "?events=server_online,server_offline")

	r.Hub().Publish(domain.NewEvent(domain.EventPlayersChanged, time.Now(), domain.StatusChangeEvent{Online: true}))
	want := domain.NewEvent(domain.EventServerOnline, time.Now(), domain.StatusChangeEvent{Online: true})
	r.Hub().Publish(want)

	got := readFrame(t, conn)
	if got.ID != want.ID {
		t.Errorf("got %s %q, want the server_online event", got.ID, got.Event)
	}
}

func TestPushRejectsUnknownEvent(t *testing.T) {
	_, _, _, srv := newTestRouter(t)

	var body map[string]string
	if code := getJSON(t, srv.URL+"/ws?events=player_joined", &body); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
	if body["error"] == "" {
		t.Error("missing error message")
	}
}

func TestPushClosesOnShutdown(t *testing.T) {
	r, _, _, srv := newTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	r.StartHub(ctx)

	conn := dialPush(t, r, srv, "")
	cancel()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read err = %v, want going away close", err)
	}
}

func TestParseEventFilter(t *testing.T) {
	tests := []struct {
		query string
		want  []string
		ok    bool
	}{
		{"", nil, true},
		{"?events=players_changed", []string{"players_changed"}, true},
		{"?events=server_online,%20server_offline", []string{"server_online", "server_offline"}, true},
		{"?events=server_online,bogus", nil, false},
		{"?events=,", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws"+tt.query, nil)
			got, ok := parseEventFilter(req)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for _, name := range tt.want {
				if !got[name] {
					t.Errorf("missing %q in %v", name, got)
				}
			}
		})
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.1:1234", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": " 198.51.100.7 "}, "10.0.0.1:1234", "198.51.100.7"},
		{"remote", nil, "192.0.2.1:5555", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
