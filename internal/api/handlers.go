package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"strings"
	"time"

	"github.com/ernie/craftwatch/internal/domain"
	"github.com/ernie/craftwatch/internal/storage"
	"golang.org/x/image/draw"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// ServerInfo is the configured identity of the monitored server
type ServerInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Version string `json:"version,omitempty"`
	Site    string `json:"site,omitempty"`
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	Server ServerInfo       `json:"server"`
	Status *domain.Snapshot `json:"status"`
}

// handleGetStatus returns the last known snapshot
func (r *Router) handleGetStatus(w http.ResponseWriter, req *http.Request) {
	resp := StatusResponse{
		Server: ServerInfo{
			Name:    r.server.Name,
			Address: r.server.Address(),
			Version: r.server.Version,
			Site:    r.server.Site,
		},
	}

	snap, ok := r.status.Last()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	snap.Raw.Icon = "" // served by the icon route
	resp.Status = &snap
	writeJSON(w, http.StatusOK, resp)
}

// handleGetIcon returns the server favicon as PNG, scaled to ?size=N
func (r *Router) handleGetIcon(w http.ResponseWriter, req *http.Request) {
	size, ok := parseIconSize(req)
	if !ok {
		writeError(w, http.StatusBadRequest, "size must be between 16 and 512")
		return
	}

	snap, ok := r.status.Last()
	if !ok || snap.Raw.Icon == "" {
		writeError(w, http.StatusNotFound, "no server icon")
		return
	}

	src, err := decodeIcon(snap.Raw.Icon)
	if err != nil {
		r.log.Debug("Decoding server icon failed", "err", err)
		writeError(w, http.StatusNotFound, "no server icon")
		return
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		writeError(w, http.StatusInternalServerError, "encoding icon")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(buf.Bytes())
}

// decodeIcon decodes a "data:image/png;base64,..." URI
func decodeIcon(uri string) (image.Image, error) {
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(uri, prefix) {
		return nil, errors.New("not a base64 png data uri")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	if err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(data))
}

// MessageRefResponse is the body of GET /api/message-ref
type MessageRefResponse struct {
	ChannelID string    `json:"channel_id"`
	MessageID string    `json:"message_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// handleGetMessageRef returns the persisted status message reference
func (r *Router) handleGetMessageRef(w http.ResponseWriter, req *http.Request) {
	ref, updatedAt, ok, err := r.store.GetMessageRef(req.Context(), storage.StatusMessage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no status message configured")
		return
	}
	writeJSON(w, http.StatusOK, MessageRefResponse{
		ChannelID: ref.ChannelID,
		MessageID: ref.MessageID,
		UpdatedAt: updatedAt,
	})
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status        string `json:"status"`
	Subscribers   int    `json:"subscribers"`
	DroppedEvents int    `json:"dropped_events"`
}

// handleHealth reports liveness and push hub counters
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Subscribers:   r.hub.SubscriberCount(),
		DroppedEvents: r.hub.Dropped(),
	})
}
