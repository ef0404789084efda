package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ernie/craftwatch/internal/domain"
)

// MCStatus queries the mcstatus.io v2 API
type MCStatus struct {
	http    *http.Client
	baseURL string
}

// NewMCStatus creates a client for the API at baseURL
func NewMCStatus(baseURL string, timeout time.Duration) *MCStatus {
	return &MCStatus{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// mcstatusResponse covers both the java and bedrock shapes.
// Fields that only exist for one edition stay zero for the other.
type mcstatusResponse struct {
	Online  *bool `json:"online"`
	Version *struct {
		NameClean string `json:"name_clean"` // java
		Name      string `json:"name"`       // bedrock
		Protocol  int    `json:"protocol"`
	} `json:"version"`
	Players *struct {
		Online int               `json:"online"`
		Max    int               `json:"max"`
		List   []json.RawMessage `json:"list"` // java only
	} `json:"players"`
	MOTD *struct {
		Clean string `json:"clean"`
	} `json:"motd"`
	Icon     string `json:"icon"`
	Software string `json:"software"`
	Gamemode string `json:"gamemode"`
}

// Query fetches the status of host:port
func (c *MCStatus) Query(ctx context.Context, host string, port int, variant domain.Variant) (domain.RawStatus, error) {
	const op = "mcstatus query"
	url := fmt.Sprintf("%s/status/%s/%s:%d", c.baseURL, variant, host, port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.RawStatus{}, unknown(op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.RawStatus{}, unreachable(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return domain.RawStatus{}, unknown(op, fmt.Errorf("status api returned %s", resp.Status))
	}

	var body mcstatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.RawStatus{}, classifyIO(op, err)
	}
	return body.toRaw(variant)
}

func (r *mcstatusResponse) toRaw(variant domain.Variant) (domain.RawStatus, error) {
	const op = "mcstatus decode"
	if r.Online == nil {
		return domain.RawStatus{}, malformed(op, errors.New("missing online flag"))
	}

	raw := domain.RawStatus{
		Variant:  variant,
		Online:   *r.Online,
		Icon:     r.Icon,
		Software: r.Software,
		Gamemode: r.Gamemode,
	}
	if !raw.Online {
		return raw, nil
	}
	if r.Players == nil {
		return domain.RawStatus{}, malformed(op, errors.New("online server without players block"))
	}

	raw.PlayersOnline = r.Players.Online
	raw.PlayersMax = r.Players.Max
	if r.Version != nil {
		raw.Version = r.Version.NameClean
		if raw.Version == "" {
			raw.Version = r.Version.Name
		}
		raw.Protocol = r.Version.Protocol
	}
	if r.MOTD != nil {
		raw.MOTD = r.MOTD.Clean
	}

	if variant == domain.VariantJava {
		raw.Roster = make([]string, 0, len(r.Players.List))
		for _, entry := range r.Players.List {
			name, err := playerName(entry)
			if err != nil {
				return domain.RawStatus{}, malformed(op, err)
			}
			if name != "" {
				raw.Roster = append(raw.Roster, name)
			}
		}
	}
	return raw, nil
}

// playerName accepts either a bare string or a player object
func playerName(entry json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(entry, &s); err == nil {
		return s, nil
	}
	var p struct {
		NameClean string `json:"name_clean"`
		NameRaw   string `json:"name_raw"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(entry, &p); err != nil {
		return "", fmt.Errorf("player entry: %w", err)
	}
	switch {
	case p.NameClean != "":
		return p.NameClean, nil
	case p.NameRaw != "":
		return domain.CleanText(p.NameRaw), nil
	default:
		return p.Name, nil
	}
}
