package domain

import (
	"regexp"
	"time"
)

// Variant selects which server family is queried
type Variant string

const (
	VariantJava    Variant = "java"    // primary
	VariantBedrock Variant = "bedrock" // alternate
)

// Valid reports whether v is a known variant
func (v Variant) Valid() bool {
	return v == VariantJava || v == VariantBedrock
}

// DefaultPort returns the standard port for the variant
func (v Variant) DefaultPort() int {
	if v == VariantBedrock {
		return 19132
	}
	return 25565
}

// OnlinePolicy decides how the reported online flag is interpreted
type OnlinePolicy string

const (
	// PolicyStrict requires a positive player limit in addition to the online flag.
	// Some proxies answer pings with max=0 while the backend is down.
	PolicyStrict OnlinePolicy = "strict"
	PolicyRaw    OnlinePolicy = "raw"
)

// Valid reports whether p is a known policy
func (p OnlinePolicy) Valid() bool {
	return p == PolicyStrict || p == PolicyRaw
}

// RawStatus is the protocol-level answer of a status query
type RawStatus struct {
	Variant       Variant  `json:"variant"`
	Online        bool     `json:"online"`
	PlayersOnline int      `json:"players_online"`
	PlayersMax    int      `json:"players_max"`
	Roster        []string `json:"roster,omitempty"` // nil when the protocol does not list players
	Version       string   `json:"version,omitempty"`
	Protocol      int      `json:"protocol,omitempty"`
	MOTD          string   `json:"motd,omitempty"`
	Icon          string   `json:"icon,omitempty"` // data URI, java only
	Software      string   `json:"software,omitempty"`
	Gamemode      string   `json:"gamemode,omitempty"` // bedrock only
}

// Players is the normalized player summary of a snapshot
type Players struct {
	Online int      `json:"online"`
	Max    int      `json:"max"`
	Roster []string `json:"roster"`
}

// Snapshot is the normalized status of the server at one point in time
type Snapshot struct {
	Online     bool      `json:"online"`
	Players    Players   `json:"players"`
	Raw        RawStatus `json:"raw"`
	ObservedAt time.Time `json:"observed_at"`
}

// OfflineSnapshot returns a snapshot for a server that could not be reached
func OfflineSnapshot(variant Variant, at time.Time) Snapshot {
	return Snapshot{
		Online:     false,
		Players:    Players{Roster: []string{}},
		Raw:        RawStatus{Variant: variant},
		ObservedAt: at,
	}
}

// MessageRef identifies the persisted status message
type MessageRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// formatCodeRegex matches Minecraft section-sign formatting codes like §a, §l
var formatCodeRegex = regexp.MustCompile(`§[0-9a-fk-orA-FK-OR]`)

// CleanText removes Minecraft formatting codes from a MOTD or player name
func CleanText(s string) string {
	return formatCodeRegex.ReplaceAllString(s, "")
}
