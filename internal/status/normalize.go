// Package status turns raw query results into snapshots and lays out
// player lists for display.
package status

import (
	"time"

	"github.com/ernie/craftwatch/internal/domain"
)

// Normalize converts a raw query result into a snapshot.
// Every code path that derives a snapshot goes through here so the online
// policy is applied the same way everywhere.
func Normalize(raw domain.RawStatus, policy domain.OnlinePolicy, observedAt time.Time) domain.Snapshot {
	online := IsOnline(raw, policy)

	snap := domain.Snapshot{
		Online:     online,
		Raw:        raw,
		ObservedAt: observedAt,
		Players:    domain.Players{Roster: []string{}},
	}
	if !online {
		return snap
	}

	snap.Players.Online = max(raw.PlayersOnline, 0)
	snap.Players.Max = max(raw.PlayersMax, 0)
	// A zero max means the server did not report one
	if snap.Players.Max > 0 {
		snap.Players.Online = min(snap.Players.Online, snap.Players.Max)
	}
	if raw.Variant != domain.VariantBedrock && len(raw.Roster) > 0 {
		snap.Players.Roster = append([]string(nil), raw.Roster...)
	}
	return snap
}

// IsOnline applies the online policy to a raw result
func IsOnline(raw domain.RawStatus, policy domain.OnlinePolicy) bool {
	if policy == domain.PolicyRaw {
		return raw.Online
	}
	return raw.Online && raw.PlayersMax > 0
}
