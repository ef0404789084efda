package reconcile

import (
	"context"

	"github.com/ernie/craftwatch/internal/domain"
)

// Querier fetches the raw server status
type Querier interface {
	Query(ctx context.Context, host string, port int, variant domain.Variant) (domain.RawStatus, error)
}

// PresenceSetter updates the bot's presence
type PresenceSetter interface {
	SetPresence(ctx context.Context, p domain.Presence) error
}

// MessageEditor overwrites an existing message with an embed.
// It returns domain.ErrMessageNotFound when the message is gone.
type MessageEditor interface {
	EditMessage(ctx context.Context, channelID, messageID string, view domain.Embed) error
}

// RefStore loads the reference of the persisted status message
type RefStore interface {
	LoadMessageRef(ctx context.Context) (domain.MessageRef, bool, error)
}

// EventSink receives transition events
type EventSink interface {
	Publish(event domain.Event)
}

// Ports groups the side-effect collaborators; nil members are skipped
type Ports struct {
	Refs     RefStore
	Editor   MessageEditor
	Presence PresenceSetter
	Sink     EventSink
}
