package chat

import (
	"context"
	"time"
)

// IPersistence is the collaborator-provided message store. The server assigns
// message ids and timestamps; this core never writes history any other way.
type IPersistence interface {
	// InsertMessage persists one outbound message and returns the accepted
	// row with server-assigned Id and CreateTime.
	InsertMessage(ctx context.Context, conversationId, authorId, authorDisplay, body string) (*Message, error)

	// FetchMessagesSince returns up to `limit` messages strictly after the
	// cursor, ordered by (CreateTime, Id) ascending. A zero cursor means
	// from the beginning of retained history.
	FetchMessagesSince(ctx context.Context, conversationId string, since Cursor, limit int) ([]*Message, error)
}

// Handlers receives inbound realtime events for one subscription. All
// callbacks may be invoked from the transport's own goroutine; the session
// serializes them before they touch any state.
type Handlers struct {
	OnInsert        func(m *Message)
	OnPresenceJoin  func(p PresenceInfo, at time.Time)
	OnPresenceLeave func(p PresenceInfo, at time.Time)
	OnPresenceSync  func(states []PresenceState)

	// OnStatusChange reports transport liveness. `up=false` carries the
	// triggering error and means no further events until resubscribed.
	OnStatusChange func(up bool, err error)
}

// ITransport is the collaborator-provided realtime channel.
type ITransport interface {
	// Subscribe attaches to a conversation's event stream. Events flow into
	// `h` until Unsubscribe or a transport drop (signalled via OnStatusChange).
	Subscribe(ctx context.Context, conversationId string, h *Handlers) (ISubscription, error)
}

// ISubscription is one live attachment to a conversation.
type ISubscription interface {
	// Track announces this connection's presence on the channel.
	Track(ctx context.Context, info PresenceInfo) error

	// Unsubscribe detaches and releases the underlying connection. After it
	// returns no handler is invoked again.
	Unsubscribe() error
}
