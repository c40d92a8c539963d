package chat

import (
	"time"
)

// Message is one immutable chat message. The server assigns Id and CreateTime;
// within a conversation messages are totally ordered by (CreateTime, Id), Id
// being the tie-break because CreateTime has whole-second resolution.
type Message struct {
	Id             string    `json:"id"`
	ConversationId string    `json:"conversation_id"`
	AuthorId       string    `json:"author_id"`
	AuthorDisplay  string    `json:"author_display"`
	Body           string    `json:"body"`
	CreateTime     time.Time `json:"create_time"`
}

// Less reports whether m sorts before other per the (CreateTime, Id) order.
func (m *Message) Less(other *Message) bool {
	if m.CreateTime.Equal(other.CreateTime) {
		return m.Id < other.Id
	}
	return m.CreateTime.Before(other.CreateTime)
}

// Equal reports whether two messages carry identical field values.
// Used to tell a harmless retransmission from a conflicting one.
func (m *Message) Equal(other *Message) bool {
	return m.Id == other.Id &&
		m.ConversationId == other.ConversationId &&
		m.AuthorId == other.AuthorId &&
		m.AuthorDisplay == other.AuthorDisplay &&
		m.Body == other.Body &&
		m.CreateTime.Equal(other.CreateTime)
}

// Cursor is a resync position: fetch messages strictly after (CreateTime, Id).
// The zero Cursor means "from the beginning".
type Cursor struct {
	CreateTime time.Time `json:"create_time"`
	Id         string    `json:"id"`
}

// IsZero reports whether the cursor points at the beginning of history.
func (c Cursor) IsZero() bool {
	return c.CreateTime.IsZero() && c.Id == ""
}

// PresenceInfo identifies one live connection: a user may hold several
// (one per tab or device).
type PresenceInfo struct {
	UserId       string `json:"user_id"`
	ConnectionId string `json:"connection_id"`
}

// PresenceState is one entry of an authoritative presence snapshot.
type PresenceState struct {
	UserId       string    `json:"user_id"`
	ConnectionId string    `json:"connection_id"`
	LastSeenTime time.Time `json:"last_seen_time"`
}

// Draft is a pending outbound send, queued while the session is not connected.
// ClientId is assigned at enqueue time and survives in the offline cache.
type Draft struct {
	ClientId  string    `json:"client_id"`
	AuthorId  string    `json:"author_id"`
	Body      string    `json:"body"`
	QueueTime time.Time `json:"queue_time"`
}

// SendOutcome is the three-way result of Conv.Send. "queued" is neither
// success nor failure: the draft waits for the next reconnect.
type SendOutcome int

const (
	SendFailed SendOutcome = iota
	SendSent
	SendQueued
)

func (o SendOutcome) String() string {
	switch o {
	case SendSent:
		return "sent"
	case SendQueued:
		return "queued"
	case SendFailed:
		return "failed"
	}
	return "unknown"
}
