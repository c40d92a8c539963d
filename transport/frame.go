// Package transport defines the JSON event envelope shared by the realtime
// adapters. The backend's payload shapes are translated here into the core's
// Message/PresenceInfo model; nothing outside this directory parses wire
// bytes.
package transport

import (
	"fmt"
	"time"

	"github.com/courtside/chatsync/chat"
)

const (
	FrameInsert = "insert"
	FrameJoin   = "join"
	FrameLeave  = "leave"
	FrameSync   = "sync"
	FrameTrack  = "track"
)

// Frame is one event on the wire. Type selects which payload field is set.
type Frame struct {
	Type     string         `json:"type"`
	Message  *WireMessage   `json:"message,omitempty"`
	Presence *WirePresence  `json:"presence,omitempty"`
	States   []WirePresence `json:"states,omitempty"`
}

// WireMessage mirrors chat.Message with a unix-millisecond timestamp.
type WireMessage struct {
	Id             string `json:"id"`
	ConversationId string `json:"conversation_id"`
	AuthorId       string `json:"author_id"`
	AuthorDisplay  string `json:"author_display"`
	Body           string `json:"body"`
	CreateTimeMs   int64  `json:"create_time_ms"`
}

func (w *WireMessage) Decode() *chat.Message {
	return &chat.Message{
		Id:             w.Id,
		ConversationId: w.ConversationId,
		AuthorId:       w.AuthorId,
		AuthorDisplay:  w.AuthorDisplay,
		Body:           w.Body,
		CreateTime:     time.UnixMilli(w.CreateTimeMs).UTC(),
	}
}

func EncodeMessage(m *chat.Message) *WireMessage {
	return &WireMessage{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		AuthorId:       m.AuthorId,
		AuthorDisplay:  m.AuthorDisplay,
		Body:           m.Body,
		CreateTimeMs:   m.CreateTime.UnixMilli(),
	}
}

// WirePresence is one connection's identity plus event time.
type WirePresence struct {
	UserId       string `json:"user_id"`
	ConnectionId string `json:"connection_id"`
	AtMs         int64  `json:"at_ms"`
}

func (w *WirePresence) Info() chat.PresenceInfo {
	return chat.PresenceInfo{UserId: w.UserId, ConnectionId: w.ConnectionId}
}

func (w *WirePresence) At() time.Time {
	return time.UnixMilli(w.AtMs).UTC()
}

// TrackFrame builds the outbound presence announcement.
func TrackFrame(info chat.PresenceInfo, at time.Time) *Frame {
	return &Frame{
		Type: FrameTrack,
		Presence: &WirePresence{
			UserId:       info.UserId,
			ConnectionId: info.ConnectionId,
			AtMs:         at.UnixMilli(),
		},
	}
}

// Apply demultiplexes one inbound frame into the subscription handlers.
// Unknown types are an error so adapters can log and move on.
func Apply(f *Frame, h *chat.Handlers) error {
	switch f.Type {
	case FrameInsert:
		if f.Message == nil {
			return fmt.Errorf("transport: insert frame without message")
		}
		h.OnInsert(f.Message.Decode())

	case FrameJoin:
		if f.Presence == nil {
			return fmt.Errorf("transport: join frame without presence")
		}
		h.OnPresenceJoin(f.Presence.Info(), f.Presence.At())

	case FrameLeave:
		if f.Presence == nil {
			return fmt.Errorf("transport: leave frame without presence")
		}
		h.OnPresenceLeave(f.Presence.Info(), f.Presence.At())

	case FrameSync:
		states := make([]chat.PresenceState, 0, len(f.States))
		for _, w := range f.States {
			states = append(states, chat.PresenceState{
				UserId:       w.UserId,
				ConnectionId: w.ConnectionId,
				LastSeenTime: w.At(),
			})
		}
		h.OnPresenceSync(states)

	default:
		return fmt.Errorf("transport: unknown frame type %q", f.Type)
	}
	return nil
}
