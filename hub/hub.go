// Package hub is the façade consumed by UI surfaces: one Hub per signed-in
// client, one Conv handle per open conversation. Each Conv owns its own
// ChannelSession plus message/presence state; conversations are fully
// independent and share nothing but the offline cache file.
package hub

import (
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/courtside/chatsync/chat"
	"github.com/courtside/chatsync/offline"
	"github.com/courtside/chatsync/session"
)

const defaultSnapshotInterval = 10 * time.Second

// Config identifies the local user and tunes the per-conversation sessions.
type Config struct {
	UserId        string
	AuthorDisplay string

	PresenceTTL      time.Duration // 0: store default
	DedupCapacity    int           // 0: store default
	MaxAttempts      int           // 0: session default
	SnapshotInterval time.Duration // 0: 10s
}

// Hub creates and tracks conversation handles. Collaborators are injected:
// no globals, teardown is deterministic.
type Hub struct {
	sync.Mutex

	conf      Config
	transport chat.ITransport
	persist   chat.IPersistence
	cache     *offline.Cache

	convs  map[string]*Conv
	closed bool
}

func New(conf Config, transport chat.ITransport, persist chat.IPersistence, cache *offline.Cache) *Hub {
	if conf.SnapshotInterval <= 0 {
		conf.SnapshotInterval = defaultSnapshotInterval
	}
	return &Hub{
		conf:      conf,
		transport: transport,
		persist:   persist,
		cache:     cache,
		convs:     make(map[string]*Conv),
	}
}

// Open returns the handle for a conversation, creating it on first use. The
// offline snapshot is loaded before connecting, so callers can render stale
// history immediately; the session then resyncs past it. Reopening an id
// that is already open returns the same handle.
func (h *Hub) Open(conversationId string) (*Conv, error) {
	h.Lock()
	defer h.Unlock()

	if h.closed {
		return nil, chat.ErrClosed
	}
	if c, ok := h.convs[conversationId]; ok {
		return c, nil
	}

	c := &Conv{
		hub:      h,
		id:       conversationId,
		msgSubs:  make(map[int]func([]*chat.Message)),
		presSubs: make(map[int]func([]string)),
		statSubs: make(map[int]func(session.State)),
		snapStop: make(chan struct{}),
	}

	c.sess = session.New(session.Config{
		ConversationId: conversationId,
		Self: chat.PresenceInfo{
			UserId:       h.conf.UserId,
			ConnectionId: strings.ReplaceAll(uuid.New(), "-", ""),
		},
		AuthorDisplay: h.conf.AuthorDisplay,
		PresenceTTL:   h.conf.PresenceTTL,
		DedupCapacity: h.conf.DedupCapacity,
		MaxAttempts:   h.conf.MaxAttempts,
	}, h.transport, h.persist, c)

	c.preload()

	if err := c.sess.Connect(); err != nil {
		return nil, err
	}
	go c.snapshotLoop(h.conf.SnapshotInterval)

	h.convs[conversationId] = c
	glog.V(5).Infof("hub: opened conversation %s", conversationId)
	return c, nil
}

// Close tears down every open conversation and the hub itself.
func (h *Hub) Close() {
	h.Lock()
	if h.closed {
		h.Unlock()
		return
	}
	h.closed = true
	convs := make([]*Conv, 0, len(h.convs))
	for _, c := range h.convs {
		convs = append(convs, c)
	}
	h.Unlock()

	for _, c := range convs {
		c.Close()
	}
	glog.V(5).Info("hub: closed")
}

func (h *Hub) forget(conversationId string) {
	h.Lock()
	delete(h.convs, conversationId)
	h.Unlock()
}
