package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/courtside/chatsync/chat"
	"github.com/courtside/chatsync/store"
)

// State is the connection state of one ChannelSession.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Reconnecting
	Closed // terminal, via Close()
	Failed // terminal, retry budget exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	case Closed:
		return "CLOSED"
	case Failed:
		return "FAILED"
	}
	return "UNKNOWN"
}

const defaultFetchLimit = 100

// Config configures one ChannelSession.
type Config struct {
	ConversationId string
	Self           chat.PresenceInfo // identity tracked on the channel
	AuthorDisplay  string            // display snapshot attached to sends

	PresenceTTL   time.Duration // 0: store.DefaultPresenceTTL
	DedupCapacity int           // 0: store.DefaultDedupCapacity
	MaxAttempts   int           // 0: DefaultMaxAttempts
	FetchLimit    int           // resync page size, 0: 100
}

// Listener receives change notifications. All calls originate from the
// session's run loop or a Send caller; they are never invoked after the
// owning session is closed and the owner has detached.
type Listener interface {
	OnMessagesChanged()
	OnPresenceChanged()
	OnStatus(st State, err error)
}

type presenceEvent struct {
	info chat.PresenceInfo
	at   time.Time
}

// event is the run loop's inbox item: exactly one field is set.
type event struct {
	insert *chat.Message
	join   *presenceEvent
	leave  *presenceEvent
	sync   []chat.PresenceState
	drop   *chat.TransportError
}

// ChannelSession owns one logical realtime subscription for one
// conversation: a state machine around connect/backoff/resync that
// demultiplexes inbound events into MessageStore and PresenceSet. All event
// application happens on a single run-loop goroutine, so no two inbound
// events for the same conversation are ever applied concurrently.
type ChannelSession struct {
	sync.Mutex
	state State

	conf      Config
	transport chat.ITransport
	persist   chat.IPersistence
	listener  Listener

	msgs     *store.MessageStore
	presence *store.PresenceSet
	dedup    *store.DedupFilter

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a session in IDLE state. `listener` may be nil.
func New(conf Config, transport chat.ITransport, persist chat.IPersistence, listener Listener) *ChannelSession {
	if conf.MaxAttempts <= 0 {
		conf.MaxAttempts = DefaultMaxAttempts
	}
	if conf.FetchLimit <= 0 {
		conf.FetchLimit = defaultFetchLimit
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ChannelSession{
		conf:      conf,
		transport: transport,
		persist:   persist,
		listener:  listener,
		msgs:      store.NewMessageStore(),
		presence:  store.NewPresenceSet(conf.PresenceTTL),
		dedup:     store.NewDedupFilter(conf.DedupCapacity),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Messages exposes the conversation's message state for snapshot reads.
func (s *ChannelSession) Messages() *store.MessageStore { return s.msgs }

// Presence exposes the conversation's presence state for snapshot reads.
func (s *ChannelSession) Presence() *store.PresenceSet { return s.presence }

func (s *ChannelSession) State() State {
	s.Lock()
	defer s.Unlock()
	return s.state
}

// Connect starts the run loop. Only valid once, from IDLE.
func (s *ChannelSession) Connect() error {
	s.Lock()
	if s.state == Closed {
		s.Unlock()
		return chat.ErrClosed
	}
	if s.state != Idle {
		st := s.state
		s.Unlock()
		return fmt.Errorf("session: connect from %s", st)
	}
	s.state = Connecting
	s.Unlock()

	go s.run()
	return nil
}

// Close tears the session down: terminal, idempotent, and synchronous — when
// it returns the run loop has exited and no listener callback will follow.
func (s *ChannelSession) Close() {
	s.Lock()
	if s.state == Closed {
		s.Unlock()
		return
	}
	started := s.state != Idle
	s.state = Closed
	s.Unlock()

	s.cancel()
	if started {
		<-s.done
	}
	glog.V(5).Infof("session %s: closed", s.conf.ConversationId)
}

// Send persists one outbound message. Rejected with chat.ErrNotConnected
// unless CONNECTED: queuing while degraded is the controller's job. On
// success the echo is applied locally and pre-marked in the dedup filter so
// the transport's copy is dropped.
func (s *ChannelSession) Send(ctx context.Context, body string) (*chat.Message, error) {
	switch s.State() {
	case Closed:
		return nil, chat.ErrClosed
	case Connected:
	default:
		metricSends.WithLabelValues("rejected").Inc()
		return nil, chat.ErrNotConnected
	}

	m, err := s.persist.InsertMessage(ctx, s.conf.ConversationId,
		s.conf.Self.UserId, s.conf.AuthorDisplay, body)
	if err != nil {
		metricSends.WithLabelValues("failed").Inc()
		return nil, &chat.PersistenceError{Op: "insert", Err: err}
	}

	s.applyMessage(m)
	metricSends.WithLabelValues("sent").Inc()
	return m, nil
}

// run is the session's only event-applying goroutine. It cycles
// subscribe -> resync -> CONNECTED -> serve, re-entering with backoff on
// drops until the retry budget is exhausted or the session is closed.
func (s *ChannelSession) run() {
	defer close(s.done)

	ttl := s.conf.PresenceTTL
	if ttl <= 0 {
		ttl = store.DefaultPresenceTTL
	}
	sweep := time.NewTicker(ttl / 3)
	defer sweep.Stop()

	var delay time.Duration
	var attempts int

	for {
		inbox := make(chan event, 64)
		stop := make(chan struct{})
		sub, err := s.attach(inbox, stop)

		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			attempts++
			glog.Errorf("session %s: connect attempt %d failed: %v", s.conf.ConversationId, attempts, err)
			if attempts >= s.conf.MaxAttempts {
				s.setState(Failed, err)
				return
			}
			s.setState(Reconnecting, err)
			backoff(&delay)
			select {
			case <-time.After(delay):
				continue
			case <-s.ctx.Done():
				return
			}
		}

		if !s.setState(Connected, nil) {
			close(stop)
			_ = sub.Unsubscribe()
			return
		}
		connectedAt := time.Now()
		glog.V(5).Infof("session %s: connected", s.conf.ConversationId)

		dropErr := s.serve(inbox, sweep)
		close(stop)
		_ = sub.Unsubscribe()
		if s.ctx.Err() != nil {
			return
		}

		glog.Errorf("session %s: transport dropped: %v", s.conf.ConversationId, dropErr)

		// Drops consume the retry budget too, so an accept-then-drop loop
		// backs off and degrades instead of hammering resync. A connection
		// that stayed up long enough starts over.
		if time.Since(connectedAt) >= stableConnInterval {
			delay, attempts = 0, 0
		}
		attempts++
		if attempts >= s.conf.MaxAttempts {
			s.setState(Failed, dropErr)
			return
		}
		s.setState(Reconnecting, dropErr)
		backoff(&delay)
		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return
		}
	}
}

// attach subscribes, replays the history gap through the dedup path, and
// announces presence. Any failure leaves no live subscription behind.
func (s *ChannelSession) attach(inbox chan event, stop chan struct{}) (chat.ISubscription, error) {
	sub, err := s.transport.Subscribe(s.ctx, s.conf.ConversationId, s.handlers(inbox, stop))
	if err != nil {
		return nil, &chat.TransportError{Op: "subscribe", Err: err}
	}

	if err := s.resync(); err != nil {
		close(stop)
		_ = sub.Unsubscribe()
		return nil, err
	}

	if err := sub.Track(s.ctx, s.conf.Self); err != nil {
		close(stop)
		_ = sub.Unsubscribe()
		return nil, &chat.TransportError{Op: "track", Err: err}
	}
	return sub, nil
}

// serve applies inbox events serially until the transport drops or the
// session is closed. Returns the drop cause, nil on close.
func (s *ChannelSession) serve(inbox <-chan event, sweep *time.Ticker) error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case e := <-inbox:
			if e.drop != nil {
				return e.drop
			}
			s.apply(e)
		case <-sweep.C:
			if s.presence.Sweep(time.Now()) > 0 {
				glog.V(5).Infof("session %s: swept stale presence", s.conf.ConversationId)
				s.notifyPresence()
			}
		}
	}
}

// handlers adapts one subscription's callbacks into inbox events. Pushes
// give up once the subscription's stop channel or the session context
// closes, so teardown can never block a transport goroutine on a full inbox.
func (s *ChannelSession) handlers(inbox chan event, stop <-chan struct{}) *chat.Handlers {
	push := func(e event) {
		select {
		case inbox <- e:
		case <-stop:
		case <-s.ctx.Done():
		}
	}

	return &chat.Handlers{
		OnInsert: func(m *chat.Message) {
			push(event{insert: m})
		},
		OnPresenceJoin: func(p chat.PresenceInfo, at time.Time) {
			push(event{join: &presenceEvent{info: p, at: at}})
		},
		OnPresenceLeave: func(p chat.PresenceInfo, at time.Time) {
			push(event{leave: &presenceEvent{info: p, at: at}})
		},
		OnPresenceSync: func(states []chat.PresenceState) {
			if states == nil {
				states = []chat.PresenceState{}
			}
			push(event{sync: states})
		},
		OnStatusChange: func(up bool, err error) {
			if !up {
				push(event{drop: &chat.TransportError{Op: "read", Err: err}})
			}
		},
	}
}

// apply dispatches one first-seen event to the right reducer; duplicates are
// dropped silently.
func (s *ChannelSession) apply(e event) {
	switch {
	case e.insert != nil:
		s.applyMessage(e.insert)

	case e.join != nil:
		id := fmt.Sprintf("join:%s:%s:%d", e.join.info.UserId, e.join.info.ConnectionId, e.join.at.UnixNano())
		if s.dedup.Seen(id) {
			metricDuplicatesDropped.Inc()
			return
		}
		s.presence.Join(e.join.info.UserId, e.join.info.ConnectionId, e.join.at)
		metricEventsApplied.WithLabelValues("presence").Inc()
		s.notifyPresence()

	case e.leave != nil:
		id := fmt.Sprintf("leave:%s:%s:%d", e.leave.info.UserId, e.leave.info.ConnectionId, e.leave.at.UnixNano())
		if s.dedup.Seen(id) {
			metricDuplicatesDropped.Inc()
			return
		}
		s.presence.Leave(e.leave.info.UserId, e.leave.info.ConnectionId)
		metricEventsApplied.WithLabelValues("presence").Inc()
		s.notifyPresence()

	case e.sync != nil:
		s.presence.SyncFull(e.sync)
		metricEventsApplied.WithLabelValues("presence").Inc()
		s.notifyPresence()
	}
}

// applyMessage inserts through both idempotence layers: the dedup filter
// keyed by the server-stable message id, then the store's own id check.
func (s *ChannelSession) applyMessage(m *chat.Message) {
	if s.dedup.Seen("msg:" + m.Id) {
		metricDuplicatesDropped.Inc()
		return
	}

	applied, err := s.msgs.Insert(m)
	if err != nil {
		// Divergent payload for a known id. The stored message wins.
		metricConflicts.Inc()
		glog.Errorf("session %s: %v", s.conf.ConversationId, err)
		return
	}
	if applied {
		metricEventsApplied.WithLabelValues("message").Inc()
		s.notifyMessages()
	}
}

// resync fetches history beyond the last known (CreateTime, Id) so a
// transient disconnect never leaves the message list silently gapped.
func (s *ChannelSession) resync() error {
	since := s.msgs.LastCursor()
	for {
		page, err := s.persist.FetchMessagesSince(s.ctx, s.conf.ConversationId, since, s.conf.FetchLimit)
		if err != nil {
			return &chat.PersistenceError{Op: "fetch", Err: err}
		}
		for _, m := range page {
			s.applyMessage(m)
		}
		if len(page) < s.conf.FetchLimit {
			return nil
		}
		last := page[len(page)-1]
		since = chat.Cursor{CreateTime: last.CreateTime, Id: last.Id}
	}
}

// setState transitions unless already terminal. Returns false when the
// transition was refused.
func (s *ChannelSession) setState(st State, err error) bool {
	s.Lock()
	if s.state == Closed || s.state == Failed {
		s.Unlock()
		return false
	}
	prev := s.state
	s.state = st
	s.Unlock()

	if st == Connected && prev == Reconnecting {
		metricReconnects.Inc()
	}
	if s.listener != nil {
		s.listener.OnStatus(st, err)
	}
	return true
}

func (s *ChannelSession) notifyMessages() {
	if s.listener != nil {
		s.listener.OnMessagesChanged()
	}
}

func (s *ChannelSession) notifyPresence() {
	if s.listener != nil {
		s.listener.OnPresenceChanged()
	}
}
