package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/courtside/chatsync/chat"
	"github.com/courtside/chatsync/session"
)

// Conv is one open conversation: the send/query surface plus reactive
// subscriptions over the session's message and presence state.
//
// Subscriber callbacks run with the handle's lock held, which is what makes
// Close able to stop delivery synchronously: after Close returns, no
// callback is invoked again. Callbacks must therefore not call back into the
// handle.
type Conv struct {
	sync.Mutex

	hub  *Hub
	id   string
	sess *session.ChannelSession

	msgSubs  map[int]func([]*chat.Message)
	presSubs map[int]func([]string)
	statSubs map[int]func(session.State)
	nextSub  int

	draining bool
	snapStop chan struct{}
	closed   bool
}

// Id returns the conversation id.
func (c *Conv) Id() string { return c.id }

// Status returns the session's connection state.
func (c *Conv) Status() session.State { return c.sess.State() }

// Messages returns a stable ordered snapshot of the conversation history.
func (c *Conv) Messages() []*chat.Message { return c.sess.Messages().List() }

// Online returns the sorted ids of users currently present.
func (c *Conv) Online() []string { return c.sess.Presence().OnlineUserIds() }

// Send delivers one message, three-way:
//   - SendSent: the session was connected and the insert persisted.
//   - SendQueued: not connected; the draft waits in the offline cache for
//     the next reconnect, where it is retried exactly once.
//   - SendFailed: the insert (or the queue write) failed. Never retried by
//     the core; resubmitting is the caller's call.
func (c *Conv) Send(ctx context.Context, body string) (chat.SendOutcome, *chat.Message, error) {
	c.Lock()
	if c.closed {
		c.Unlock()
		return chat.SendFailed, nil, chat.ErrClosed
	}
	c.Unlock()

	if c.sess.State() == session.Connected {
		m, err := c.sess.Send(ctx, body)
		if err == nil {
			return chat.SendSent, m, nil
		}
		if !errors.Is(err, chat.ErrNotConnected) {
			return chat.SendFailed, nil, err
		}
		// Lost the connection between the state check and the send; fall
		// through to the queue.
	}

	draft := chat.Draft{
		ClientId:  uuid.New(),
		AuthorId:  c.hub.conf.UserId,
		Body:      body,
		QueueTime: time.Now(),
	}
	if err := c.hub.cache.EnqueuePending(c.id, draft); err != nil {
		glog.Errorf("conv %s: enqueue draft: %v", c.id, err)
		return chat.SendFailed, nil, err
	}
	glog.V(5).Infof("conv %s: queued draft %s", c.id, draft.ClientId)
	return chat.SendQueued, nil, nil
}

// SubscribeMessages registers fn for message snapshots. It is invoked once
// immediately with the current snapshot, then after every applied change.
// The returned cancel is idempotent.
func (c *Conv) SubscribeMessages(fn func([]*chat.Message)) func() {
	c.Lock()
	defer c.Unlock()
	if c.closed {
		return func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.msgSubs[id] = fn
	fn(c.sess.Messages().List())
	return func() {
		c.Lock()
		delete(c.msgSubs, id)
		c.Unlock()
	}
}

// SubscribePresence registers fn for online-user snapshots, invoked once
// immediately and after every presence change.
func (c *Conv) SubscribePresence(fn func([]string)) func() {
	c.Lock()
	defer c.Unlock()
	if c.closed {
		return func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.presSubs[id] = fn
	fn(c.sess.Presence().OnlineUserIds())
	return func() {
		c.Lock()
		delete(c.presSubs, id)
		c.Unlock()
	}
}

// SubscribeStatus registers fn for connection-state changes, the aggregate
// degraded/offline signal surfaced to the UI.
func (c *Conv) SubscribeStatus(fn func(session.State)) func() {
	c.Lock()
	defer c.Unlock()
	if c.closed {
		return func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.statSubs[id] = fn
	fn(c.sess.State())
	return func() {
		c.Lock()
		delete(c.statSubs, id)
		c.Unlock()
	}
}

// Close tears the conversation down deterministically: no subscriber is
// invoked after it returns, the session is closed, and a final snapshot is
// persisted.
func (c *Conv) Close() {
	c.Lock()
	if c.closed {
		c.Unlock()
		return
	}
	c.closed = true
	c.Unlock()

	close(c.snapStop)
	c.sess.Close()
	c.saveSnapshot()
	c.hub.forget(c.id)
	glog.V(5).Infof("conv %s: closed", c.id)
}

// OnMessagesChanged implements session.Listener.
func (c *Conv) OnMessagesChanged() {
	c.Lock()
	defer c.Unlock()
	if c.closed || len(c.msgSubs) == 0 {
		return
	}
	snapshot := c.sess.Messages().List()
	for _, fn := range c.msgSubs {
		fn(snapshot)
	}
}

// OnPresenceChanged implements session.Listener.
func (c *Conv) OnPresenceChanged() {
	c.Lock()
	defer c.Unlock()
	if c.closed || len(c.presSubs) == 0 {
		return
	}
	online := c.sess.Presence().OnlineUserIds()
	for _, fn := range c.presSubs {
		fn(online)
	}
}

// OnStatus implements session.Listener. Entering Connected kicks off the
// pending-draft drain.
func (c *Conv) OnStatus(st session.State, err error) {
	c.Lock()
	if c.closed {
		c.Unlock()
		return
	}
	for _, fn := range c.statSubs {
		fn(st)
	}
	start := st == session.Connected && !c.draining
	if start {
		c.draining = true
	}
	c.Unlock()

	if err != nil {
		glog.V(5).Infof("conv %s: status %s: %v", c.id, st, err)
	}
	if start {
		go c.drainPending()
	}
}

// drainPending retries queued drafts FIFO, each exactly once per
// reconnection event. Persistence failures drop the draft (the core never
// auto-retries inserts); losing the connection mid-drain re-queues the rest
// for the next reconnect.
func (c *Conv) drainPending() {
	defer func() {
		c.Lock()
		c.draining = false
		c.Unlock()
	}()

	drafts, err := c.hub.cache.DrainPending(c.id)
	if err != nil {
		glog.Errorf("conv %s: drain pending: %v", c.id, err)
		return
	}
	if len(drafts) == 0 {
		return
	}
	glog.V(5).Infof("conv %s: draining %d pending drafts", c.id, len(drafts))

	for i, d := range drafts {
		_, err := c.sess.Send(context.Background(), d.Body)
		if err == nil {
			continue
		}
		if errors.Is(err, chat.ErrNotConnected) || errors.Is(err, chat.ErrClosed) {
			for _, rest := range drafts[i:] {
				if qerr := c.hub.cache.EnqueuePending(c.id, rest); qerr != nil {
					glog.Errorf("conv %s: requeue draft %s: %v", c.id, rest.ClientId, qerr)
				}
			}
			return
		}
		// Persistence failure: drop, observable via log and metrics.
		glog.Errorf("conv %s: draft %s failed: %v", c.id, d.ClientId, err)
	}
}

// preload seeds the message store from the offline snapshot so the UI can
// render before the transport is up. Resync starts past the newest cached
// message.
func (c *Conv) preload() {
	msgs, err := c.hub.cache.LoadSnapshot(c.id)
	if err != nil {
		glog.Errorf("conv %s: load snapshot: %v", c.id, err)
		return
	}
	for _, m := range msgs {
		if _, err := c.sess.Messages().Insert(m); err != nil {
			glog.Errorf("conv %s: preload: %v", c.id, err)
		}
	}
	if len(msgs) > 0 {
		glog.V(5).Infof("conv %s: preloaded %d cached messages", c.id, len(msgs))
	}
}

func (c *Conv) snapshotLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.snapStop:
			return
		case <-ticker.C:
			c.saveSnapshot()
		}
	}
}

func (c *Conv) saveSnapshot() {
	if err := c.hub.cache.SaveSnapshot(c.id, c.sess.Messages().List()); err != nil {
		glog.Errorf("conv %s: save snapshot: %v", c.id, err)
	}
}
