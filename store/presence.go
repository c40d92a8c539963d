package store

import (
	"sort"
	"sync"
	"time"

	"github.com/courtside/chatsync/chat"
)

// DefaultPresenceTTL is how long a connection stays counted without a
// heartbeat. Covers sockets that dropped without ever sending leave.
const DefaultPresenceTTL = 45 * time.Second

// PresenceSet tracks which connections are attached to one conversation.
// A user is online iff at least one of its connections is live: closing one
// of several tabs must not mark the user offline.
type PresenceSet struct {
	sync.RWMutex

	ttl time.Duration
	// userId -> connectionId -> last seen
	conns map[string]map[string]time.Time
}

func NewPresenceSet(ttl time.Duration) *PresenceSet {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &PresenceSet{
		ttl:   ttl,
		conns: make(map[string]map[string]time.Time),
	}
}

// Join records a live (userId, connectionId) pair. Re-join of a known pair
// refreshes its last-seen time, which is also the heartbeat path.
func (p *PresenceSet) Join(userId, connectionId string, at time.Time) {
	p.Lock()
	v, ok := p.conns[userId]
	if !ok {
		v = make(map[string]time.Time)
		p.conns[userId] = v
	}
	if last, ok := v[connectionId]; !ok || at.After(last) {
		v[connectionId] = at
	}
	p.Unlock()
}

// Leave removes one connection. An unknown pair is a no-op: leave can
// legitimately race with SyncFull.
func (p *PresenceSet) Leave(userId, connectionId string) {
	p.Lock()
	if v, ok := p.conns[userId]; ok {
		delete(v, connectionId)
		if len(v) == 0 {
			delete(p.conns, userId)
		}
	}
	p.Unlock()
}

// SyncFull replaces the entire known presence state with an authoritative
// snapshot, used after (re)connect to repair any gap.
func (p *PresenceSet) SyncFull(states []chat.PresenceState) {
	p.Lock()
	p.conns = make(map[string]map[string]time.Time, len(states))
	for _, st := range states {
		v, ok := p.conns[st.UserId]
		if !ok {
			v = make(map[string]time.Time)
			p.conns[st.UserId] = v
		}
		v[st.ConnectionId] = st.LastSeenTime
	}
	p.Unlock()
}

// OnlineUserIds returns the sorted ids of users with at least one live
// connection.
func (p *PresenceSet) OnlineUserIds() []string {
	p.RLock()
	out := make([]string, 0, len(p.conns))
	for uid, v := range p.conns {
		if len(v) > 0 {
			out = append(out, uid)
		}
	}
	p.RUnlock()

	sort.Strings(out)
	return out
}

// States returns a snapshot of every live connection, for subscribers and
// for persisting alongside message snapshots.
func (p *PresenceSet) States() []chat.PresenceState {
	p.RLock()
	defer p.RUnlock()

	var out []chat.PresenceState
	for uid, v := range p.conns {
		for cid, last := range v {
			out = append(out, chat.PresenceState{
				UserId:       uid,
				ConnectionId: cid,
				LastSeenTime: last,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserId == out[j].UserId {
			return out[i].ConnectionId < out[j].ConnectionId
		}
		return out[i].UserId < out[j].UserId
	})
	return out
}

// Sweep drops connections whose last-seen time is older than the TTL and
// returns how many were removed.
func (p *PresenceSet) Sweep(now time.Time) int {
	p.Lock()
	defer p.Unlock()

	var n int
	for uid, v := range p.conns {
		for cid, last := range v {
			if now.Sub(last) > p.ttl {
				delete(v, cid)
				n++
			}
		}
		if len(v) == 0 {
			delete(p.conns, uid)
		}
	}
	return n
}
