package store

import (
	"sort"
	"sync"

	"github.com/courtside/chatsync/chat"
)

// MessageStore is the ordered, deduplicated message list of one conversation.
// Pure state, no I/O. The session applies events serially, but snapshots are
// read from caller goroutines, hence the lock.
type MessageStore struct {
	sync.RWMutex

	byId  map[string]*chat.Message
	order []*chat.Message // sorted by (CreateTime, Id) asc
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		byId: make(map[string]*chat.Message),
	}
}

// Insert adds a message keyed by id. Re-inserting an identical message is a
// no-op with applied=false. An existing id with divergent field values never
// overwrites: the stored message wins and a `chat.ConflictError` is returned
// for observability, with applied=false.
func (s *MessageStore) Insert(m *chat.Message) (bool, error) {
	s.Lock()
	defer s.Unlock()

	if old, ok := s.byId[m.Id]; ok {
		if old.Equal(m) {
			return false, nil
		}
		return false, &chat.ConflictError{Id: m.Id}
	}

	cp := *m
	s.byId[cp.Id] = &cp

	at := sort.Search(len(s.order), func(i int) bool {
		return !s.order[i].Less(&cp)
	})
	s.order = append(s.order, nil)
	copy(s.order[at+1:], s.order[at:])
	s.order[at] = &cp
	return true, nil
}

// List returns a stable snapshot sorted by (CreateTime, Id). Callers may
// iterate freely: later inserts never mutate a returned slice.
func (s *MessageStore) List() []*chat.Message {
	s.RLock()
	defer s.RUnlock()

	out := make([]*chat.Message, len(s.order))
	for i, m := range s.order {
		cp := *m
		out[i] = &cp
	}
	return out
}

func (s *MessageStore) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.order)
}

// Get returns the message with the given id, or nil.
func (s *MessageStore) Get(id string) *chat.Message {
	s.RLock()
	defer s.RUnlock()
	if m, ok := s.byId[id]; ok {
		cp := *m
		return &cp
	}
	return nil
}

// LastCursor returns the resync position: the (CreateTime, Id) of the newest
// known message, or the zero cursor when empty.
func (s *MessageStore) LastCursor() chat.Cursor {
	s.RLock()
	defer s.RUnlock()
	if len(s.order) == 0 {
		return chat.Cursor{}
	}
	last := s.order[len(s.order)-1]
	return chat.Cursor{CreateTime: last.CreateTime, Id: last.Id}
}
