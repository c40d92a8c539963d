package main

import (
	"sync"

	"github.com/courtside/chatsync/transport"
)

// roomStore tracks the live clients of each conversation.
type roomStore struct {
	sync.RWMutex
	rooms map[string]map[string]*client // conversation -> sid -> client
}

func newRoomStore() *roomStore {
	return &roomStore{rooms: make(map[string]map[string]*client)}
}

func (rs *roomStore) add(c *client) {
	rs.Lock()
	room, ok := rs.rooms[c.conversation]
	if !ok {
		room = make(map[string]*client)
		rs.rooms[c.conversation] = room
	}
	room[c.sid] = c
	rs.Unlock()
}

func (rs *roomStore) del(c *client) bool {
	rs.Lock()
	defer rs.Unlock()
	room, ok := rs.rooms[c.conversation]
	if !ok {
		return false
	}
	if _, ok := room[c.sid]; !ok {
		return false
	}
	delete(room, c.sid)
	if len(room) == 0 {
		delete(rs.rooms, c.conversation)
	}
	return true
}

// broadcast fans one frame out to every client of the conversation.
func (rs *roomStore) broadcast(conversation string, f *transport.Frame) {
	rs.RLock()
	defer rs.RUnlock()
	for _, c := range rs.rooms[conversation] {
		c.appendFrame(f)
	}
}

// states snapshots the tracked presence of one conversation, for the sync
// frame sent to each new client.
func (rs *roomStore) states(conversation string) []transport.WirePresence {
	rs.RLock()
	defer rs.RUnlock()

	var out []transport.WirePresence
	for _, c := range rs.rooms[conversation] {
		if p := c.trackedPresence(); p != nil {
			out = append(out, *p)
		}
	}
	return out
}

func (rs *roomStore) close() {
	rs.RLock()
	var all []*client
	for _, room := range rs.rooms {
		for _, c := range room {
			all = append(all, c)
		}
	}
	rs.RUnlock()

	for _, c := range all {
		c.close(causeServerStop)
	}
}
