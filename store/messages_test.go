package store

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtside/chatsync/chat"
)

func msg(id string, sec int64, body string) *chat.Message {
	return &chat.Message{
		Id:             id,
		ConversationId: "g1",
		AuthorId:       "u1",
		AuthorDisplay:  "U One",
		Body:           body,
		CreateTime:     time.Unix(sec, 0).UTC(),
	}
}

func TestInsertIdempotent(t *testing.T) {
	s := NewMessageStore()

	applied, err := s.Insert(msg("a", 10, "hi"))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Insert(msg("a", 10, "hi"))
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Equal(t, 1, s.Len())
}

func TestInsertConflictKeepsOriginal(t *testing.T) {
	s := NewMessageStore()

	_, err := s.Insert(msg("a", 10, "original"))
	require.NoError(t, err)

	applied, err := s.Insert(msg("a", 10, "tampered"))
	assert.False(t, applied)

	var conflict *chat.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "a", conflict.Id)

	assert.Equal(t, "original", s.Get("a").Body)
}

func TestListOrderedWithIdTieBreak(t *testing.T) {
	s := NewMessageStore()

	// Same whole-second timestamp, inserted in reverse id order.
	_, err := s.Insert(msg("2", 10, "second"))
	require.NoError(t, err)
	_, err = s.Insert(msg("1", 10, "first"))
	require.NoError(t, err)

	out := s.List()
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].Id)
	assert.Equal(t, "2", out[1].Id)
}

func TestListSortedRegardlessOfInsertionOrder(t *testing.T) {
	s := NewMessageStore()

	// 200 messages across 4 shared timestamps, inserted in shuffled order,
	// every other one a retransmitted duplicate.
	const n = 200
	perm := rand.New(rand.NewSource(42)).Perm(n)
	for _, i := range perm {
		m := msg(fmt.Sprintf("%03d", i), int64(10+i%4), "x")
		_, err := s.Insert(m)
		require.NoError(t, err)
		if i%2 == 0 {
			applied, err := s.Insert(m)
			require.NoError(t, err)
			assert.False(t, applied)
		}
	}

	out := s.List()
	for i := 1; i < len(out); i++ {
		assert.True(t, out[i-1].Less(out[i]),
			"out[%d]=%s/%d not before out[%d]=%s/%d",
			i-1, out[i-1].Id, out[i-1].CreateTime.Unix(),
			i, out[i].Id, out[i].CreateTime.Unix())
	}

	// Exactly one entry per distinct id.
	seen := make(map[string]bool)
	for _, m := range out {
		assert.False(t, seen[m.Id], "duplicate id %s", m.Id)
		seen[m.Id] = true
	}
}

func TestListSnapshotIsStable(t *testing.T) {
	s := NewMessageStore()

	_, err := s.Insert(msg("b", 20, "later"))
	require.NoError(t, err)

	snapshot := s.List()
	_, err = s.Insert(msg("a", 10, "earlier"))
	require.NoError(t, err)

	require.Len(t, snapshot, 1)
	assert.Equal(t, "b", snapshot[0].Id)

	// Mutating the snapshot must not leak back into the store.
	snapshot[0].Body = "mutated"
	assert.Equal(t, "later", s.Get("b").Body)
}

func TestLastCursor(t *testing.T) {
	s := NewMessageStore()
	assert.True(t, s.LastCursor().IsZero())

	_, err := s.Insert(msg("a", 10, "x"))
	require.NoError(t, err)
	_, err = s.Insert(msg("b", 30, "y"))
	require.NoError(t, err)
	_, err = s.Insert(msg("c", 20, "z"))
	require.NoError(t, err)

	cur := s.LastCursor()
	assert.Equal(t, "b", cur.Id)
	assert.Equal(t, int64(30), cur.CreateTime.Unix())
}
