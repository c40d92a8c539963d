// Package offline is the durable local fallback: it lets a conversation
// render stale history and queue outgoing drafts while the realtime session
// is not connected. It is a best-effort cache, not a source of truth —
// pending drafts are lost if the backing file is cleared, by contract.
package offline

import (
	"encoding/json"
	"fmt"

	"github.com/golang/glog"
	bolt "go.etcd.io/bbolt"

	"github.com/courtside/chatsync/chat"
)

var (
	snapshotsBucket = []byte("snapshots")
	pendingBucket   = []byte("pending")
)

// Cache stores per-conversation message snapshots and FIFO draft queues in
// one bbolt file. Snapshot writes are last-writer-wins per conversation key.
type Cache struct {
	db *bolt.DB
}

// Open opens (or creates) the cache file.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("offline: open %s: %v", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(snapshotsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(pendingBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("offline: init buckets: %v", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// SaveSnapshot replaces the cached message list for a conversation.
func (c *Cache) SaveSnapshot(conversationId string, msgs []*chat.Message) error {
	value, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("offline: marshal snapshot: %v", err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).Put([]byte(conversationId), value)
	})
}

// LoadSnapshot returns the cached message list, possibly stale, possibly
// empty. A corrupt entry is dropped rather than surfaced: the cache only
// ever degrades to "no local history".
func (c *Cache) LoadSnapshot(conversationId string) ([]*chat.Message, error) {
	var out []*chat.Message

	err := c.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(snapshotsBucket).Get([]byte(conversationId))
		if value == nil {
			return nil
		}
		if err := json.Unmarshal(value, &out); err != nil {
			glog.Errorf("offline: drop corrupt snapshot for %s: %v", conversationId, err)
			out = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EnqueuePending appends a draft to the conversation's FIFO queue.
func (c *Cache) EnqueuePending(conversationId string, d chat.Draft) error {
	value, err := json.Marshal(&d)
	if err != nil {
		return fmt.Errorf("offline: marshal draft: %v", err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		q, err := tx.Bucket(pendingBucket).CreateBucketIfNotExists([]byte(conversationId))
		if err != nil {
			return err
		}
		seq, err := q.NextSequence()
		if err != nil {
			return err
		}
		return q.Put(seqKey(seq), value)
	})
}

// DrainPending removes and returns all queued drafts in FIFO order.
func (c *Cache) DrainPending(conversationId string) ([]chat.Draft, error) {
	var out []chat.Draft

	err := c.db.Update(func(tx *bolt.Tx) error {
		q := tx.Bucket(pendingBucket).Bucket([]byte(conversationId))
		if q == nil {
			return nil
		}

		cur := q.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var d chat.Draft
			if err := json.Unmarshal(v, &d); err != nil {
				glog.Errorf("offline: drop corrupt draft for %s: %v", conversationId, err)
				continue
			}
			out = append(out, d)
		}
		return tx.Bucket(pendingBucket).DeleteBucket([]byte(conversationId))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PendingLen returns the number of queued drafts.
func (c *Cache) PendingLen(conversationId string) (int, error) {
	var n int
	err := c.db.View(func(tx *bolt.Tx) error {
		if q := tx.Bucket(pendingBucket).Bucket([]byte(conversationId)); q != nil {
			n = q.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// seqKey renders a bucket sequence number as a big-endian sortable key, so
// cursor iteration yields FIFO order.
func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		k[i] = byte(seq)
		seq >>= 8
	}
	return k
}
