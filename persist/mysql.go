// Package persist implements the collaborator persistence contract over
// MySQL. The server side of the contract: ids and timestamps are assigned
// here, never by callers.
package persist

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/courtside/chatsync/chat"
)

const (
	insertMessageSQL = "INSERT INTO messages (id, conversation_id, author_id, author_display, body, create_time) " +
		"VALUES (?,?,?,?,?,?)"
	fetchSinceSQL = "SELECT id, conversation_id, author_id, author_display, body, create_time FROM messages " +
		"WHERE conversation_id = ? AND (create_time > ? OR (create_time = ? AND id > ?)) " +
		"ORDER BY create_time, id LIMIT ?"
	fetchAllSQL = "SELECT id, conversation_id, author_id, author_display, body, create_time FROM messages " +
		"WHERE conversation_id = ? ORDER BY create_time, id LIMIT ?"
)

// Store implements chat.IPersistence.
type Store struct {
	*sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db}
}

func (s *Store) withTx(ctx context.Context, exec func(ctx context.Context, tx *sql.Tx) error, opts ...*sql.TxOptions) error {
	var txOpts *sql.TxOptions
	if len(opts) == 0 {
		txOpts = &sql.TxOptions{
			Isolation: sql.LevelRepeatableRead,
			ReadOnly:  false,
		}
	} else {
		txOpts = opts[0]
	}
	tx, err := s.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	if err := exec(ctx, tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			glog.Errorf("failed to rollback: %v", err2)
		}
		return err
	}

	return tx.Commit()
}

// InsertMessage persists one message with a fresh id and the server clock,
// truncated to whole seconds — which is why (create_time, id) is the
// conversation order, not create_time alone.
func (s *Store) InsertMessage(ctx context.Context, conversationId, authorId, authorDisplay, body string) (*chat.Message, error) {
	m := &chat.Message{
		Id:             newMessageId(),
		ConversationId: conversationId,
		AuthorId:       authorId,
		AuthorDisplay:  authorDisplay,
		Body:           body,
		CreateTime:     time.Now().UTC().Truncate(time.Second),
	}

	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertMessageSQL,
			m.Id, m.ConversationId, m.AuthorId, m.AuthorDisplay, m.Body, m.CreateTime)
		if err != nil && IsDupKeyError(err) {
			// uuid collision, try once more.
			m.Id = newMessageId()
			_, err = tx.ExecContext(ctx, insertMessageSQL,
				m.Id, m.ConversationId, m.AuthorId, m.AuthorDisplay, m.Body, m.CreateTime)
		}
		return err
	})
	if err != nil {
		glog.Errorf("insert message err: %v", err)
		return nil, err
	}
	return m, nil
}

// FetchMessagesSince returns up to `limit` messages strictly after the
// cursor, keyset-paginated on (create_time, id).
func (s *Store) FetchMessagesSince(ctx context.Context, conversationId string, since chat.Cursor, limit int) ([]*chat.Message, error) {
	var out []*chat.Message

	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var rows *sql.Rows
		var err error
		if since.IsZero() {
			rows, err = tx.QueryContext(ctx, fetchAllSQL, conversationId, limit)
		} else {
			rows, err = tx.QueryContext(ctx, fetchSinceSQL,
				conversationId, since.CreateTime, since.CreateTime, since.Id, limit)
		}
		if err != nil {
			glog.Errorf("fetch messages query err: %v", err)
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var m chat.Message
			if err := rows.Scan(&m.Id, &m.ConversationId, &m.AuthorId, &m.AuthorDisplay, &m.Body, &m.CreateTime); err != nil {
				glog.Errorf("fetch messages scan err: %v", err)
				return err
			}
			m.CreateTime = m.CreateTime.UTC()
			out = append(out, &m)
		}
		return rows.Err()
	}, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func IsDupKeyError(err error) bool {
	if val, ok := err.(*mysql.MySQLError); ok {
		return val.Number == 1062
	}
	return false
}

func newMessageId() string {
	return strings.ReplaceAll(uuid.New(), "-", "")
}
