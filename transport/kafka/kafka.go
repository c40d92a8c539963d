// Package kafka implements chat.ITransport over a per-conversation topic,
// for server-side surfaces that embed the sync core next to the broker
// instead of the websocket edge.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/courtside/chatsync/chat"
	"github.com/courtside/chatsync/transport"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	trackTimeout = 3 * time.Second
)

// IReader is the consumed slice of kafka.Reader, split out for mocking.
type IReader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// IWriter is the consumed slice of kafka.Writer, split out for mocking.
type IWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Config locates the conversation topics.
type Config struct {
	Brokers     []string
	GroupId     string
	TopicPrefix string // topic = TopicPrefix + conversationId
}

// Transport implements chat.ITransport. NewReader/NewWriter are replaceable
// seams; tests swap in mocks.
type Transport struct {
	conf      Config
	NewReader func(topic string) IReader
	NewWriter func(topic string) IWriter
}

func New(conf Config) *Transport {
	t := &Transport{conf: conf}

	t.NewReader = func(topic string) IReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers: conf.Brokers,
			GroupID: conf.GroupId,
			Topic:   topic,
			Dialer: &kafka.Dialer{
				Timeout:   readTimeout,
				DualStack: true,
			},
		})
	}
	t.NewWriter = func(topic string) IWriter {
		return kafka.NewWriter(kafka.WriterConfig{
			Brokers:  conf.Brokers,
			Topic:    topic,
			Balancer: &kafka.Hash{},
			Dialer: &kafka.Dialer{
				Timeout:   writeTimeout,
				DualStack: true,
			},
		})
	}
	return t
}

// Subscribe implements chat.ITransport.
func (t *Transport) Subscribe(ctx context.Context, conversationId string, h *chat.Handlers) (chat.ISubscription, error) {
	topic := t.conf.TopicPrefix + conversationId

	sub := &subscription{
		conversationId: conversationId,
		reader:         t.NewReader(topic),
		writer:         t.NewWriter(topic),
		h:              h,
		done:           make(chan struct{}),
	}

	go sub.consumeLoop(ctx)
	return sub, nil
}

type subscription struct {
	sync.Mutex

	conversationId string
	reader         IReader
	writer         IWriter
	h              *chat.Handlers
	done           chan struct{}
	closing        bool

	closeOnce sync.Once
	closeErr  error
}

// Track implements chat.ISubscription: presence announcements ride the same
// topic as message frames.
func (s *subscription) Track(ctx context.Context, info chat.PresenceInfo) error {
	value, err := json.Marshal(transport.TrackFrame(info, time.Now()))
	if err != nil {
		return fmt.Errorf("kafka: marshal track frame: %v", err)
	}

	ctx2, cancel := context.WithTimeout(ctx, trackTimeout)
	defer cancel()
	return s.writer.WriteMessages(ctx2, kafka.Message{Value: value})
}

// Unsubscribe implements chat.ISubscription. It always releases the reader
// and writer: `closing` only suppresses the drop signal, a subscription that
// already observed a fetch error still holds the broker connections until
// they are closed here.
func (s *subscription) Unsubscribe() error {
	s.Lock()
	s.closing = true
	s.Unlock()

	s.closeOnce.Do(func() {
		s.closeErr = s.reader.Close() // unblocks FetchMessage
		_ = s.writer.Close()
	})
	<-s.done
	return s.closeErr
}

// consumeLoop fetches, demultiplexes and commits frames until the reader
// fails or the subscription closes. Commit happens after dispatch: a frame
// delivered twice across restarts is exactly what the dedup layer absorbs.
func (s *subscription) consumeLoop(ctx context.Context) {
	defer close(s.done)

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			s.Lock()
			closing := s.closing
			s.closing = true
			s.Unlock()

			if !closing && ctx.Err() == nil {
				glog.Errorf("kafka %s: fetch: %v", s.conversationId, err)
				s.h.OnStatusChange(false, err)
			}
			return
		}

		var f transport.Frame
		if err := json.Unmarshal(msg.Value, &f); err != nil {
			glog.Errorf("kafka %s: bad frame at offset %d: %v", s.conversationId, msg.Offset, err)
		} else if f.Type == transport.FrameTrack {
			// Our own and peers' announcements come back as joins.
			if f.Presence != nil {
				s.h.OnPresenceJoin(f.Presence.Info(), f.Presence.At())
			}
		} else if err := transport.Apply(&f, s.h); err != nil {
			glog.Errorf("kafka %s: %v", s.conversationId, err)
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() == nil {
				glog.Errorf("kafka %s: commit at offset %d: %v", s.conversationId, msg.Offset, err)
			}
		}
	}
}
