// Package ws implements chat.ITransport over a websocket connection to the
// backend realtime endpoint.
package ws

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/courtside/chatsync/chat"
	"github.com/courtside/chatsync/transport"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read.
	readLimit = 65536
)

// Transport dials one websocket per subscription. One endpoint serves every
// conversation; the conversation id rides in the query string.
type Transport struct {
	endpoint string
	header   http.Header
	dialer   *websocket.Dialer
}

func New(endpoint string, header http.Header) *Transport {
	return &Transport{
		endpoint: endpoint,
		header:   header,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
	}
}

// Subscribe implements chat.ITransport.
func (t *Transport) Subscribe(ctx context.Context, conversationId string, h *chat.Handlers) (chat.ISubscription, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("conversation", conversationId)
	u.RawQuery = q.Encode()

	conn, resp, err := t.dialer.DialContext(ctx, u.String(), t.header)
	if err != nil {
		if resp != nil {
			glog.Errorf("ws: dial %s: %v, status: %s", u, err, resp.Status)
		}
		return nil, err
	}

	sub := &subscription{
		conversationId: conversationId,
		conn:           conn,
		h:              h,
		done:           make(chan struct{}),
	}

	go sub.recvLoop()
	go sub.pingLoop()
	return sub, nil
}

// subscription is one live websocket. Writes (track, ping, close) are
// mutex-serialized because gorilla allows a single concurrent writer.
type subscription struct {
	sync.Mutex

	conversationId string
	conn           *websocket.Conn
	h              *chat.Handlers
	done           chan struct{} // closed when recvLoop exits
	closing        bool

	closeOnce sync.Once
	closeErr  error
}

// Track implements chat.ISubscription.
func (s *subscription) Track(ctx context.Context, info chat.PresenceInfo) error {
	return s.writeFrame(transport.TrackFrame(info, time.Now()))
}

// Unsubscribe implements chat.ISubscription. It always releases the
// underlying connection: `closing` only suppresses the close announcement
// and the drop signal, a subscription that already observed a read error
// still holds a live socket until the fd is closed here. After Unsubscribe
// returns, no handler is invoked for this subscription again.
func (s *subscription) Unsubscribe() error {
	s.Lock()
	if !s.closing {
		s.closing = true
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
	}
	s.Unlock()

	err := s.closeConn()
	<-s.done
	return err
}

// closeConn closes the websocket exactly once, whoever gets there first.
func (s *subscription) closeConn() error {
	s.closeOnce.Do(func() { s.closeErr = s.conn.Close() })
	return s.closeErr
}

func (s *subscription) writeFrame(f *transport.Frame) error {
	s.Lock()
	defer s.Unlock()
	if s.closing {
		return chat.ErrClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}

// recvLoop reads frames until error, demultiplexing through the shared
// decoder. A read error on a live subscription is the transport-drop signal.
func (s *subscription) recvLoop() {
	defer close(s.done)

	s.conn.SetReadLimit(readLimit)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f transport.Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			s.Lock()
			closing := s.closing
			s.closing = true
			s.Unlock()

			if !closing {
				glog.Errorf("ws %s: read: %v", s.conversationId, err)
				s.h.OnStatusChange(false, err)
			}
			return
		}

		glog.V(7).Infof("ws %s: frame %s", s.conversationId, f.Type)
		if err := transport.Apply(&f, s.h); err != nil {
			// Tolerate unknown frames: newer backends may emit types this
			// client does not know yet.
			glog.Errorf("ws %s: %v", s.conversationId, err)
		}
	}
}

func (s *subscription) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Lock()
			if s.closing {
				s.Unlock()
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.Unlock()

			if err != nil {
				glog.Errorf("ws %s: ping: %v", s.conversationId, err)
				// recvLoop will fail on the dead connection and report.
				_ = s.closeConn()
				return
			}
		}
	}
}
