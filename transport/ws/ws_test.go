package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtside/chatsync/chat"
	"github.com/courtside/chatsync/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
}

// testServer upgrades every request and hands the server side of each
// connection to the test.
type testServer struct {
	*httptest.Server
	connC chan *serverConn
}

type serverConn struct {
	conn         *websocket.Conn
	conversation string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{connC: make(chan *serverConn, 4)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.connC <- &serverConn{conn: conn, conversation: r.URL.Query().Get("conversation")}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *testServer) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case c := <-s.connC:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server-side connection")
		return nil
	}
}

// recHandlers records handler invocations behind a mutex; the websocket read
// goroutine invokes them.
type recHandlers struct {
	sync.Mutex
	inserts []*chat.Message
	joins   []chat.PresenceInfo
	drops   []error
}

func (r *recHandlers) handlers() *chat.Handlers {
	return &chat.Handlers{
		OnInsert: func(m *chat.Message) {
			r.Lock()
			r.inserts = append(r.inserts, m)
			r.Unlock()
		},
		OnPresenceJoin: func(p chat.PresenceInfo, _ time.Time) {
			r.Lock()
			r.joins = append(r.joins, p)
			r.Unlock()
		},
		OnPresenceLeave: func(chat.PresenceInfo, time.Time) {},
		OnPresenceSync:  func([]chat.PresenceState) {},
		OnStatusChange: func(up bool, err error) {
			if !up {
				r.Lock()
				r.drops = append(r.drops, err)
				r.Unlock()
			}
		},
	}
}

func (r *recHandlers) insertCount() int {
	r.Lock()
	defer r.Unlock()
	return len(r.inserts)
}

func (r *recHandlers) dropCount() int {
	r.Lock()
	defer r.Unlock()
	return len(r.drops)
}

func TestSubscribeDeliversFrames(t *testing.T) {
	srv := newTestServer(t)
	tr := New(srv.wsURL(), nil)
	rec := &recHandlers{}

	sub, err := tr.Subscribe(context.Background(), "g1", rec.handlers())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sc := srv.accept(t)
	assert.Equal(t, "g1", sc.conversation, "conversation id rides the query string")

	require.NoError(t, sc.conn.WriteJSON(&transport.Frame{
		Type: transport.FrameInsert,
		Message: &transport.WireMessage{
			Id: "a", ConversationId: "g1", AuthorId: "u2", Body: "hi", CreateTimeMs: 1000,
		},
	}))
	require.NoError(t, sc.conn.WriteJSON(&transport.Frame{
		Type:     transport.FrameJoin,
		Presence: &transport.WirePresence{UserId: "u2", ConnectionId: "c2", AtMs: 2000},
	}))
	// An unknown frame type is tolerated, not a drop.
	require.NoError(t, sc.conn.WriteJSON(&transport.Frame{Type: "future-thing"}))
	require.NoError(t, sc.conn.WriteJSON(&transport.Frame{
		Type: transport.FrameInsert,
		Message: &transport.WireMessage{
			Id: "b", ConversationId: "g1", AuthorId: "u2", Body: "still here", CreateTimeMs: 3000,
		},
	}))

	require.Eventually(t, func() bool { return rec.insertCount() == 2 },
		5*time.Second, 5*time.Millisecond)

	rec.Lock()
	assert.Equal(t, "a", rec.inserts[0].Id)
	assert.Equal(t, "b", rec.inserts[1].Id)
	require.Len(t, rec.joins, 1)
	assert.Equal(t, chat.PresenceInfo{UserId: "u2", ConnectionId: "c2"}, rec.joins[0])
	assert.Empty(t, rec.drops)
	rec.Unlock()
}

func TestTrackWritesPresenceFrame(t *testing.T) {
	srv := newTestServer(t)
	tr := New(srv.wsURL(), nil)
	rec := &recHandlers{}

	sub, err := tr.Subscribe(context.Background(), "g1", rec.handlers())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sc := srv.accept(t)
	require.NoError(t, sub.Track(context.Background(), chat.PresenceInfo{UserId: "u1", ConnectionId: "c1"}))

	var f transport.Frame
	require.NoError(t, sc.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, sc.conn.ReadJSON(&f))

	assert.Equal(t, transport.FrameTrack, f.Type)
	require.NotNil(t, f.Presence)
	assert.Equal(t, "u1", f.Presence.UserId)
	assert.Equal(t, "c1", f.Presence.ConnectionId)
}

func TestServerDropSignalsStatusChange(t *testing.T) {
	srv := newTestServer(t)
	tr := New(srv.wsURL(), nil)
	rec := &recHandlers{}

	sub, err := tr.Subscribe(context.Background(), "g1", rec.handlers())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sc := srv.accept(t)
	require.NoError(t, sc.conn.Close())

	require.Eventually(t, func() bool { return rec.dropCount() == 1 },
		5*time.Second, 5*time.Millisecond)
}

func TestUnsubscribeAfterDropClosesSocket(t *testing.T) {
	srv := newTestServer(t)
	tr := New(srv.wsURL(), nil)
	rec := &recHandlers{}

	sub, err := tr.Subscribe(context.Background(), "g1", rec.handlers())
	require.NoError(t, err)

	sc := srv.accept(t)
	require.NoError(t, sc.conn.Close())
	require.Eventually(t, func() bool { return rec.dropCount() == 1 },
		5*time.Second, 5*time.Millisecond)

	// Teardown after the drop must still close the local fd.
	_ = sub.Unsubscribe()
	_, werr := sub.(*subscription).conn.UnderlyingConn().Write([]byte("x"))
	assert.Error(t, werr, "socket leaks after a transport drop")
}

func TestUnsubscribeIsQuietAndIdempotent(t *testing.T) {
	srv := newTestServer(t)
	tr := New(srv.wsURL(), nil)
	rec := &recHandlers{}

	sub, err := tr.Subscribe(context.Background(), "g1", rec.handlers())
	require.NoError(t, err)
	srv.accept(t)

	require.NoError(t, sub.Unsubscribe())
	assert.NoError(t, sub.Unsubscribe())

	// A deliberate teardown is not a transport drop.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.dropCount())

	// Writes after teardown are refused.
	err = sub.Track(context.Background(), chat.PresenceInfo{UserId: "u1", ConnectionId: "c1"})
	assert.ErrorIs(t, err, chat.ErrClosed)
}

func TestDialFailureReturnsError(t *testing.T) {
	tr := New("ws://127.0.0.1:1/realtime", nil)
	_, err := tr.Subscribe(context.Background(), "g1", (&recHandlers{}).handlers())
	assert.Error(t, err)
}
