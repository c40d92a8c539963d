package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtside/chatsync/chat"
	"github.com/courtside/chatsync/chat/mock"
)

const testConv = "g1"

// fakeSub hands the subscription's handlers to the test so it can play
// transport events by hand.
type fakeSub struct {
	sync.Mutex
	h        *chat.Handlers
	tracked  []chat.PresenceInfo
	unsubbed bool
}

func (s *fakeSub) Track(ctx context.Context, info chat.PresenceInfo) error {
	s.Lock()
	s.tracked = append(s.tracked, info)
	s.Unlock()
	return nil
}

func (s *fakeSub) Unsubscribe() error {
	s.Lock()
	s.unsubbed = true
	s.Unlock()
	return nil
}

type fakeTransport struct {
	sync.Mutex
	failures int           // fail this many Subscribe calls first
	subC     chan *fakeSub // delivers each live subscription to the test
	stamps   []time.Time   // when each Subscribe call arrived
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subC: make(chan *fakeSub, 8)}
}

func (t *fakeTransport) Subscribe(ctx context.Context, conversationId string, h *chat.Handlers) (chat.ISubscription, error) {
	t.Lock()
	defer t.Unlock()
	t.stamps = append(t.stamps, time.Now())
	if t.failures > 0 {
		t.failures--
		return nil, errors.New("dial refused")
	}
	s := &fakeSub{h: h}
	t.subC <- s
	return s, nil
}

func (t *fakeTransport) subscribeTimes() []time.Time {
	t.Lock()
	defer t.Unlock()
	out := make([]time.Time, len(t.stamps))
	copy(out, t.stamps)
	return out
}

// recListener turns listener callbacks into channels the test can wait on.
type recListener struct {
	statusC chan State
	msgC    chan struct{}
	presC   chan struct{}
}

func newRecListener() *recListener {
	return &recListener{
		statusC: make(chan State, 32),
		msgC:    make(chan struct{}, 256),
		presC:   make(chan struct{}, 256),
	}
}

func (l *recListener) OnMessagesChanged()         { l.msgC <- struct{}{} }
func (l *recListener) OnPresenceChanged()         { l.presC <- struct{}{} }
func (l *recListener) OnStatus(st State, _ error) { l.statusC <- st }

func waitStatus(t *testing.T, l *recListener, want State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-l.statusC:
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", want)
		}
	}
}

func waitSub(t *testing.T, tr *fakeTransport) *fakeSub {
	t.Helper()
	select {
	case s := <-tr.subC:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subscription")
		return nil
	}
}

func waitLen(t *testing.T, get func() int, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return get() == want },
		5*time.Second, 5*time.Millisecond)
}

func testMsg(id string, sec int64, body string) *chat.Message {
	return &chat.Message{
		Id:             id,
		ConversationId: testConv,
		AuthorId:       "u2",
		AuthorDisplay:  "U Two",
		Body:           body,
		CreateTime:     time.Unix(sec, 0).UTC(),
	}
}

func newTestSession(t *testing.T, tr chat.ITransport, p chat.IPersistence, l Listener) *ChannelSession {
	t.Helper()
	s := New(Config{
		ConversationId: testConv,
		Self:           chat.PresenceInfo{UserId: "u1", ConnectionId: "c1"},
		AuthorDisplay:  "U One",
	}, tr, p, l)
	t.Cleanup(s.Close)
	return s
}

func TestConnectResyncsAndAppliesEvents(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	tr := newFakeTransport()
	p := mock.NewMockIPersistence(mockCtrl)
	l := newRecListener()

	history := []*chat.Message{testMsg("a", 10, "old-1"), testMsg("b", 11, "old-2")}
	p.EXPECT().FetchMessagesSince(gomock.Any(), testConv, chat.Cursor{}, gomock.Any()).
		Return(history, nil)

	s := newTestSession(t, tr, p, l)
	require.NoError(t, s.Connect())

	sub := waitSub(t, tr)
	waitStatus(t, l, Connected)
	assert.Equal(t, 2, s.Messages().Len(), "history replayed on connect")

	assert.Equal(t, []chat.PresenceInfo{{UserId: "u1", ConnectionId: "c1"}}, sub.tracked)

	// Live insert, then the same event retransmitted.
	m := testMsg("c", 12, "fresh")
	sub.h.OnInsert(m)
	waitLen(t, s.Messages().Len, 3)
	sub.h.OnInsert(m)

	// Presence join from two tabs, leave from one.
	now := time.Now()
	sub.h.OnPresenceJoin(chat.PresenceInfo{UserId: "u2", ConnectionId: "tab-a"}, now)
	sub.h.OnPresenceLeave(chat.PresenceInfo{UserId: "u2", ConnectionId: "tab-b"}, now)
	sub.h.OnPresenceJoin(chat.PresenceInfo{UserId: "u3", ConnectionId: "tab-c"}, now)

	waitLen(t, func() int { return len(s.Presence().OnlineUserIds()) }, 2)
	assert.Equal(t, []string{"u2", "u3"}, s.Presence().OnlineUserIds())

	// The duplicate insert must not have landed twice.
	assert.Equal(t, 3, s.Messages().Len())
	out := s.Messages().List()
	assert.Equal(t, []string{"a", "b", "c"}, []string{out[0].Id, out[1].Id, out[2].Id})
}

func TestSendRejectedUnlessConnected(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	tr := newFakeTransport()
	// No InsertMessage expectation: touching the persistence path fails the test.
	p := mock.NewMockIPersistence(mockCtrl)

	s := newTestSession(t, tr, p, nil)

	_, err := s.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, chat.ErrNotConnected)

	s.Close()
	_, err = s.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, chat.ErrClosed)
}

func TestSendAppliesEchoExactlyOnce(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	tr := newFakeTransport()
	p := mock.NewMockIPersistence(mockCtrl)
	l := newRecListener()

	p.EXPECT().FetchMessagesSince(gomock.Any(), testConv, gomock.Any(), gomock.Any()).
		Return(nil, nil)

	sent := testMsg("s1", 20, "hi")
	p.EXPECT().InsertMessage(gomock.Any(), testConv, "u1", "U One", "hi").
		Return(sent, nil)

	s := newTestSession(t, tr, p, l)
	require.NoError(t, s.Connect())
	sub := waitSub(t, tr)
	waitStatus(t, l, Connected)

	m, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "s1", m.Id)
	assert.Equal(t, 1, s.Messages().Len())

	// The transport echo of our own send is already applied.
	sub.h.OnInsert(sent)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, s.Messages().Len())
}

func TestSendPersistenceFailureSurfacesOnce(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	tr := newFakeTransport()
	p := mock.NewMockIPersistence(mockCtrl)
	l := newRecListener()

	p.EXPECT().FetchMessagesSince(gomock.Any(), testConv, gomock.Any(), gomock.Any()).
		Return(nil, nil)
	p.EXPECT().InsertMessage(gomock.Any(), testConv, "u1", "U One", "hi").
		Return(nil, errors.New("insert timeout")).
		Times(1)

	s := newTestSession(t, tr, p, l)
	require.NoError(t, s.Connect())
	waitSub(t, tr)
	waitStatus(t, l, Connected)

	_, err := s.Send(context.Background(), "hi")
	var perr *chat.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 0, s.Messages().Len())
}

func TestReconnectRecoversMissedHistory(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	tr := newFakeTransport()
	p := mock.NewMockIPersistence(mockCtrl)
	l := newRecListener()

	first := []*chat.Message{testMsg("a", 10, "before")}
	missed := []*chat.Message{
		testMsg("b", 20, "while-down-1"),
		testMsg("c", 21, "while-down-2"),
		testMsg("d", 22, "while-down-3"),
	}

	p.EXPECT().FetchMessagesSince(gomock.Any(), testConv, chat.Cursor{}, gomock.Any()).
		Return(first, nil)
	p.EXPECT().FetchMessagesSince(gomock.Any(), testConv,
		chat.Cursor{CreateTime: time.Unix(10, 0).UTC(), Id: "a"}, gomock.Any()).
		Return(missed, nil)

	s := newTestSession(t, tr, p, l)
	require.NoError(t, s.Connect())
	sub := waitSub(t, tr)
	waitStatus(t, l, Connected)
	assert.Equal(t, 1, s.Messages().Len())

	// Drop the transport; three messages land server-side while we are out.
	sub.h.OnStatusChange(false, errors.New("connection reset"))
	waitStatus(t, l, Reconnecting)

	sub2 := waitSub(t, tr)
	waitStatus(t, l, Connected)

	assert.Equal(t, 4, s.Messages().Len(), "missed history recovered, no duplicates")
	assert.NotSame(t, sub, sub2)

	// A retransmission of recovered history stays deduplicated.
	sub2.h.OnInsert(missed[0])
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, s.Messages().Len())
}

func TestInstantDropsBackOffAndExhaustBudget(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	tr := newFakeTransport()
	p := mock.NewMockIPersistence(mockCtrl)
	l := newRecListener()

	p.EXPECT().FetchMessagesSince(gomock.Any(), testConv, gomock.Any(), gomock.Any()).
		Return(nil, nil).AnyTimes()

	s := New(Config{
		ConversationId: testConv,
		Self:           chat.PresenceInfo{UserId: "u1", ConnectionId: "c1"},
		MaxAttempts:    3,
	}, tr, p, l)
	defer s.Close()
	require.NoError(t, s.Connect())

	// The backend accepts every subscribe and drops it right away.
	go func() {
		for i := 0; i < 3; i++ {
			sub := <-tr.subC
			sub.h.OnStatusChange(false, errors.New("gone right away"))
		}
	}()

	waitStatus(t, l, Failed)
	assert.Equal(t, Failed, s.State())

	// Each drop consumed retry budget and waited a growing delay: no
	// zero-delay resubscribe storm.
	stamps := tr.subscribeTimes()
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 700*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 900*time.Millisecond)
}

func TestTrackFailureClosesSubscriptionAndRetries(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	tr := mock.NewMockITransport(mockCtrl)
	sub1 := mock.NewMockISubscription(mockCtrl)
	sub2 := mock.NewMockISubscription(mockCtrl)
	p := mock.NewMockIPersistence(mockCtrl)
	l := newRecListener()

	p.EXPECT().FetchMessagesSince(gomock.Any(), testConv, gomock.Any(), gomock.Any()).
		Return(nil, nil).
		Times(2)
	gomock.InOrder(
		tr.EXPECT().Subscribe(gomock.Any(), testConv, gomock.Any()).Return(sub1, nil),
		tr.EXPECT().Subscribe(gomock.Any(), testConv, gomock.Any()).Return(sub2, nil),
	)
	// A failed presence announcement must not leave the subscription behind.
	sub1.EXPECT().Track(gomock.Any(), gomock.Any()).Return(errors.New("track refused"))
	sub1.EXPECT().Unsubscribe().Return(nil)
	sub2.EXPECT().Track(gomock.Any(), gomock.Any()).Return(nil)
	sub2.EXPECT().Unsubscribe().Return(nil)

	s := newTestSession(t, tr, p, l)
	require.NoError(t, s.Connect())

	waitStatus(t, l, Reconnecting)
	waitStatus(t, l, Connected)
	s.Close()
}

func TestStalePresenceSweptWhileConnected(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	tr := newFakeTransport()
	p := mock.NewMockIPersistence(mockCtrl)
	l := newRecListener()

	p.EXPECT().FetchMessagesSince(gomock.Any(), testConv, gomock.Any(), gomock.Any()).
		Return(nil, nil)

	s := New(Config{
		ConversationId: testConv,
		Self:           chat.PresenceInfo{UserId: "u1", ConnectionId: "c1"},
		AuthorDisplay:  "U One",
		PresenceTTL:    200 * time.Millisecond,
	}, tr, p, l)
	t.Cleanup(s.Close)
	require.NoError(t, s.Connect())

	sub := waitSub(t, tr)
	waitStatus(t, l, Connected)

	sub.h.OnPresenceJoin(chat.PresenceInfo{UserId: "u2", ConnectionId: "c2"}, time.Now())
	waitLen(t, func() int { return len(s.Presence().OnlineUserIds()) }, 1)

	// No heartbeat: the run loop's sweep ticker expires the connection.
	waitLen(t, func() int { return len(s.Presence().OnlineUserIds()) }, 0)
}

func TestRetryBudgetExhaustionTurnsFailed(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	tr := newFakeTransport()
	tr.failures = 1000
	p := mock.NewMockIPersistence(mockCtrl)
	l := newRecListener()

	s := New(Config{
		ConversationId: testConv,
		Self:           chat.PresenceInfo{UserId: "u1", ConnectionId: "c1"},
		MaxAttempts:    1,
	}, tr, p, l)
	defer s.Close()

	require.NoError(t, s.Connect())
	waitStatus(t, l, Failed)
	assert.Equal(t, Failed, s.State())
}

func TestClosedIsTerminal(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	tr := newFakeTransport()
	p := mock.NewMockIPersistence(mockCtrl)
	l := newRecListener()

	p.EXPECT().FetchMessagesSince(gomock.Any(), testConv, gomock.Any(), gomock.Any()).
		Return(nil, nil).
		AnyTimes()

	s := newTestSession(t, tr, p, l)
	require.NoError(t, s.Connect())
	sub := waitSub(t, tr)
	waitStatus(t, l, Connected)

	s.Close()
	assert.Equal(t, Closed, s.State())
	s.Close() // idempotent
	assert.Equal(t, Closed, s.State())

	assert.Error(t, s.Connect())
	assert.Equal(t, Closed, s.State())

	// A late event from the dead subscription is ignored.
	sub.h.OnInsert(testMsg("z", 99, "late"))
	assert.Equal(t, 0, s.Messages().Len())
}
