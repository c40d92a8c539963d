package main

import (
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/courtside/chatsync/transport"
)

type closeCause int

const (
	causeRead closeCause = iota + 1
	causeWrite
	causePing
	causeServerStop
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read.
	readLimit = 4096
)

// outbound is the data structure for `dataChan`: either a frame to write or
// a close cause.
type outbound struct {
	cause closeCause
	frame *transport.Frame
}

// client manages one active connection. Every websocket connection carries
// exactly one conversation subscription.
type client struct {
	sync.Mutex

	rooms *roomStore

	sid          string // server-assigned session id
	userId       string
	conversation string
	conn         *websocket.Conn

	dataChan chan *outbound
	tracked  *transport.WirePresence
	closing  bool
}

func (c *client) String() string {
	return c.conversation + "/" + c.userId + "/" + c.sid
}

func (c *client) appendFrame(f *transport.Frame) {
	c.Lock()
	defer c.Unlock()
	if !c.closing {
		c.dataChan <- &outbound{frame: f}
	}
}

func (c *client) appendClose(cause closeCause) {
	c.Lock()
	defer c.Unlock()
	if !c.closing {
		c.dataChan <- &outbound{cause: cause}
	}
}

func (c *client) trackedPresence() *transport.WirePresence {
	c.Lock()
	defer c.Unlock()
	return c.tracked
}

func (c *client) close(cause closeCause) {
	c.Lock()
	if c.closing {
		c.Unlock()
		return
	}
	c.closing = true
	tracked := c.tracked

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
	c.conn.Close()
	close(c.dataChan)
	c.Unlock()

	if cause == causeServerStop {
		return
	}
	glog.V(5).Infof("session closed, cause: %d, %s", cause, c)
	if c.rooms.del(c) && tracked != nil {
		c.rooms.broadcast(c.conversation, &transport.Frame{
			Type: transport.FrameLeave,
			Presence: &transport.WirePresence{
				UserId:       tracked.UserId,
				ConnectionId: tracked.ConnectionId,
				AtMs:         time.Now().UnixMilli(),
			},
		})
	}
}

// recvLoop reads client frames. The only inbound type is `track`: it is
// rebroadcast to the room as a join.
func (c *client) recvLoop() {
	defer func() { glog.V(5).Infof("recvLoop(): exited, session: %s", c) }()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f transport.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.Lock()
			closing := c.closing
			c.Unlock()
			if !closing {
				glog.V(5).Infof("recvLoop(): read error: %v, session: %s", err, c)
				c.appendClose(causeRead)
			}
			return
		}

		glog.V(7).Infof("recvLoop(): incoming frame %s, session: %s", f.Type, c)

		if f.Type != transport.FrameTrack || f.Presence == nil {
			glog.Errorf("recvLoop(): unsupported client frame %q, session: %s", f.Type, c)
			continue
		}
		if f.Presence.UserId != c.userId {
			glog.Errorf("recvLoop(): track for %q from user %q refused", f.Presence.UserId, c.userId)
			continue
		}

		c.Lock()
		c.tracked = f.Presence
		c.Unlock()

		c.rooms.broadcast(c.conversation, &transport.Frame{
			Type:     transport.FrameJoin,
			Presence: f.Presence,
		})
	}
}

func (c *client) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, session: %s", c)
	}()

	for {
		select {
		case v, ok := <-c.dataChan:
			if !ok { // chan was closed
				c.conn.Close()
				return
			}
			if v.cause > 0 {
				c.close(v.cause)
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(v.frame); err != nil {
				glog.Errorf("sendLoop(): write error: %v, session: %s", err, c)
				c.appendClose(causeWrite)
				return
			}
		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("sendLoop(): ping error: %v, session: %s", err, c)
				c.appendClose(causePing)
				return
			}
		}
	}
}
