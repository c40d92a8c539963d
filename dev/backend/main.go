// The dev backend is a stand-in for the app's realtime edge: it serves the
// websocket endpoint the sync core subscribes to, fans presence out within
// each conversation, and broadcasts message events consumed from kafka
// (written there by the dev generator or by a business service).
//
// It deliberately keeps no message history: clients recover history from the
// persistence store, the backend only pushes live events.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/pborman/uuid"
	kafka "github.com/segmentio/kafka-go"

	"github.com/courtside/chatsync/auth"
	"github.com/courtside/chatsync/transport"
)

var (
	flagListen         = flag.String("listen", "127.0.0.1:8000", "websocket listen address")
	flagKafkaEndpoints = flag.String("kafka-endpoints", "", "kafka endpoints, ',' delimited; empty disables the ingest")
	flagKafkaTopic     = flag.String("kafka-topic", "chatsync-events", "topic carrying inbound message frames")
	flagKafkaGroup     = flag.String("kafka-group", "chatsync-dev-backend", "consumer group id")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Dev tool, served without an edge proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	rooms := newRoomStore()
	authClient := auth.DevClient{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *flagKafkaEndpoints != "" {
		go ingestLoop(ctx, rooms)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/realtime", func(w http.ResponseWriter, r *http.Request) {
		serveRealtime(rooms, authClient, w, r)
	})

	server := &http.Server{Addr: *flagListen, Handler: mux}
	go func() {
		glog.Infof("dev backend listening on %s", *flagListen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Errorf("listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	glog.Infof("received signal `%s`, stopping", sig.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	rooms.close()
	return 0
}

// serveRealtime upgrades one subscription request. The conversation id rides
// the query string, identity comes from the auth client.
func serveRealtime(rooms *roomStore, authClient auth.IClient, w http.ResponseWriter, r *http.Request) {
	uid, err := authClient.Auth(r)
	if err != nil {
		glog.Errorf("serveRealtime(): authenticate error: %v", err)
		http.Error(w, "Authenticate error", http.StatusForbidden)
		return
	}

	conversation := r.URL.Query().Get("conversation")
	if conversation == "" {
		http.Error(w, "conversation is required", http.StatusBadRequest)
		return
	}

	// If the upgrade fails, Upgrade replies to the client with an HTTP error.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("serveRealtime(): upgrade error, uid: %s, err: %v", uid, err)
		return
	}

	c := &client{
		rooms:        rooms,
		sid:          strings.ReplaceAll(uuid.New(), "-", ""),
		userId:       uid,
		conversation: conversation,
		conn:         conn,
		dataChan:     make(chan *outbound, 16),
	}
	rooms.add(c)
	glog.V(5).Infof("session opened: %s", c)

	// The new client starts from the room's current presence.
	c.appendFrame(&transport.Frame{
		Type:   transport.FrameSync,
		States: rooms.states(conversation),
	})

	go c.recvLoop()
	go c.sendLoop()
}

// ingestLoop consumes message frames from kafka and routes each to its
// conversation's room.
func ingestLoop(ctx context.Context, rooms *roomStore) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(*flagKafkaEndpoints, ","),
		GroupID: *flagKafkaGroup,
		Topic:   *flagKafkaTopic,
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			glog.Errorf("ingestLoop(): fetch: %v", err)
			time.Sleep(time.Second)
			continue
		}

		var f transport.Frame
		if err := json.Unmarshal(msg.Value, &f); err != nil {
			glog.Errorf("ingestLoop(): bad frame at offset %d: %v", msg.Offset, err)
		} else if f.Type != transport.FrameInsert || f.Message == nil {
			glog.Errorf("ingestLoop(): unsupported frame %q at offset %d", f.Type, msg.Offset)
		} else {
			rooms.broadcast(f.Message.ConversationId, &f)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			glog.Errorf("ingestLoop(): commit at offset %d: %v", msg.Offset, err)
		}
	}
}
