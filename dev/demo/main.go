// The demo generator mocks a business service that pushes message events to
// kafka for the dev backend to broadcast: one canned message per tick into
// one conversation.
//
// kafka-topics.sh --bootstrap-server localhost:9092 --topic chatsync-events --create
package main

import (
	"context"
	"encoding/json"
	"flag"
	"strings"
	"time"

	"github.com/pborman/uuid"
	kafka "github.com/segmentio/kafka-go"

	"github.com/courtside/chatsync/chat"
	"github.com/courtside/chatsync/transport"
)

var (
	flagKafkaEndpoints = flag.String("kafka-endpoints", "127.0.0.1:9092", "kafka endpoints, ',' delimited.")
	flagKafkaTopic     = flag.String("kafka-topic", "chatsync-events", "topic carrying message frames")
	flagConversation   = flag.String("conversation", "demo", "conversation id to post into")
	flagInterval       = flag.Duration("interval", 30*time.Second, "tick interval between messages")
)

var script = []struct{ uid, display, body string }{
	{"u-ada", "Ada", "anyone up for a run tonight?"},
	{"u-ben", "Ben", "in, 7pm at the usual court"},
	{"u-ada", "Ada", "works for me"},
	{"u-cam", "Cam", "bringing a spare ball"},
}

func main() {
	flag.Parse()

	if *flagKafkaEndpoints == "" {
		panic("--kafka-endpoints is required.")
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  strings.Split(*flagKafkaEndpoints, ","),
		Topic:    *flagKafkaTopic,
		Balancer: &kafka.Hash{},
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})
	defer w.Close()

	ticker := time.NewTicker(*flagInterval)
	defer ticker.Stop()

	var i int
	for range ticker.C {
		line := script[i%len(script)]
		f := &transport.Frame{
			Type: transport.FrameInsert,
			Message: transport.EncodeMessage(&chat.Message{
				Id:             strings.ReplaceAll(uuid.New(), "-", ""),
				ConversationId: *flagConversation,
				AuthorId:       line.uid,
				AuthorDisplay:  line.display,
				Body:           line.body,
				CreateTime:     time.Now().UTC().Truncate(time.Second),
			}),
		}

		value, err := json.Marshal(f)
		if err != nil {
			panic(err)
		}

		msg := kafka.Message{
			Key:   []byte(*flagConversation),
			Value: value,
		}
		if err := w.WriteMessages(context.Background(), msg); err != nil {
			panic(err)
		}

		i++
	}
}
