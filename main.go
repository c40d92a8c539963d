package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/courtside/chatsync/chat"
	"github.com/courtside/chatsync/hub"
	"github.com/courtside/chatsync/offline"
	"github.com/courtside/chatsync/persist"
	"github.com/courtside/chatsync/session"
	"github.com/courtside/chatsync/transport/ws"
)

// chatsync dev client: opens one conversation against a real backend, echoes
// inbound messages and presence to stdout, sends stdin lines. Exercises the
// full core: ws transport, mysql persistence, bbolt offline cache.

var (
	flagWsUrl = flag.String("ws-url", "ws://127.0.0.1:8000/realtime", "backend realtime websocket endpoint")
	flagMysqlDsn = flag.String("mysql-dsn",
		"root:@tcp(127.0.0.1:3306)/chatsync?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		"mysql server dsn")
	flagConversation = flag.String("conversation", "", "conversation id to open")
	flagUid          = flag.String("uid", "", "local user id")
	flagDisplay      = flag.String("display", "", "display name, defaults to --uid")
	flagCacheFile    = flag.String("cache-file", "chatsync-cache.db", "offline cache file")
	flagMetricsAddr  = flag.String("metrics-addr", "", "if set, serve prometheus /metrics on this address")
	flagProfileDir   = flag.String("profile-dir", "", "if set, write pprof dumps into this directory")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	display := *flagDisplay
	if display == "" {
		display = *flagUid
	}

	db, err := sql.Open("mysql", *flagMysqlDsn)
	if err != nil {
		return errorf("sql.Open error, dsn: %s, err: %v", *flagMysqlDsn, err)
	}
	defer db.Close()

	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(1)

	cache, err := offline.Open(*flagCacheFile)
	if err != nil {
		return errorf("open cache: %v", err)
	}
	defer cache.Close()

	if *flagMetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(
				prometheus.DefaultGatherer,
				promhttp.HandlerOpts{},
			))
			if err := http.ListenAndServe(*flagMetricsAddr, mux); err != nil {
				glog.Errorf("metrics server: %v", err)
			}
		}()
	}

	h := hub.New(hub.Config{
		UserId:        *flagUid,
		AuthorDisplay: display,
	}, ws.New(*flagWsUrl, nil), persist.NewStore(db), cache)
	defer h.Close()

	conv, err := h.Open(*flagConversation)
	if err != nil {
		return errorf("open conversation: %v", err)
	}

	var shown int
	conv.SubscribeMessages(func(msgs []*chat.Message) {
		for _, m := range msgs[shown:] {
			fmt.Printf("[%s] %s: %s\n", m.CreateTime.Local().Format("15:04:05"), m.AuthorDisplay, m.Body)
		}
		shown = len(msgs)
	})
	conv.SubscribePresence(func(online []string) {
		fmt.Printf("* online: %s\n", strings.Join(online, ", "))
	})
	conv.SubscribeStatus(func(st session.State) {
		fmt.Printf("* connection: %s\n", st)
	})

	go readInput(conv)

	var profiler *Profiler
	if *flagProfileDir != "" {
		profiler = StartProfiler(*flagProfileDir)
		defer profiler.Stop()
	}

	glog.Infof("chatsync client started, conversation: %s, uid: %s", *flagConversation, *flagUid)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	var sig os.Signal
	for sig = range sigCh {
		if sig == syscall.SIGQUIT && profiler != nil {
			// SIGQUIT dumps goroutines without stopping the client.
			profiler.dumpGoroutines()
			continue
		}
		break
	}
	glog.Infof("received signal `%s`, stopping", sig.String())

	conv.Close()
	glog.Info("chatsync client exited")
	return 0
}

func readInput(conv *hub.Conv) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		body := strings.TrimSpace(scanner.Text())
		if body == "" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		outcome, _, err := conv.Send(ctx, body)
		cancel()

		switch outcome {
		case chat.SendQueued:
			fmt.Println("* queued, will send on reconnect")
		case chat.SendFailed:
			fmt.Printf("* send failed: %v\n", err)
		}
	}
}

func validateFlags() int {
	if *flagWsUrl == "" {
		return errorf("--ws-url is required")
	}
	if *flagMysqlDsn == "" {
		return errorf("--mysql-dsn is required")
	}
	if *flagConversation == "" {
		return errorf("--conversation is required")
	}
	if *flagUid == "" {
		return errorf("--uid is required")
	}
	if *flagCacheFile == "" {
		return errorf("--cache-file is required")
	}
	return 0
}

func errorf(format string, args ...interface{}) int {
	glog.Errorf(format, args...)
	return 1
}
