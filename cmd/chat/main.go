package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/archive"
	"main/internal/obs"
	"main/internal/ops"
	"main/pkg/channel"
	"main/pkg/conn"
	"main/pkg/exception"
)

const defaultConfigPath = "config/chat.json"

func main() {
	if err := run(); err != nil {
		logs.Errorf("chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", defaultConfigPath, "path to JSON config")
	userFlag := flag.String("user", "", "user id for session bootstrap")
	flag.Parse()

	cfg, err := ops.Load(*configFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	metrics := obs.NewMetrics()
	cfg.Channel.Hooks = channel.Hooks{
		DedupDropped: func(string) { metrics.IncDedupDrop() },
		DecodeFailed: metrics.IncDecodeError,
		PollTick:     func(bool) { metrics.IncPollTick() },
	}

	manager, err := channel.NewManager(cfg.Channel)
	if err != nil {
		return err
	}
	defer manager.Stop()

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		pg, err := conn.New(cfg.Archive.Postgres)
		if err != nil {
			return err
		}
		defer pg.Close()
		store := archive.NewStore(pg.DB())
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		archiver = archive.NewArchiver(archive.Config{
			QueueSize:     cfg.Archive.QueueSize,
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
		}, store)
		if err := archiver.Start(ctx); err != nil {
			return err
		}
		defer archiver.Close()
	}

	manager.OnStateChange(func(change channel.StateChange) {
		metrics.ObserveState(change.State)
		logs.Infof("channel state: %s", change.State)
	})

	sink := func(channel.Envelope) {}
	if archiver != nil {
		sink = archiver.Sink()
	}
	for _, topic := range cfg.Topics {
		if _, err := manager.Subscribe(topic, func(env channel.Envelope) {
			metrics.ObserveEnvelope(env)
			sink(env)
			fmt.Printf("[%s] %s %s\n", topic, env.EventID, string(env.Payload))
		}); err != nil {
			return err
		}
	}

	session, err := channel.BootstrapSession(ctx, nil, sessionURL(cfg.SessionURL, *userFlag))
	if err != nil {
		return err
	}
	logs.Infof("session %s for user %s", session.SessionID, session.UserID)

	if err := manager.Start(ctx, session); err != nil {
		return err
	}

	go sendLoop(ctx, manager, metrics, session)

	select {
	case <-ctx.Done():
	case <-sys.Shutdown():
	}

	snap := metrics.Snapshot()
	logs.Infof("delivered %d envelopes, %d dedup drops, %d decode errors, %d poll ticks",
		snap.Published, snap.DedupDrops, snap.DecodeErrors, snap.PollTicks)
	return nil
}

// sendLoop reads lines from stdin and sends each as a chat message.
func sendLoop(ctx context.Context, manager *channel.Manager, metrics *obs.Metrics, session channel.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		body := strings.TrimSpace(scanner.Text())
		if body == "" {
			continue
		}
		env, err := channel.NewEnvelope("chat.message", chatMessage{
			Body:   body,
			UserID: session.UserID,
			SentAt: time.Now().UnixMilli(),
		}, session.SessionID)
		if err != nil {
			logs.Warnf("build envelope: %v", err)
			continue
		}
		if err := manager.Send(env); err != nil {
			metrics.IncSendFailure()
			if errors.Is(err, exception.ErrChannelClosed) {
				return
			}
			logs.Warnf("send: %v", err)
		}
	}
}

type chatMessage struct {
	Body   string `json:"body"`
	UserID string `json:"userId"`
	SentAt int64  `json:"sentAt"`
}

func sessionURL(base, user string) string {
	if user == "" {
		return base
	}
	return base + "?user=" + url.QueryEscape(user)
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
