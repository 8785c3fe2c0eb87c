package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamline-ai/chatrelay/internal/chatstore"
	chatpostgres "github.com/streamline-ai/chatrelay/internal/chatstore/postgres"
	chatsqlite "github.com/streamline-ai/chatrelay/internal/chatstore/sqlite"
	"github.com/streamline-ai/chatrelay/internal/config"
	"github.com/streamline-ai/chatrelay/internal/engine"
	engineloopback "github.com/streamline-ai/chatrelay/internal/engine/loopback"
	engineopenai "github.com/streamline-ai/chatrelay/internal/engine/openai"
	"github.com/streamline-ai/chatrelay/internal/httpserver"
	"github.com/streamline-ai/chatrelay/internal/jobqueue"
	"github.com/streamline-ai/chatrelay/internal/logging"
	"github.com/streamline-ai/chatrelay/internal/relay"
	"github.com/streamline-ai/chatrelay/internal/version"
)

func main() {
	cfg, err := config.LoadRelayConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Rotating file logging, mirrored to stdout for foreground runs.
	const maxLogBytes = int64(300 * 1024 * 1024) // 300MB
	if logTarget := strings.TrimSpace(cfg.LogFile); logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[chatrelayd] ")
	log.Printf("chatrelay v%s starting env=%s", version.Version, cfg.Environment)

	ctx := context.Background()

	var chat chatstore.Store
	if config.IsPostgres(cfg.Database) {
		chat, err = chatpostgres.New(cfg.Database)
	} else {
		chat, err = chatsqlite.New(cfg.Database)
	}
	if err != nil {
		log.Fatalf("open chat store: %v", err)
	}
	defer chat.Close()

	// Event log and notifier: Redis when configured, in-process otherwise.
	// In-process mode is single-node only; a second replica would not see
	// its peers' events.
	var (
		events   relay.EventLog
		notifier relay.Notifier
	)
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis ping %s: %v", cfg.RedisAddr, err)
		}
		defer rdb.Close()
		events = relay.NewRedisLog(rdb, cfg.EventTTL)
		notifier = relay.NewRedisNotifier(rdb, log.Default())
		log.Printf("event log: redis addr=%s db=%d ttl=%s", cfg.RedisAddr, cfg.RedisDB, cfg.EventTTL)
	} else {
		memLog := relay.NewMemoryLogWithJanitor(cfg.EventTTL, time.Minute)
		defer memLog.Close()
		memNotifier := relay.NewMemoryNotifier()
		events = memLog
		notifier = memNotifier
		log.Printf("event log: in-memory ttl=%s", cfg.EventTTL)
	}

	registry := relay.NewRegistry()
	go pruneRegistry(registry, cfg.EventTTL)

	var eng engine.Streamer
	switch {
	case cfg.Engine == "loopback":
		eng = engineloopback.New()
		log.Printf("engine: loopback")
	case strings.TrimSpace(cfg.OpenAIAPIKey) == "":
		eng = engineloopback.New()
		log.Printf("engine: loopback (no OpenAI API key configured)")
	default:
		eng, err = engineopenai.New(engineopenai.Config{
			APIKey:   cfg.OpenAIAPIKey,
			BaseURL:  cfg.OpenAIBaseURL,
			Profiles: cfg.Profiles,
			Logger:   log.Default(),
		})
		if err != nil {
			log.Fatalf("openai engine init failed: %v", err)
		}
		log.Printf("engine: openai profiles=%d", len(cfg.Profiles))
	}

	producer := relay.NewProducer(events, notifier, registry, eng, log.Default())

	queue := jobqueue.New(func(jobCtx context.Context, job jobqueue.Job) {
		result := producer.Run(jobCtx, job.ID, engine.Request{Prompt: job.Prompt, Profile: job.Profile})
		if result.Failed {
			return
		}
		if err := chat.FinalizeAssistantMessage(jobCtx, job.MessageID, result.Content, result.Reasoning); err != nil {
			log.Printf("job %s: finalize message %d failed: %v", job.ID, job.MessageID, err)
		}
	}, jobqueue.Options{
		Workers: cfg.WorkerCount,
		Depth:   cfg.QueueDepth,
		OnSubmit: func(job jobqueue.Job) {
			registry.Create(job.ID)
			// Touch before Submit returns so a consumer attaching right away
			// finds the job even with zero events appended yet.
			if err := events.Touch(ctx, job.ID); err != nil {
				log.Printf("job %s: touch event log failed: %v", job.ID, err)
			}
		},
	}, log.Default())

	httpSrv := httpserver.New(chat, queue, events, notifier, registry, relay.SessionConfig{
		WaitTimeout: cfg.WaitTimeout,
		Deadline:    cfg.SessionTimeout,
	})
	httpSrv.SetLogger(cfg.LogLevel, log.New(log.Writer(), "[chatrelayd/http] ", log.LstdFlags|log.Lmicroseconds))

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     httpSrv.Router(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE streams stay open up to the session deadline.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("chat relay listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := queue.Close(); err != nil {
		log.Printf("job queue close: %v", err)
	}
}

// pruneRegistry periodically drops finished registry entries so the map does
// not grow unbounded. Registry retention tracks event retention.
func pruneRegistry(registry *relay.Registry, maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		registry.Prune(maxAge)
	}
}
