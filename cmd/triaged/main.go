// Package main runs triaged, the standalone job-processing daemon: an
// engine with a demo handler set, the HTTP API, and a WebSocket event
// stream, wired to the store named by TRIAGE_STORE_URL.
//
// Configuration is environment-only:
//
//	TRIAGE_STORE_URL        memory (default), redis://, postgres://, sqlite://, mongodb://
//	TRIAGE_HTTP_ADDR        listen address for the API (default :8080)
//	TRIAGE_LOG_LEVEL        debug | info | warn | error (default info)
//	TRIAGE_AUDIT_LOG        true to write an audit trail through the logger
//	TRIAGE_WEBHOOK_URLS     comma-separated endpoints for signed event delivery
//	TRIAGE_WEBHOOK_SECRET   HMAC secret for webhook signatures
//	TRIAGE_*                engine tuning, see triage.FromEnv
//
// Try it:
//
//	go run ./cmd/triaged &
//	curl -X POST http://localhost:8080/v1/jobs \
//	  -H "Content-Type: application/json" \
//	  -d '{"type":"send-email","payload":{"to":"user@example.com","subject":"hello"},"priority":"high"}'
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/api"
	audithook "github.com/triagehq/triage/audit_hook"
	"github.com/triagehq/triage/cron"
	"github.com/triagehq/triage/engine"
	"github.com/triagehq/triage/job"
	"github.com/triagehq/triage/observability"
	"github.com/triagehq/triage/store"
	bunstore "github.com/triagehq/triage/store/bun"
	"github.com/triagehq/triage/store/memory"
	mongostore "github.com/triagehq/triage/store/mongo"
	"github.com/triagehq/triage/store/postgres"
	redisstore "github.com/triagehq/triage/store/redis"
	"github.com/triagehq/triage/stream"
	"github.com/triagehq/triage/webhook"
)

func main() {
	if err := run(); err != nil {
		slog.Error("triaged exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	logger := newLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := triage.FromEnv()

	// ──────────────────────────────────────────────────
	// Store
	// ──────────────────────────────────────────────────

	s, cleanup, err := openStore(ctx, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer cleanup()

	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	// ──────────────────────────────────────────────────
	// Engine
	// ──────────────────────────────────────────────────

	broker := stream.NewBroker(logger)

	engOpts := []engine.Option{
		engine.WithConfig(cfg),
		engine.WithStore(s),
		engine.WithLogger(logger),
		engine.WithExtension(broker),
		// No-op until an OTel meter provider is configured.
		engine.WithExtension(observability.NewMetricsExtension()),
	}
	if envString("TRIAGE_AUDIT_LOG", "") == "true" {
		engOpts = append(engOpts, engine.WithExtension(audithook.New(auditTrail(logger))))
	}
	if urls := envString("TRIAGE_WEBHOOK_URLS", ""); urls != "" {
		whOpts := []webhook.Option{webhook.WithLogger(logger)}
		if secret := os.Getenv("TRIAGE_WEBHOOK_SECRET"); secret != "" {
			whOpts = append(whOpts, webhook.WithSecret(secret))
		}
		engOpts = append(engOpts, engine.WithExtension(webhook.New(strings.Split(urls, ","), whOpts...)))
	}

	eng, err := engine.New(engOpts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if err := registerHandlers(eng, logger); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}
	if err := registerCrons(eng); err != nil {
		return fmt.Errorf("register crons: %w", err)
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	// ──────────────────────────────────────────────────
	// HTTP API
	// ──────────────────────────────────────────────────

	gin.SetMode(gin.ReleaseMode)
	addr := envString("TRIAGE_HTTP_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.New(eng, api.WithBroker(broker), api.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http api listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", slog.Any("error", err))
		}
		return eng.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("goodbye")
	return nil
}

// ──────────────────────────────────────────────────
// Demo handlers
// ──────────────────────────────────────────────────

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

type emailReceipt struct {
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}

type resizePayload struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type resizeResult struct {
	ThumbnailURL string `json:"thumbnail_url"`
}

type chargePayload struct {
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
}

type chargeReceipt struct {
	ReceiptID string `json:"receipt_id"`
}

func registerHandlers(eng *engine.Engine, logger *slog.Logger) error {
	// A latency-sensitive notification job.
	if err := engine.Register(eng, job.NewDefinition("send-email",
		func(_ context.Context, p emailPayload) (emailReceipt, error) {
			logger.Info("sending email", slog.String("to", p.To), slog.String("subject", p.Subject))
			time.Sleep(50 * time.Millisecond) // Simulate SMTP I/O.
			return emailReceipt{
				MessageID: fmt.Sprintf("msg-%d", time.Now().UnixNano()),
				SentAt:    time.Now().UTC(),
			}, nil
		},
		job.WithPriority(job.PriorityHigh),
	)); err != nil {
		return err
	}

	// A bulk media job that tolerates retries.
	if err := engine.Register(eng, job.NewDefinition("resize-image",
		func(_ context.Context, p resizePayload) (resizeResult, error) {
			logger.Info("resizing image",
				slog.String("url", p.URL),
				slog.Int("width", p.Width),
				slog.Int("height", p.Height),
			)
			time.Sleep(200 * time.Millisecond) // Simulate processing.
			return resizeResult{ThumbnailURL: p.URL + "?thumb=1"}, nil
		},
		job.WithPriority(job.PriorityLow),
		job.WithMaxAttempts(5),
	)); err != nil {
		return err
	}

	// A payment job: charge at most once, fail loudly otherwise.
	if err := engine.Register(eng, job.NewDefinition("charge-payment",
		func(_ context.Context, p chargePayload) (chargeReceipt, error) {
			if p.AmountCents <= 0 {
				return chargeReceipt{}, fmt.Errorf("invalid amount %d", p.AmountCents)
			}
			logger.Info("charging payment",
				slog.String("order_id", p.OrderID),
				slog.Int64("amount_cents", p.AmountCents),
			)
			return chargeReceipt{ReceiptID: "rcpt-" + p.OrderID}, nil
		},
		job.WithPriority(job.PriorityCritical),
		job.WithMaxAttempts(1),
	)); err != nil {
		return err
	}

	// The nightly cron target.
	return engine.Register(eng, job.NewDefinition("expire-sessions",
		func(_ context.Context, _ struct{}) (int, error) {
			logger.Info("expiring stale sessions")
			return 0, nil
		},
		job.WithPriority(job.PriorityLow),
	))
}

func registerCrons(eng *engine.Engine) error {
	return engine.RegisterCron(eng, &cron.Definition[struct{}]{
		Name:     "nightly-session-sweep",
		Schedule: "0 3 * * *",
		JobName:  "expire-sessions",
		Priority: job.PriorityLow,
	})
}

// auditTrail records audit events as structured log lines. A real
// deployment would point the Recorder at its audit store instead.
func auditTrail(logger *slog.Logger) audithook.Recorder {
	trail := logger.With(slog.String("component", "audit"))
	return audithook.RecorderFunc(func(_ context.Context, evt *audithook.AuditEvent) error {
		trail.Info(evt.Action,
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("severity", evt.Severity),
			slog.String("outcome", evt.Outcome),
		)
		return nil
	})
}

// ──────────────────────────────────────────────────
// Store selection
// ──────────────────────────────────────────────────

// openStore builds a store from TRIAGE_STORE_URL. The cleanup function
// releases any client the store itself does not own; it must run after
// the engine has stopped.
func openStore(ctx context.Context, logger *slog.Logger) (store.Store, func(), error) {
	raw := envString("TRIAGE_STORE_URL", "memory")
	if raw == "memory" {
		logger.Warn("using in-memory store, jobs will not survive restarts")
		return memory.New(), func() {}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %q: %w", raw, err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		opts, err := goredis.ParseURL(raw)
		if err != nil {
			return nil, nil, err
		}
		client := goredis.NewClient(opts)
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Error("close redis client", slog.Any("error", err))
			}
		}
		return redisstore.New(client, redisstore.WithLogger(logger)), cleanup, nil

	case "postgres", "postgresql":
		// The pgx pool belongs to the store; engine shutdown closes it.
		s, err := postgres.New(ctx, raw, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil

	case "sqlite":
		dsn := u.Opaque
		if dsn == "" {
			dsn = "file:" + u.Host + u.Path
		}
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, nil, err
		}
		db := bun.NewDB(sqldb, sqlitedialect.New())
		cleanup := func() {
			if err := db.Close(); err != nil {
				logger.Error("close sqlite db", slog.Any("error", err))
			}
		}
		return bunstore.New(db, bunstore.WithLogger(logger)), cleanup, nil

	case "mongodb", "mongodb+srv":
		client, err := mongodriver.Connect(mongooptions.Client().ApplyURI(raw))
		if err != nil {
			return nil, nil, err
		}
		name := strings.TrimPrefix(u.Path, "/")
		if name == "" {
			name = "triage"
		}
		cleanup := func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(disconnectCtx); err != nil {
				logger.Error("disconnect mongo client", slog.Any("error", err))
			}
		}
		return mongostore.New(client.Database(name), mongostore.WithLogger(logger)), cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store scheme %q", u.Scheme)
	}
}

// ──────────────────────────────────────────────────
// Environment helpers
// ──────────────────────────────────────────────────

func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(envString("TRIAGE_LOG_LEVEL", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
