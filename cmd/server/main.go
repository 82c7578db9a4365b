package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"homebank/internal/audit"
	"homebank/internal/banking"
	"homebank/internal/banking/handler"
	"homebank/internal/banking/quota"
	"homebank/internal/banking/service"
	"homebank/internal/banking/store"
	"homebank/internal/idempotency"
	jwttoken "homebank/internal/jwt_token"
	"homebank/internal/platform/config"
	"homebank/internal/platform/httpserver"
	"homebank/internal/platform/logger"
	"homebank/internal/platform/metrics"
	"homebank/internal/platform/redis"
	"homebank/pkg/platform/httputil"
	request "homebank/pkg/platform/middleware/request"
	"homebank/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "homebank:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logger.New(cfg.Server.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	st, err := openStorage(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := store.SeedDemo(ctx, st.store, cfg.SeedDemoData, time.Now().UTC()); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var idemStore idempotency.Store
	var sweeper *idempotency.MemoryStore
	if redisClient != nil {
		defer redisClient.Close()
		idemStore = idempotency.NewRedisStore(redisClient.Client)
	} else {
		log.Warn("REDIS_URL not set, using in-memory idempotency store")
		sweeper = idempotency.NewMemoryStore()
		idemStore = sweeper
	}

	sink, closeSink, err := openAuditSink(ctx, cfg.Audit, log)
	if err != nil {
		return err
	}
	defer closeSink()
	publisher := audit.NewPublisher()
	worker := audit.NewWorker(sink, publisher.Inbox(),
		audit.WithWorkerLogger(log),
		audit.WithFailureCounter(m),
	)

	tokens := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL)
	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditPublisher(publisher),
		service.WithTokenIssuer(tokens),
		service.WithConfig(service.Config{
			Quota: quota.Policy{
				MaxAccounts:     cfg.Issuance.MaxAccountsPerClient,
				MaxCardsPerType: cfg.Issuance.MaxCardsPerType,
			},
			CardValidityYears: cfg.Issuance.CardValidityYears,
			MaxAttempts:       cfg.Issuance.MaxGenerationAttempts,
			CardBIN:           cfg.Issuance.CardBIN,
			AdminEmails:       cfg.Auth.AdminEmails,
		}),
	}
	if st.tx != nil {
		svcOpts = append(svcOpts, service.WithTx(st.tx))
	}
	bankingService := banking.NewService(st.store, svcOpts...)
	bankingHandler := banking.NewHandler(bankingService, jwttoken.NewJWTServiceAdapter(tokens), log,
		handler.WithIdempotency(idempotency.Middleware(idemStore,
			idempotency.WithTTL(cfg.Issuance.IdempotencyTTL),
			idempotency.WithLogger(log),
			idempotency.WithMetrics(m),
		)),
	)

	ready := func(ctx context.Context) error {
		if err := st.ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(request.Logger(log))
	r.Use(requesttime.Middleware)
	r.Get("/-/live", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/-/ready", readinessHandler(ready, log))
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	bankingHandler.Register(r)

	srv := httpserver.New(cfg.Server.Addr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Closing the publisher lets the worker drain what is queued.
		defer publisher.Close()
		return httpserver.Run(gctx, srv, log, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return worker.Run(context.WithoutCancel(gctx))
	})
	if sweeper != nil {
		g.Go(func() error {
			err := sweeper.StartSweeper(gctx, time.Minute)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	log.Info("starting homebank",
		"addr", cfg.Server.Addr,
		"environment", cfg.Server.Environment,
	)
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("homebank stopped")
	return nil
}

func openAuditSink(ctx context.Context, cfg config.AuditConfig, log *slog.Logger) (audit.Sink, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		log.Warn("KAFKA_BROKERS not set, keeping audit events in memory")
		return audit.NewMemorySink(), func() {}, nil
	}
	sink, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.Topic)
	if err != nil {
		return nil, nil, err
	}
	topicCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sink.Ping(topicCtx); err != nil {
		log.Warn("audit brokers unreachable", "brokers", cfg.KafkaBrokers, "error", err)
	}
	if err := sink.EnsureTopic(topicCtx, 3, 1); err != nil {
		log.Warn("could not ensure audit topic", "topic", cfg.Topic, "error", err)
	}
	return sink, sink.Close, nil
}

func readinessHandler(check func(context.Context) error, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := check(ctx); err != nil {
			log.WarnContext(ctx, "readiness check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
