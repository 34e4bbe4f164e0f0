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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/payment-ledger/internal/api"
	"github.com/atmx/payment-ledger/internal/balance"
	"github.com/atmx/payment-ledger/internal/config"
	"github.com/atmx/payment-ledger/internal/events"
	"github.com/atmx/payment-ledger/internal/ledger"
	"github.com/atmx/payment-ledger/internal/metrics"
	"github.com/atmx/payment-ledger/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize stores ---
	var (
		ledgerStore store.LedgerStore
		snapshots   store.SnapshotStore
		directory   store.AccountDirectory
		cleanup     []func()
	)

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		ledgerStore, snapshots, directory = pg, pg, pg
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		ms := store.NewMemoryStore()
		ledgerStore, snapshots, directory = ms, ms, ms
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	// --- Balance cache and event transport ---
	var (
		cache     store.BalanceCache
		publisher events.Publisher
		engine    *balance.Engine
		consumer  *events.StreamConsumer
	)

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })

		cache = store.NewRedisBalanceCache(rdb, cfg.BalanceDeltaTTL)
		directory = store.NewCachedDirectory(directory, rdb, cfg.AccountCacheTTL)
		engine = balance.NewEngine(snapshots, cache, wsHub)
		publisher = events.NewRedisStreamPublisher(rdb)
		consumer = events.NewStreamConsumer(rdb, cfg.EventsStream, cfg.EventsGroup, cfg.EventsConsumer, engine.HandleLedgerEvent)
		slog.Info("Redis balance cache and event stream enabled", "stream", cfg.EventsStream)
	} else {
		slog.Warn("REDIS_URL not set, using in-memory balance cache and in-process events")
		cache = store.NewMemoryBalanceCache()
		engine = balance.NewEngine(snapshots, cache, wsHub)
		publisher = events.NewDirectPublisher(engine.HandleLedgerEvent)
	}

	flusher := balance.NewFlusher(snapshots, cache, func() time.Time { return time.Now().UTC() })
	backfiller := balance.NewBackfiller(ledgerStore, engine, flusher, cfg.BackfillPageSize)

	// Catch up on entries whose events were lost before consuming new ones.
	if cfg.BackfillOnStart {
		if _, err := backfiller.Backfill(ctx, 0); err != nil {
			slog.Error("startup backfill failed", "err", err)
		}
	}

	if consumer != nil {
		go func() {
			if err := consumer.Run(ctx); err != nil {
				slog.Error("event consumer stopped", "err", err)
			}
		}()
	}

	go flusher.Run(ctx, cfg.FlushInterval)

	// --- Services ---
	recorder := ledger.NewService(directory, ledgerStore, publisher, cfg.EventsStream, cfg.PublishTimeout)
	handlers := api.NewHandlers(recorder, engine, balance.NewQuery(snapshots, cache), flusher, backfiller)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"payment-ledger"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		handlers.Routes(r, wsHub)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("payment-ledger listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down payment-ledger...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	// Drain what is still cached so snapshots are current on restart.
	if n, err := flusher.FlushOnce(shutdownCtx); err != nil {
		slog.Error("final flush failed", "flushed", n, "err", err)
	}
	fmt.Println("payment-ledger stopped")
}
