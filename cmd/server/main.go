package main

import (
	"context"
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

	"github.com/fincademy/sim-engine/internal/advisor"
	"github.com/fincademy/sim-engine/internal/commitment"
	"github.com/fincademy/sim-engine/internal/config"
	"github.com/fincademy/sim-engine/internal/events"
	"github.com/fincademy/sim-engine/internal/metrics"
	"github.com/fincademy/sim-engine/internal/nudge"
	"github.com/fincademy/sim-engine/internal/portfolio"
	"github.com/fincademy/sim-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("SIM_CONFIG"))
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()
	var rdb *redis.Client

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid redis url", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool, cfg.Simulation.StartingBalance)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore(cfg.Simulation.StartingBalance)
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Nudge sink ---
	var sink nudge.Sink = nudge.LogSink{}
	if rdb != nil {
		sink = nudge.NewRedisSink(rdb, cfg.Redis.NudgeChannel)
		slog.Info("Redis nudge sink enabled", "channel", cfg.Redis.NudgeChannel)
	}

	// --- Event feed hub ---
	hub := events.NewHub()
	go hub.Run()

	// --- Engines ---
	portfolioSvc := portfolio.NewService(st, hub)
	commitmentSvc := commitment.NewService(st, hub, cfg.Simulation.EarlyWithdrawalPenalty)
	advisorSvc := advisor.NewService(st, sink, cfg.Simulation.AnnualGrowthRate, cfg.Simulation.DefaultHorizonYears)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"sim-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket feed of committed simulation events.
		r.Get("/ws", hub.HandleWS)

		// Portfolio queries and trade execution.
		r.Get("/portfolio/{userID}", portfolioSvc.HandleGetPortfolio)
		r.Post("/trade", portfolioSvc.HandleTrade)
		r.Get("/events/{userID}", portfolioSvc.HandleListEvents)

		// Savings commitments.
		r.Post("/commitments", commitmentSvc.HandleCreate)
		r.Get("/commitments/{userID}", commitmentSvc.HandleList)
		r.Post("/commitments/{commitmentID}/withdraw", commitmentSvc.HandleWithdraw)

		// Advisory calculators.
		r.Post("/advice/budget", advisorSvc.HandleBudget)
		r.Post("/advice/stress-test", advisorSvc.HandleStressTest)
		r.Post("/advice/impact", advisorSvc.HandleImpact)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("sim-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down sim-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("sim-engine stopped")
}
