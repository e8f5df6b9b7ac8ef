package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"papertrade/internal/config"
	"papertrade/internal/db"
	"papertrade/internal/engine"
	"papertrade/internal/httpserver"
	"papertrade/internal/ledgerstore"
	"papertrade/internal/metrics"
	"papertrade/internal/notify"
	"papertrade/internal/scheduler"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx := context.Background()

	var store ledgerstore.Store
	if cfg.DBDSN == "memory" {
		log.Warn().Msg("running on the in-memory store; data will not survive restarts")
		store = ledgerstore.NewMemory()
	} else {
		pool, err := db.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("connect database")
		}
		defer pool.Close()
		if err := ledgerstore.EnsureSchema(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("ensure schema")
		}
		store = ledgerstore.NewPostgres(pool)
	}

	defaultCapital, err := decimal.NewFromString(cfg.DefaultInitialCapital)
	if err != nil {
		log.Fatal().Err(err).Msg("parse DEFAULT_INITIAL_CAPITAL")
	}

	bus := notify.NewBus()
	eng := engine.NewService(store, bus, log)
	agg := metrics.NewAggregator(store)

	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.OvernightSchedule, scheduler.OvernightJob{Engine: eng}); err != nil {
		log.Fatal().Err(err).Msg("register overnight job")
	}
	if err := sched.AddJob(cfg.SnapshotSchedule, scheduler.SnapshotJob{Store: store, Aggregator: agg, Log: log}); err != nil {
		log.Fatal().Err(err).Msg("register snapshot job")
	}
	sched.Start()
	defer sched.Stop()

	handler := httpserver.NewHandler(eng, agg, store, defaultCapital, cfg.DefaultBrokerProfile)
	wsHandler := httpserver.NewWSHandler(bus, []byte(cfg.JWTSecret), cfg.WSOrigin)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		Handler:       handler,
		WSHandler:     wsHandler,
		JWTSecret:     []byte(cfg.JWTSecret),
		InternalToken: cfg.InternalToken,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	log.Info().Str("addr", cfg.HTTPAddr).Msg("server listening")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}
