package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"stratbook/internal/config"
	"stratbook/internal/event"
	"stratbook/internal/fx"
	"stratbook/internal/ingestion"
	"stratbook/internal/marketdata"
	"stratbook/internal/notify"
	"stratbook/internal/observability"
	"stratbook/internal/persistence"
	"stratbook/internal/portfolio"
	"stratbook/internal/reconcile"
	"stratbook/internal/recovery"
	"stratbook/internal/server"
	"stratbook/internal/snapshot"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	log.Info().
		Str("strat_id", cfg.Strat.ID).
		Str("buy_security", cfg.Strat.BuySecurity).
		Str("sell_security", cfg.Strat.SellSecurity).
		Bool("fresh", cfg.Strat.Fresh).
		Msg("stratbook starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, log)
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- State + market caches, FX ---
	store := persistence.NewStore(db, cfg.Strat.ID, metrics, log)
	stratCache := snapshot.NewStratCache()
	participationWindow := time.Duration(cfg.Limits.ApplicableWindowSeconds) * time.Second
	marketCache := marketdata.NewCache(participationWindow)
	fxConv := fx.NewConverter()

	// --- NATS ---
	nc, js, err := ingestion.Connect(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, log); err != nil {
		log.Fatal().Err(err).Msg("ensure inbound streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, log); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}

	publisher := ingestion.NewPublisher(js, cfg.NATS.OutboundBuffer, metrics, log)

	// --- Notification dispatch + portfolio checker ---
	dispatcher := notify.NewDispatcher(
		cfg.Strat.ID,
		publisher,
		notify.SymbolSet(cfg.Strat.BuySecurity, cfg.Strat.SellSecurity),
		metrics,
		log,
	)
	checker := portfolio.NewChecker(cfg.Portfolio.MaxOverallNotional, log)

	// --- Reconciliation engine ---
	engine := reconcile.NewEngine(
		cfg.Strat.ID,
		stratCache,
		store,
		marketCache,
		fxConv,
		checker,
		dispatcher,
		metrics,
		log,
	)

	// --- Market-data feed + trade recorder ---
	tradeRecorder := persistence.NewTradeRecorder(
		db,
		cfg.Feed.TradeBuffer,
		cfg.Feed.TradeBatchSize,
		time.Duration(cfg.Feed.TradeFlushMs)*time.Millisecond,
		time.Duration(cfg.Feed.TradeRetentionSecs)*time.Second,
		metrics,
		log,
	)
	wsClient := marketdata.NewWSClient(
		cfg.Feed.URL,
		[]string{cfg.Strat.BuySecurity, cfg.Strat.SellSecurity},
		marketCache,
		fxConv,
		tradeRecorder,
		metrics,
		log,
	)

	// --- Journal ingestion ---
	rawEventChan := make(chan ingestion.RawEvent, cfg.NATS.EventBuffer)
	subscriber := ingestion.NewSubscriber(js, rawEventChan, log)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects(cfg.Strat.ID)); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}
	consumer := ingestion.NewConsumer(rawEventChan, engine, metrics, log)

	// --- Servers ---
	srv := server.New(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, cfg.Server.MetricsAddr, server.Deps{
		StratID: cfg.Strat.ID,
		Cache:   stratCache,
		Store:   store,
		Engine:  engine,
		Health:  healthChecker,
		Log:     log,
	})

	// --- Readiness ladder ---
	sequencer := recovery.NewSequencer(
		recovery.Config{
			StratID:      cfg.Strat.ID,
			Fresh:        cfg.Strat.Fresh,
			BuySecurity:  cfg.Strat.BuySecurity,
			SellSecurity: cfg.Strat.SellSecurity,
			InitialState: recovery.StateSeed{
				Limits:     cfg.StratLimits(),
				StratState: event.ParseStratState(cfg.Strat.InitialState),
			},
			ProbeInterval: time.Duration(cfg.Readiness.ProbeIntervalSeconds) * time.Second,
			ProbeTimeout:  time.Duration(cfg.Readiness.ProbeTimeoutSeconds) * time.Second,
		},
		store,
		stratCache,
		marketCache,
		fxConv,
		readyFanout{engine: engine, srv: srv},
		healthChecker,
		metrics,
		func() error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats not connected")
			}
			return nil
		},
		log,
	)

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	go func() { errChan <- publisher.Run(ctx) }()
	go func() { errChan <- tradeRecorder.Run(ctx) }()
	go func() { errChan <- wsClient.Run(ctx) }()
	go func() { errChan <- consumer.Run(ctx) }()
	go func() { errChan <- srv.RunGRPC(ctx) }()
	go func() { errChan <- srv.RunHTTP(ctx) }()
	go func() { errChan <- srv.RunMetrics(ctx) }()

	// The sequencer returns once SERVICE_READY is reached; journal traffic
	// is NAKed until then.
	go func() {
		if err := sequencer.Run(ctx); err != nil {
			errChan <- fmt.Errorf("readiness sequencer: %w", err)
		}
	}()

	log.Info().
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("stratbook listeners up, readiness ladder running")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("goroutine failed, shutting down")
		}
	}

	engine.SetReady(false)
	healthChecker.SetReady(false)
	srv.SetServing(false)
	subscriber.Stop()
	cancel()

	// Give the trade recorder and publisher time to drain.
	time.Sleep(2 * time.Second)
	log.Info().Msg("stratbook shutdown complete")
}

// readyFanout flips the engine gate and the gRPC health service together
// when the readiness ladder completes.
type readyFanout struct {
	engine *reconcile.Engine
	srv    *server.Server
}

func (r readyFanout) SetReady(ready bool) {
	r.engine.SetReady(ready)
	r.srv.SetServing(ready)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level := observability.ParseLogLevel(cfg.Logging.Level)
	if cfg.Logging.File != "" {
		return observability.NewRotatingLogger("stratbook", cfg.Logging.File,
			cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, level)
	}
	return observability.NewLoggerWithLevel("stratbook", level)
}
