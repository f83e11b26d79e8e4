package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"leverage-scanner/config"
	"leverage-scanner/internal/exchange"
	"leverage-scanner/internal/execution"
	"leverage-scanner/internal/feed"
	"leverage-scanner/internal/gateway"
	"leverage-scanner/internal/indicator"
	"leverage-scanner/internal/logger"
	"leverage-scanner/internal/metrics"
	"leverage-scanner/internal/model"
	"leverage-scanner/internal/notification"
	"leverage-scanner/internal/scanner"
	sig "leverage-scanner/internal/signal"
	redisstore "leverage-scanner/internal/store/redis"
	sqlitestore "leverage-scanner/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	once := flag.Bool("once", false, "run a single scan cycle and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init("scanner", slog.LevelInfo)
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	level, _ := logger.ParseLevel(cfg.LogLevel)
	log := logger.Init("scanner", level)

	if cfg.Disabled {
		log.Info("bot is disabled (BOT_DISABLED=true), exiting")
		return
	}

	if err := run(cfg, *once, log); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, once bool, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Info("shutdown signal received", "signal", s.String())
		cancel()
	}()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(cfg.Metrics.StaleAfter)
	health.SetTradingEnabled(cfg.Trading.Enabled)
	health.SetRedisEnabled(cfg.Redis.Enabled)

	// ---- Exchange ----
	api := exchange.NewClient(cfg.Exchange, cfg.Creds)
	api.Retrier().OnRetry = func(kind exchange.Kind) {
		prom.RetriesTotal.WithLabelValues(kind.String()).Inc()
	}

	// ---- SQLite signal log ----
	if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLite.Path, QueueSize: cfg.SQLite.QueueSize})
	if err != nil {
		return err
	}
	defer sqlWriter.Close()
	health.SetSQLiteOK(true)

	sqlReader, err := sqlitestore.NewReader(cfg.SQLite.Path)
	if err != nil {
		return err
	}
	defer sqlReader.Close()

	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		sqlWriter.Run(writerCtx)
	}()

	sinks := []model.SignalSink{sqlWriter}

	// ---- Redis stream (optional) ----
	var redisWriter *redisstore.Writer
	if cfg.Redis.Enabled {
		redisWriter, err = redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Warn("redis init failed, continuing without redis", "err", err)
			health.SetRedisConnected(false)
		} else {
			defer redisWriter.Close()
			health.SetRedisConnected(true)

			cb := redisstore.NewCircuitBreaker(cfg.Redis.MaxFailures, cfg.Redis.ResetTimeout)
			cb.OnStateChange = func(_, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
			}
			buffered := redisstore.NewBufferedWriter(ctx, redisWriter, cb, cfg.Redis.BufferSize)
			buffered.OnBuffer = prom.RedisBufferedWrites.Inc
			buffered.OnFlush = func(n int) { log.Info("redis buffer replayed", "count", n) }
			sinks = append(sinks, buffered)
		}
	}

	var rdb *goredis.Client
	if redisWriter != nil {
		rdb = redisWriter.Client()
	}
	health.StartLivenessChecker(ctx, rdb, sqlWriter.DB(), cfg.Metrics.LivenessInterval)

	// ---- Dashboard hub ----
	hub := gateway.NewHub(cfg.Gateway.ReplaySize)
	hub.OnClientsChange = func(n int) { prom.WSClients.Set(float64(n)) }
	sinks = append(sinks, hub)

	// ---- Notifications ----
	sinks = append(sinks, notification.NewSink(cfg.Notifier(), cfg.Notify.SinkConfig))

	// ---- Auto-trading (optional) ----
	var (
		trader  *scanner.Trader
		journal *execution.Journal
	)
	if cfg.Trading.Enabled {
		journal, err = execution.NewJournal(cfg.SQLite.Path)
		if err != nil {
			return err
		}
		defer journal.Close()
		trader = scanner.NewTrader(execution.NewClient(cfg.Trading, api), journal, cfg.Trading.MinConfidence, prom)
		log.Info("auto-trading enabled", "min_confidence", cfg.Trading.MinConfidence, "trade_url", cfg.Exchange.TradeURL)
	}

	// ---- HTTP: /metrics, /healthz, /ws, /api/* ----
	srv := metrics.NewServer(cfg.Metrics.Addr, health, prometheus.DefaultGatherer)
	gateway.RegisterRoutes(srv, hub, sqlReader)
	if journal != nil {
		gateway.RegisterOrderRoutes(srv, journal)
	}
	srv.Start()
	defer func() {
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Stop(shutdownCtx)
	}()

	scan := scanner.New(cfg.Scanner, scanner.Deps{
		Universe: feed.NewUniverse(cfg.Universe, api),
		Candles:  feed.New(api),
		Engine:   indicator.NewEngine(cfg.Indicators),
		Detector: sig.NewDetector(sig.NewHintTable()),
		Sinks:    sinks,
		Trader:   trader,
		Metrics:  prom,
		Health:   health,
	})

	log.Info("scanner starting",
		"timeframes", cfg.Scanner.Timeframes, "interval", cfg.Scanner.Interval,
		"sinks", len(sinks), "trading", cfg.Trading.Enabled, "once", once)

	if once {
		_, err = scan.RunOnce(ctx)
	} else {
		err = scan.Run(ctx)
	}

	// Drain the signal log before the deferred closes run.
	stopWriter()
	<-writerDone

	if errors.Is(err, context.Canceled) {
		log.Info("scanner stopped")
		return nil
	}
	return err
}
