package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dgnsrekt/gexflow/internal/broker"
	"github.com/dgnsrekt/gexflow/internal/config"
	"github.com/dgnsrekt/gexflow/internal/gex"
	"github.com/dgnsrekt/gexflow/internal/instrumentation"
	"github.com/dgnsrekt/gexflow/internal/notify"
	"github.com/dgnsrekt/gexflow/internal/publish"
	"github.com/dgnsrekt/gexflow/internal/server"
	"github.com/dgnsrekt/gexflow/internal/store"
	"github.com/dgnsrekt/gexflow/internal/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.Strings("symbols", cfg.Engine.Symbols),
		zap.Bool("wsEnabled", cfg.Server.WSEnabled),
		zap.Bool("databaseEnabled", cfg.Database.Enabled),
		zap.Bool("redisEnabled", cfg.Redis.Enabled),
		zap.Bool("notifyEnabled", cfg.Notify.Enabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := instrumentation.NewMetrics()

	// Engine options assemble below as optional backends come online.
	opts := []gex.Option{gex.WithRecorder(metrics)}

	var repo *store.Store
	if cfg.Database.Enabled {
		repo, err = store.Open(cfg.Database.DSN, cfg.Database.TablePrefix)
		if err != nil {
			logger.Error("failed to open database", zap.Error(err))
			return 1
		}
		opts = append(opts, gex.WithRepository(repo))
		logger.Info("database connected", zap.String("tablePrefix", cfg.Database.TablePrefix))
	}

	var hub *ws.Hub
	if cfg.Server.WSEnabled {
		hub = ws.NewHub(logger)
		go hub.Run(ctx)
	}

	if cfg.Redis.Enabled {
		publisher, err := publish.NewRedisPublisher(cfg.Redis.Addr,
			time.Duration(cfg.Redis.TTLSec)*time.Second, logger)
		if err != nil {
			logger.Error("failed to connect to redis", zap.Error(err))
			return 1
		}
		defer publisher.Close()
		opts = append(opts, gex.WithSink(publisher))
		logger.Info("redis publisher connected", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.Notify.Enabled {
		opts = append(opts, gex.WithSink(notify.NewClient(cfg.Notify, logger)))
		logger.Info("notifications enabled", zap.String("topic", cfg.Notify.Topic))
	}

	if hub != nil {
		opts = append(opts, gex.WithSink(ws.NewSnapshotStreamer(hub, logger)))
	}

	engine, err := gex.NewEngine(cfg.Engine, logger, opts...)
	if err != nil {
		logger.Error("failed to create engine", zap.Error(err))
		return 1
	}
	engine.Rehydrate(ctx)

	client := broker.NewClient(
		cfg.Broker.BaseURL,
		cfg.Broker.APIKey,
		cfg.Broker.RatePerSecond,
		time.Duration(cfg.Broker.TimeoutSec)*time.Second,
		time.Duration(cfg.Broker.RetryDelaySec)*time.Second,
		cfg.Broker.RetryCount,
		logger,
	)
	vixSource := broker.NewVIXSource(client, cfg.VIX.Symbols, logger)

	service := server.NewService(engine, client, vixSource, logger,
		server.WithErrorRecorder(metrics))

	var archive server.SnapshotArchive
	if repo != nil {
		archive = repo
	}
	srv := server.NewServer(service, engine, hub, archive, logger)

	// Hourly purge keeps the durable history table inside the retention
	// ceiling. In-memory history trims itself on every fresh pass.
	scheduler := cron.New()
	if repo != nil {
		_, err = scheduler.AddFunc("@hourly", func() {
			cutoff := time.Now().Add(-cfg.Engine.HistoryRetention())
			purged, err := repo.PurgeHistory(context.Background(), cutoff)
			if err != nil {
				logger.Warn("history purge failed", zap.Error(err))
				return
			}
			if purged > 0 {
				logger.Info("history purged", zap.Int64("rows", purged))
			}
		})
		if err != nil {
			logger.Error("failed to schedule history purge", zap.Error(err))
			return 1
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
