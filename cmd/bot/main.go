package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/crypto_trade_pinbar/internal/config"
	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"github.com/vitos/crypto_trade_pinbar/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_pinbar/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_pinbar/internal/infrastructure/notify"
	"github.com/vitos/crypto_trade_pinbar/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_pinbar/internal/usecase"
	"github.com/vitos/crypto_trade_pinbar/internal/web"
	"go.uber.org/zap"
)

type closableStore interface {
	domain.StateStore
	Close() error
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	var (
		store     closableStore
		publisher notify.Publisher
	)
	switch cfg.Storage.Driver {
	case "redis":
		rs := storage.NewRedisStore(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB, cfg.Storage.RedisKey)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rs.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.String("addr", cfg.Storage.RedisAddr), zap.Error(err))
		}
		store, publisher = rs, rs
	case "sqlite":
		ss, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatal("Failed to init sqlite", zap.Error(err))
		}
		store = ss
	default:
		log.Fatal("Unknown storage driver", zap.String("driver", cfg.Storage.Driver))
	}
	defer store.Close()

	// 4. Init Exchanges
	gateways := make(map[string]domain.Gateway, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		gw, err := exchange.NewGateway(ex.Name, ex.APIKey, ex.APISecret, ex.RESTEndpoint)
		if err != nil {
			log.Error("Skipping exchange", zap.String("exchange", ex.Name), zap.Error(err))
			continue
		}
		if ex.APIKey == "" || ex.APISecret == "" {
			log.Warn("Exchange has no credentials, trading calls will fail", zap.String("exchange", ex.Name))
		}
		gateways[ex.Name] = gw
	}
	if len(gateways) == 0 {
		log.Fatal("No exchanges configured")
	}

	// 5. Init Notifications
	hub := notify.NewHub(log)
	sinks := []domain.Notifier{notify.NewLogSink(log), hub}
	if publisher != nil && cfg.Notifications.RedisPublish {
		sinks = append(sinks, notify.NewPublisherSink(publisher, log))
	}
	dispatcher := usecase.NewEventDispatcher(cfg.Notifications.Buffer, log, sinks...)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()

	// 6. Init Registry and restore persisted strategies
	registry := usecase.NewStrategyRegistry(gateways, store, dispatcher, cfg.Engine(), log)
	restored, err := registry.RestoreAll(context.Background())
	if err != nil {
		log.Error("Failed to restore strategies", zap.Error(err))
	} else {
		log.Info("Restored strategies", zap.Int("count", restored))
	}

	// 7. Init Web Server
	server := web.NewServer(cfg.Server.Port, registry, hub, log)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server failed", zap.Error(err))
			stop <- syscall.SIGTERM
		}
	}()

	// 8. Wait for Shutdown
	<-stop
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Web server shutdown failed", zap.Error(err))
	}

	// Loops stop but records stay persisted for the next RestoreAll.
	registry.Shutdown()
	stopDispatch()
	<-dispatchDone
	if n := dispatcher.Dropped(); n > 0 {
		log.Warn("Events dropped during run", zap.Int64("count", n))
	}
}
