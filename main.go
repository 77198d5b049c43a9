package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stockwatch/config"
	"stockwatch/internal/api"
	"stockwatch/internal/feed"
	"stockwatch/internal/metrics"
	"stockwatch/internal/monitor"
	"stockwatch/internal/notify"
	"stockwatch/internal/quote"
	"stockwatch/internal/target"
	"stockwatch/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Stockwatch.Name,
		"version": cfg.Stockwatch.Version,
	}).Info("starting stockwatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Metrics.CloudWatchEnabled {
		metrics.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace)
	}

	db, err := target.Open(cfg.Database)
	if err != nil {
		log.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	store := target.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		log.WithError(err).Error("failed to prepare database schema")
		os.Exit(1)
	}

	cache := quote.NewCache()
	feedClient := feed.NewClient(cfg.Feed, cache, nil)
	dispatcher := notify.NewWebhookDispatcher(cfg.Notify, store)
	evaluator := monitor.New(cfg.Monitor, store, cache, dispatcher)
	coordinator := monitor.NewCoordinator(cfg.Feed, cfg.Monitor, feedClient, store)

	apiServer, err := api.NewServer(cfg.Server, cfg.Monitor, store, cache, feedClient, coordinator, log)
	if err != nil {
		log.WithError(err).Error("failed to create api server")
		os.Exit(1)
	}

	if err := coordinator.SubscribeExisting(ctx); err != nil {
		log.WithError(err).Error("failed to restore feed subscriptions")
		os.Exit(1)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		evaluator.Run(ctx)
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Run(ctx); err != nil {
				log.WithError(err).Warn("api server exited with error")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping price feed")
	feedClient.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("stockwatch stopped")
}
