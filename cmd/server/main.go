package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loyaltysystem/internal/config"
	"loyaltysystem/internal/handler"
	"loyaltysystem/internal/infrastructure/cache"
	"loyaltysystem/internal/infrastructure/database"
	"loyaltysystem/internal/infrastructure/lock"
	"loyaltysystem/internal/infrastructure/mq"
	"loyaltysystem/internal/job"
	"loyaltysystem/internal/repository"
	"loyaltysystem/internal/service"
	"loyaltysystem/pkg/idgen"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	setupLogging(cfg.Log)

	idgen.Init(1)

	ledger, outbox, err := openLedger(cfg)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}

	locker, err := newLocker(cfg)
	if err != nil {
		log.Fatalf("init lock: %v", err)
	}

	publisher, err := mq.New(&cfg.MQ)
	if err != nil {
		log.Fatalf("init publisher: %v", err)
	}
	defer publisher.Close()

	tiers, err := cfg.Loyalty.TierTable()
	if err != nil {
		log.Fatalf("tier table: %v", err)
	}
	rewards, err := cfg.Loyalty.Catalog()
	if err != nil {
		log.Fatalf("reward catalog: %v", err)
	}
	settings, err := service.SettingsFromConfig(cfg)
	if err != nil {
		log.Fatalf("settings: %v", err)
	}
	engine := service.NewEngine(ledger, locker, tiers, rewards, settings)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(outbox, publisher, cfg.Jobs.Outbox)
	go outboxSender.Start(ctx)

	scheduler := job.NewScheduler(engine, cfg.Jobs)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.SetupRouter(engine, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(log.Fields{
			"port":    cfg.Server.Port,
			"storage": cfg.Storage.Driver,
			"mq":      cfg.MQ.Driver,
		}).Info("[Server] listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Server] shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("[Server] shutdown")
	}

	outboxSender.Stop()
	cancel()
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("[Server] scheduled job still running at exit")
	}

	log.Info("[Server] stopped")
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func openLedger(cfg *config.Config) (repository.Ledger, repository.OutboxStore, error) {
	if cfg.Storage.Driver == "memory" {
		log.Warn("[Server] using in-memory storage, data is lost on restart")
		ledger := repository.NewMemoryLedger()
		return ledger, ledger, nil
	}

	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, nil, err
	}
	ledger := repository.NewGormLedger(db, cfg.Storage.Timeout)
	return ledger, ledger, nil
}

func newLocker(cfg *config.Config) (lock.Locker, error) {
	if !cfg.Redis.Enabled {
		return lock.NewLocalLocker(), nil
	}
	client, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		return nil, err
	}
	return lock.NewRedisLocker(client, cfg.Redis.LockTTL, cfg.Redis.LockRetry), nil
}
