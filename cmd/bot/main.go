package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"tg_guard_bot/internal/config"
	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/engine"
	"tg_guard_bot/internal/feature/broadcast"
	"tg_guard_bot/internal/feature/conversation"
	"tg_guard_bot/internal/feature/group"
	"tg_guard_bot/internal/feature/moderation"
	"tg_guard_bot/internal/feature/owner"
	"tg_guard_bot/internal/feature/user"
	"tg_guard_bot/internal/health"
	"tg_guard_bot/internal/logging"
	"tg_guard_bot/internal/scheduler"
	"tg_guard_bot/internal/store"
	"tg_guard_bot/internal/store/memstore"
	"tg_guard_bot/internal/store/sqlitestore"
	"tg_guard_bot/internal/telegram"
)

const (
	storeConnectTimeout     = 10 * time.Second
	storeIndexTimeout       = 5 * time.Second
	storeCloseTimeout       = 5 * time.Second
	ownerBootstrapTimeout   = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	drainTimeout            = 15 * time.Second
)

var version = "dev"

// openedStore is the registry plus whatever must be released on shutdown.
type openedStore struct {
	registry domain.Registry
	close    func(ctx context.Context) error
}

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	showVersion := flag.BoolP("version", "v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":        "startup",
		"version":      version,
		"store_driver": cfg.StoreDriver,
	}).Info("configuration loaded")

	limits := domain.DefaultMuteLimits()
	limits.Default = cfg.MuteDefault

	opened, err := openStore(cfg, limits, logger)
	if err != nil {
		fatal(logger, "store setup error", err)
	}

	ownerRegistrar := owner.NewRegistrar(opened.registry, logger)
	ownerCtx, cancelOwner := context.WithTimeout(context.Background(), ownerBootstrapTimeout)
	if err := ownerRegistrar.EnsureOwner(ownerCtx, cfg.BotOwnerID); err != nil {
		cancelOwner()
		fatal(logger, "owner bootstrap error", err)
	}
	cancelOwner()

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		fatal(logger, "telegram client setup error", err)
	}
	gateway := tgClient.Gateway()

	metricSet := metrics.NewSet()

	policy := owner.NewPolicy(cfg.SuperAdmins(), gateway, owner.PolicyOptions{}, logger)
	pipeline := moderation.NewPipeline(opened.registry, moderation.Options{
		DefaultMuteMinutes: cfg.MuteDefault,
		ExemptGroupAdmins:  cfg.ExemptGroupAdmins,
	}, metricSet, logger)
	dispatcher := broadcast.NewDispatcher(gateway, broadcast.Options{
		Interval: cfg.BroadcastInterval,
		Workers:  cfg.BroadcastWorkers,
	}, metricSet, logger)
	machine := conversation.NewMachine(opened.registry, policy, dispatcher, conversation.Options{
		PageSize:   cfg.PageSize,
		MuteLimits: limits,
	}, logger)

	eng, err := engine.New(engine.Deps{
		Gateway:  gateway,
		Policy:   policy,
		Registry: opened.registry,
		Pipeline: pipeline,
		Machine:  machine,
		Users:    user.NewRegistrar(opened.registry, logger),
		Groups:   group.NewRegistrar(opened.registry, gateway.BotIsAdmin, logger),
	}, engine.Options{}, metricSet, logger)
	if err != nil {
		fatal(logger, "engine setup error", err)
	}
	tgClient.Attach(eng)

	jobs, err := scheduler.New(machine, opened.registry, scheduler.Options{SessionTTL: cfg.SessionTTL}, metricSet, logger)
	if err != nil {
		fatal(logger, "scheduler setup error", err)
	}

	healthServer := health.NewServer(cfg.HTTPPort, opened.registry, logger, metricSet)

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, groupCtx := errgroup.WithContext(signalCtx)

	tgDone := make(chan struct{})
	services.Go(func() error {
		defer close(tgDone)
		tgClient.Start(groupCtx)
		return nil
	})
	services.Go(healthServer.ListenAndServe)

	jobs.Start()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	case <-groupCtx.Done():
		logger.WithField("event", "service_failed").Warn("a service stopped unexpectedly, shutting down")
	}
	stop()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	if err := jobs.Shutdown(); err != nil {
		logger.WithError(err).Error("scheduler shutdown error")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	if err := eng.Close(drainCtx); err != nil {
		logger.WithError(err).Warn("engine drain incomplete")
	}
	if err := machine.Close(drainCtx); err != nil {
		logger.WithError(err).Warn("broadcast drain incomplete")
	}
	if err := healthServer.Shutdown(drainCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelDrain()

	if err := services.Wait(); err != nil {
		logger.WithError(err).Error("service error")
	}

	closeCtx, cancelClose := context.WithTimeout(context.Background(), storeCloseTimeout)
	if err := opened.close(closeCtx); err != nil {
		logger.WithError(err).Error("store close error")
	} else {
		logger.WithField("event", "store_closed").Info("registry store closed")
	}
	cancelClose()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

func openStore(cfg config.Config, limits domain.MuteLimits, logger *logrus.Entry) (openedStore, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.WithField("event", "store_memory").Warn("using in-memory registry; data is lost on restart")
		return openedStore{
			registry: memstore.New(limits),
			close:    func(context.Context) error { return nil },
		}, nil

	case config.DriverSQLite:
		db, err := sqlitestore.Open(cfg.SQLitePath, limits, logger)
		if err != nil {
			return openedStore{}, fmt.Errorf("open sqlite registry: %w", err)
		}
		logger.WithFields(logging.Fields{
			"event": "sqlite_open",
			"path":  cfg.SQLitePath,
		}).Info("opened sqlite registry")
		return openedStore{
			registry: db,
			close:    func(context.Context) error { return db.Close() },
		}, nil

	default:
		connectCtx, cancel := context.WithTimeout(context.Background(), storeConnectTimeout)
		manager, err := store.NewManager(connectCtx, cfg)
		cancel()
		if err != nil {
			return openedStore{}, fmt.Errorf("mongo connection: %w", err)
		}
		logger.WithFields(logging.Fields{
			"event":    "mongo_connect",
			"mongo_db": cfg.MongoDB,
		}).Info("connected to mongo")

		indexCtx, cancelIndexes := context.WithTimeout(context.Background(), storeIndexTimeout)
		err = manager.EnsureBaseIndexes(indexCtx)
		cancelIndexes()
		if err != nil {
			closeCtx, cancelClose := context.WithTimeout(context.Background(), storeCloseTimeout)
			_ = manager.Close(closeCtx)
			cancelClose()
			return openedStore{}, fmt.Errorf("mongo index setup: %w", err)
		}
		logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

		return openedStore{
			registry: store.NewRegistry(manager, limits),
			close:    manager.Close,
		}, nil
	}
}

func fatal(logger *logrus.Entry, msg string, err error) {
	logger.WithError(err).Error(msg)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
