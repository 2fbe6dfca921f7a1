package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"webhook-notifier/broker"
	"webhook-notifier/cache"
	"webhook-notifier/config"
	"webhook-notifier/directory"
	"webhook-notifier/ledger"
	"webhook-notifier/metrics"
	"webhook-notifier/notify"
	"webhook-notifier/quota"
	"webhook-notifier/router"
	"webhook-notifier/scheduler"
)

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func main() {
	configPath := flag.String("config", "", "Path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}
	logger := newLogger(cfg.Log)

	// ctx for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init redis connection
	redisOptions, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to parse Redis URL")
	}
	redisClient := redis.NewClient(redisOptions)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	logger.Info("Connected to Redis")

	cacheManager := cache.NewManager(redisClient)

	// Webhook directory
	dir, err := directory.NewStore(directory.Config{
		Hosts:    cfg.Directory.Hosts,
		Keyspace: cfg.Directory.Keyspace,
		LocalDC:  cfg.Directory.LocalDC,
		Username: cfg.Directory.Username,
		Password: cfg.Directory.Password,
		Timeout:  cfg.Directory.Timeout,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to the webhook directory")
	}
	defer dir.Close()
	logger.Info("Connected to the webhook directory")

	checks := []Check{
		{Name: "redis", Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		{Name: "directory", Ping: dir.Ping},
	}

	// One ledger per network
	ledgers := ledger.Networks{}
	for network, lc := range cfg.Ledger.Networks() {
		client, err := ledger.NewClient(ctx, lc.DSN, lc.MaxConns, lc.MinConns)
		if err != nil {
			logger.WithError(err).WithField("network", network).Fatal("Failed to connect to the ledger")
		}
		defer client.Close()
		ledgers[network] = ledger.NewCached(client, network, cacheManager.AssetMetadata, cfg.Ledger.MetadataTTL)
		checks = append(checks, Check{Name: "ledger-" + network, Ping: client.Ping})
		logger.WithField("network", network).Info("Connected to the ledger")
	}

	metrics.Register()
	publisher := broker.NewPublisher(redisClient, cfg.Redis.StreamMaxLen)
	quotaStore := quota.NewStore(redisClient)

	var (
		eventRouter EventRouter
		notifier    JobNotifier
		releaser    BlockReleaser
	)
	queue := scheduler.NewQueue(cacheManager)
	if cfg.Scheduler.Enabled {
		releaser = scheduler.NewReleaser(queue, publisher, logger)
	}

	if cfg.Routes() {
		eventRouter = router.New(dir, publisher, ledgers, router.Options{
			PageSize:   cfg.Directory.PageSize,
			APIVersion: cfg.APIVersion,
		}, logger)
	}

	if cfg.Notifies() {
		dispatcher := notify.NewDispatcher(&http.Client{}, cfg.Notify.HeaderSignature, cfg.Notify.Timeout)
		monitor := quota.NewMonitor(quotaStore, publisher, quota.Thresholds{
			Warning:     cfg.Notify.RequestsWarning,
			FailedLimit: cfg.Notify.FailedLimit,
			Timeout:     dispatcher.Timeout(),
		}, logger)

		opts := notify.Options{ConfirmationFactor: cfg.Notify.ConfirmationFactor}
		if cfg.Scheduler.Enabled {
			opts.Deferrer = queue
		}
		notifier = notify.New(dir, ledgers, dispatcher, monitor, opts, logger)
	}

	// each mode reads every message of its topics, so modes do not share a group
	handler := NewHandler(eventRouter, notifier, releaser, logger)
	consumer := broker.NewConsumer(redisClient, broker.ConsumerConfig{
		Group:         cfg.Broker.Group + "-" + cfg.Mode,
		Name:          cfg.Broker.Consumer,
		Topics:        handler.Topics(),
		Block:         cfg.Broker.Block,
		ClaimIdle:     cfg.Broker.ClaimIdle,
		MaxDeliveries: cfg.Broker.MaxDeliveries,
	}, logger)

	app := newServer(quotaStore, checks, logger)

	// sigterm handling
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Received shutdown signal, shutting down...")
		cancel()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Warn("Failed to shut down the server")
		}
	}()

	go func() {
		logger.WithFields(logrus.Fields{
			"mode":   cfg.Mode,
			"topics": handler.Topics(),
		}).Info("Starting consumer")
		if err := consumer.Run(ctx, handler.HandleMessage); err != nil {
			logger.WithError(err).Fatal("Consumer stopped")
		}
		logger.Info("Consumer stopped")
	}()

	logger.Infof("Starting server on %s", cfg.Listen)
	if err := app.Listen(cfg.Listen); err != nil {
		logger.WithError(err).Fatal("Server stopped")
	}
}
