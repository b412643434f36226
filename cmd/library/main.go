package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/cache"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/config"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/grpcserver"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/idempotency"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/kafka"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/logger"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository/postgresql"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/server"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "").Fatal("Invalid configuration", zap.Error(err))
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Service stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Service gracefully stopped")
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	database, err := db.NewDb(ctx, cfg.DSN(), cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer database.Close()
	log.Info("Connected to database", zap.String("host", cfg.DBHost), zap.String("db", cfg.DBName))

	repos := storage.Repositories{
		Books:      postgresql.NewBookRepo(database),
		Categories: postgresql.NewCategoryRepo(database),
		Users:      postgresql.NewUserRepo(database),
		Orders:     postgresql.NewOrderRepo(database),
		History:    postgresql.NewHistoryRepo(database),
		Outbox:     postgresql.NewOutboxTaskRepo(),
	}

	orderCache := cache.NewOrderCache(repos.Orders, log.Named("cache"))
	if err := orderCache.LoadInitialData(ctx); err != nil {
		return err
	}

	stg := storage.NewStorage(database, repos, orderCache, storage.Config{
		CartLimit:   cfg.CartLimit,
		LoanPeriod:  cfg.LoanPeriod,
		OrdersTopic: cfg.OrdersTopic,
	})

	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		created, err := stg.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			return err
		}
		if created {
			log.Info("Administrator account created", zap.String("name", cfg.AdminUsername))
		}
	}

	var producer kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafka.NewKafkaProducer(cfg.KafkaBrokers, log.Named("kafka"))
		log.Info("Publishing order events to Kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.OrdersTopic))
	} else {
		producer = kafka.NewConsoleProducer(log.Named("events"))
		log.Info("KAFKA_BROKERS not set, order events are written to the log")
	}

	publisher := kafka.NewPublisher(database, repos.Outbox, producer, kafka.PublisherConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		Retention:    cfg.OutboxRetention,
	}, log.Named("outbox"))
	defer publisher.Shutdown()

	var idem idempotency.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		idem = idempotency.NewRedisStore(rdb, cfg.IdempotencyTTL)
		log.Info("Connected to redis", zap.String("addr", cfg.RedisAddr))
	} else {
		idem = idempotency.NewMemoryStore(cfg.IdempotencyTTL)
	}

	httpServer := server.New(stg, idem, log.Named("http"))
	grpcServer := grpcserver.NewServer(database, 0, log.Named("grpc"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		publisher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return httpServer.Run(gctx, cfg.HTTPPort)
	})
	g.Go(func() error {
		return grpcServer.Run(gctx, cfg.GRPCPort)
	})

	return g.Wait()
}
