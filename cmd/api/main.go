package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IlyasAtabaev731/movement-ledger/internal/api"
	"github.com/IlyasAtabaev731/movement-ledger/internal/auth"
	"github.com/IlyasAtabaev731/movement-ledger/internal/balance"
	"github.com/IlyasAtabaev731/movement-ledger/internal/config"
	"github.com/IlyasAtabaev731/movement-ledger/internal/events/rabbitmq"
	"github.com/IlyasAtabaev731/movement-ledger/internal/lease"
	leaseredis "github.com/IlyasAtabaev731/movement-ledger/internal/lease/redis"
	"github.com/IlyasAtabaev731/movement-ledger/internal/lib/wal"
	"github.com/IlyasAtabaev731/movement-ledger/internal/reconcile/mongodb"
	"github.com/IlyasAtabaev731/movement-ledger/internal/service/ledger"
	"github.com/IlyasAtabaev731/movement-ledger/internal/storage/memory"
	"github.com/IlyasAtabaev731/movement-ledger/internal/storage/postgres"
	redisstorage "github.com/IlyasAtabaev731/movement-ledger/internal/storage/redis"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

type store interface {
	ledger.Store
	api.Pinger
	Stop() error
}

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting application",
		slog.String("env", cfg.Env),
		slog.String("host", cfg.ApiHost),
		slog.Int("port", cfg.ApiPort),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("identity", cfg.Identity.Mode),
	)

	storage, err := setupStorage(cfg.Storage)
	if err != nil {
		log.Error("Failed to open ledger storage", "error", err)
		os.Exit(1)
	}
	var closers []io.Closer

	opts := ledger.Options{
		AppendTimeout:  cfg.Ledger.AppendTimeout,
		CompareAndSwap: cfg.Ledger.CompareAndSwap,
	}

	var idempotency api.IdempotencyStore
	redisClient := setupRedis(cfg.Redis, log)
	if redisClient != nil {
		closers = append(closers, redisClient)
		idempotency = redisstorage.NewIdempotencyStorage(redisClient)
	}

	if cfg.Ledger.SerializePerUser {
		if redisClient != nil {
			opts.Locker = leaseredis.New(redisClient, cfg.Ledger.LeaseTTL, log)
			log.Info("Per-user leases held in redis")
		} else {
			opts.Locker = lease.NewLocal()
			log.Warn("Per-user leases are process-local; replicas are not serialized")
		}
	} else {
		log.Warn("Per-user serialization is off; concurrent debits for one user may overdraw")
	}

	if cfg.RabbitMQ.URL != "" {
		conn, publisher, err := setupRabbitMQ(cfg.RabbitMQ, log)
		if err != nil {
			log.Error("Failed to connect to rabbitmq, movements will not be published", "error", err)
		} else {
			closers = append(closers, conn)
			opts.Publisher = publisher
		}
	}

	if cfg.Mongo.URI != "" {
		client, err := setupMongo(cfg.Mongo)
		if err != nil {
			log.Error("Failed to connect to mongodb, unreconciled movements will only be logged", "error", err)
		} else {
			defer func() {
				if err := client.Disconnect(context.Background()); err != nil {
					log.Error("Failed to disconnect mongodb", "error", err)
				}
			}()
			opts.Reconciler = mongodb.NewJournal(client, cfg.Mongo.Database)
		}
	}

	service := ledger.New(
		log,
		setupVerifier(cfg),
		balance.New(cfg.BalanceAuthority.URL, cfg.BalanceAuthority.APIKey, cfg.BalanceAuthority.Timeout),
		storage,
		opts,
	)

	apiServer := api.New(cfg, log, service, storage, idempotency)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		apiServer.MustStart()
	}()

	<-sigChan
	log.Info("Got signal to shutdown server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Stop(ctx); err != nil {
		log.Error("Stopping server error", "error", err)
	}

	if err := storage.Stop(); err != nil {
		log.Error("Stopping storage error", "error", err)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Error("Closing connection error", "error", err)
		}
	}
}

func setupStorage(cfg config.Storage) (store, error) {
	if cfg.Driver == config.DriverMemory {
		if cfg.WALPath == "" {
			return memory.New(nil)
		}
		log, err := wal.Open(cfg.WALPath)
		if err != nil {
			return nil, err
		}
		return memory.New(log)
	}

	return postgres.New(cfg.Postgres.URL())
}

func setupVerifier(cfg *config.Config) auth.Verifier {
	if cfg.Identity.Mode == config.IdentityRemote {
		return auth.NewRemoteVerifier(cfg.Identity.URL, cfg.Identity.Timeout)
	}
	return auth.NewJWTVerifier(cfg.JWT.Secret)
}

// setupRedis returns nil when redis is not configured or not reachable.
func setupRedis(cfg config.Redis, log *slog.Logger) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("Redis unreachable, idempotency keys disabled", "error", err)
		_ = client.Close()
		return nil
	}

	log.Info("Connected to redis", slog.String("addr", cfg.Addr))
	return client
}

func setupRabbitMQ(cfg config.RabbitMQ, log *slog.Logger) (*amqp.Connection, *rabbitmq.Publisher, error) {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Properties: amqp.Table{"connection_name": "movement-ledger"},
	})
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := rabbitmq.Declare(ch, cfg.Exchange); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	log.Info("Connected to rabbitmq", slog.String("exchange", cfg.Exchange))
	return conn, rabbitmq.NewPublisher(ch, cfg.Exchange, log), nil
}

func setupMongo(cfg config.Mongo) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return client, nil
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
