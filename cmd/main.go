package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/backend"
	"github.com/htbacgiang/ecobacgiang/internal/cart"
	"github.com/htbacgiang/ecobacgiang/internal/checkout"
	"github.com/htbacgiang/ecobacgiang/internal/config"
	"github.com/htbacgiang/ecobacgiang/internal/confirm"
	"github.com/htbacgiang/ecobacgiang/internal/coupon"
	"github.com/htbacgiang/ecobacgiang/internal/domain"
	httpapi "github.com/htbacgiang/ecobacgiang/internal/http"
	"github.com/htbacgiang/ecobacgiang/internal/logger"
	"github.com/htbacgiang/ecobacgiang/internal/payment"
	"github.com/htbacgiang/ecobacgiang/internal/publisher"
	"github.com/htbacgiang/ecobacgiang/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg, err := config.Load(getEnv("CONFIG_DIR", "./configs"), getEnv("APP_ENV", ""))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(logger.Options{
		Service: cfg.App.Name,
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		File:    cfg.App.LogFile,
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()
	zap.ReplaceGlobals(zlog)

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("storefront stopped with error", zap.Error(err))
	}
	zlog.Info("storefront exited")
}

func run(cfg config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis: guest carts and placement guards
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	// MongoDB: payment intents
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(dctx)
	}()
	intents := payment.NewMongoRepository(mongoClient.Database(cfg.Mongo.Database))
	if err := intents.CreateIndexes(ctx); err != nil {
		return err
	}

	// Postgres: placement audit and ledger schema
	creds := &repository.Credentials{
		Host:              cfg.Postgres.Host,
		Port:              cfg.Postgres.Port,
		User:              cfg.Postgres.User,
		Password:          cfg.Postgres.Password,
		DBName:            cfg.Postgres.DBName,
		SSLMode:           cfg.Postgres.SSLMode,
		MigrationsDirPath: cfg.Postgres.MigrationsPath,
	}
	repo, err := repository.NewRepository(creds)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer repo.Close()
	if err := repo.RunMigrations(creds); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	zlog.Info("database migrations completed")

	api := backend.NewClient(backend.Config{
		BaseURL:            cfg.Backend.BaseURL,
		Timeout:            cfg.Backend.Timeout,
		BreakerMaxRequests: cfg.Backend.BreakerMaxRequests,
		BreakerInterval:    cfg.Backend.BreakerInterval,
		BreakerTimeout:     cfg.Backend.BreakerTimeout,
		BreakerFailures:    cfg.Backend.BreakerFailures,
	}, zlog)

	hub := confirm.NewHub()
	defer hub.Close()

	qr := payment.NewQRResolver(map[domain.Provider]payment.Sources{
		domain.ProviderBankTransferQR: {
			Primary:  payment.TemplateSource(cfg.Payment.BankQR.Primary),
			Fallback: payment.TemplateSource(cfg.Payment.BankQR.Fallback),
		},
		domain.ProviderWalletQR: {
			Primary:  payment.TemplateSource(cfg.Payment.WalletQR.Primary),
			Fallback: payment.TemplateSource(cfg.Payment.WalletQR.Fallback),
		},
	}, cfg.Payment.QRTimeout, zlog)
	manager := payment.NewManager(api, intents, qr, cfg.Payment.MemoPrefix, zlog)

	orders := publisher.NewOrderPublisher(cfg.Kafka.OrderTopic, zlog, cfg.Kafka.Brokers...)
	defer orders.Close()

	orchestrator := checkout.NewOrchestrator(api, checkout.NewRedisGuard(rdb, cfg.Redis.GuardTTL), manager, zlog).
		WithAudit(repo).
		WithEvents(orders)

	registry := checkout.NewRegistry(
		cart.NewLocalStore(rdb, cfg.Redis.GuestTTL),
		cart.NewRemoteStore(api),
		checkout.Deps{
			Coupons:      coupon.NewEngine(api, zlog),
			Intents:      manager,
			Orchestrator: orchestrator,
			Subscriber:   hub,
			Status:       api,
			Poll: confirm.PollPolicy{
				Interval:    cfg.Payment.PollInterval,
				MaxInterval: cfg.Payment.PollMaxInterval,
				MaxAttempts: cfg.Payment.PollAttempts,
			},
			ShippingFee: decimal.NewFromInt(cfg.Checkout.DefaultShippingFee),
			Logger:      zlog,
		},
		cfg.Checkout.SessionIdle,
	)
	defer registry.Close()

	feed := confirm.NewKafkaFeed(hub, cfg.Kafka.PaymentTopic, cfg.Kafka.Group, zlog, cfg.Kafka.Brokers...)
	defer feed.Close()

	srv := &http.Server{
		Addr: cfg.App.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.RouterConfig{
			Sessions:       registry,
			Hub:            hub,
			Auth:           httpapi.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
			WebhookSecret:  cfg.Payment.WebhookSecret,
			RequestTimeout: cfg.HTTP.RequestTimeout,
			Logger:         zlog,
		}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info("storefront listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		feed.Run(gctx)
		return nil
	})
	g.Go(func() error {
		registry.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zlog.Info("shutting down server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}
