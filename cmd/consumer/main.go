package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/streadway/amqp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/CyberwizD/expo-push/internal/config"
	"github.com/CyberwizD/expo-push/internal/consumer"
	"github.com/CyberwizD/expo-push/internal/repository"
	"github.com/CyberwizD/expo-push/internal/routes"
	"github.com/CyberwizD/expo-push/internal/services"
	"github.com/CyberwizD/expo-push/pkg/logger"
	"github.com/CyberwizD/expo-push/pkg/metrics"
	"github.com/CyberwizD/expo-push/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.ValidateConsumer(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	logr := logger.New(cfg.LogLevel)
	logr.Info("starting push consumer", slog.String("app", cfg.AppName))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logr.Error("failed to connect database", slog.Any("error", err))
		os.Exit(1)
	}
	statusStore, err := repository.NewStatusStore(db, cfg.StatusTable)
	if err != nil {
		logr.Error("failed to prepare status table", slog.Any("error", err))
		os.Exit(1)
	}

	var cache services.TokenCache
	if cfg.RedisURL != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		redisRepo := repository.NewRedisRepository(rdb, cfg.SuppressTTL)
		defer redisRepo.Close()
		cache = redisRepo
	}

	metricsCollector := metrics.New()
	provider := services.NewExpoProvider(services.ExpoOptions{
		AccessToken: cfg.ExpoAccessToken,
		Endpoint:    cfg.ExpoEndpoint,
		Timeout:     cfg.ProviderTimeout,
		RatePerSec:  cfg.SendRatePerSec,
	}, logger.Component(logr, "expo"))
	processor := services.NewPushProcessor(
		provider,
		services.NewStatusUpdater(statusStore, logr),
		cache,
		metricsCollector,
		logr,
	)

	conn, err := dialRabbit(ctx, cfg, logr)
	if err != nil {
		logr.Error("failed to connect rabbitmq", slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close()

	base := consumer.NewBaseConsumer(conn, consumer.Options{
		Queue:    cfg.PushQueue,
		DLQ:      cfg.DeadLetterQueue,
		Prefetch: cfg.PrefetchCount,
		Workers:  cfg.WorkerCount,
	}, logger.Component(logr, "consumer"))
	pushConsumer := consumer.NewPushConsumer(base, processor, logr)

	httpSrv := startHTTPServer(cfg.HTTPPort, routes.NewRouter(routes.Options{
		Metrics: metricsCollector,
		Started: time.Now(),
		Logger:  logr,
		Tickets: statusStore,
	}), logr)

	if err := pushConsumer.Start(ctx); err != nil {
		logr.Error("push consumer exited", slog.Any("error", err))
	}

	shutdownHTTP(httpSrv, logr)
	logr.Info("push consumer stopped")
}

func dialRabbit(ctx context.Context, cfg *config.Config, logr *slog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:    cfg.DialMaxAttempts,
		InitialBackoff: cfg.DialInitialBackoff,
		MaxBackoff:     cfg.DialMaxBackoff,
		JitterFactor:   0.2,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			logr.Warn("rabbitmq dial failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.Any("error", err),
			)
		},
	}, func() error {
		c, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	return conn, err
}

func startHTTPServer(port string, handler http.Handler, logr *slog.Logger) *http.Server {
	if port == "" {
		port = "8082"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Error("http server error", slog.Any("error", err))
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logr *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("failed to shutdown http server", slog.Any("error", err))
	}
}
