package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/xx-3-xx/BankWebsite/libs/health"
	"github.com/xx-3-xx/BankWebsite/libs/httpmiddleware"
	"github.com/xx-3-xx/BankWebsite/libs/kafka"
	"github.com/xx-3-xx/BankWebsite/libs/logging"
	"github.com/xx-3-xx/BankWebsite/libs/metrics"
	"github.com/xx-3-xx/BankWebsite/libs/trace"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/config"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/handlers"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/provider"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/rate"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/service"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/storage"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/verification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(context.Background(), cfg.App.ServiceName, cfg.App.Env, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()
	stepMetrics := service.NewMetrics(registry)
	ready := health.NewManager(false)

	verifyStore, limiter, closeRedis, err := buildVerification(cfg, ready, logger)
	if err != nil {
		logger.Error("verification store init failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = closeRedis() }()

	var recorder service.Recorder
	if cfg.DB.Enabled() {
		pool, err := connectDB(cfg)
		if err != nil {
			logger.Error("db connection failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		store := storage.New(pool)
		schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = store.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			logger.Error("db schema init failed", "error", err)
			os.Exit(1)
		}
		ready.AddCheck("postgres", store.Ping)
		recorder = store
	} else {
		logger.Info("postgres not configured, audit recording disabled")
	}

	var publisher kafka.Publisher
	if cfg.Kafka.Enabled() {
		producer, err := kafka.NewSyncProducer(kafka.ProducerConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
			Timeout:  5 * time.Second,
		}, logger, kafka.NewProducerMetrics(registry))
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		dlq := kafka.NewDLQPublisher(producer, producer, cfg.Kafka.DLQTopic, logger)
		defer dlq.Close()
		publisher = dlq
	} else {
		logger.Info("kafka not configured, step events disabled")
	}

	var documents provider.DocumentStore = provider.SimulatedDocumentStore{Latency: cfg.Latency.Upload}
	if cfg.Minio.Enabled() {
		minioCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		minioStore, err := provider.NewMinioDocumentStore(minioCtx, provider.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Secure:    cfg.Minio.Secure,
		}, logger)
		cancel()
		if err != nil {
			logger.Error("minio init failed", "error", err)
			os.Exit(1)
		}
		documents = minioStore
	}

	onboardingSvc := service.NewOnboardingService(
		service.Providers{
			Registrar: provider.SimulatedRegistrar{Latency: cfg.Latency.Register},
			Faces:     provider.SimulatedFaceAnalyzer{Latency: cfg.Latency.FaceScan, Confidence: cfg.FaceConfidence},
			Documents: documents,
			SMS:       provider.SimulatedSMSSender{Latency: cfg.Latency.SMS, Logger: logger},
			Accounts:  provider.SimulatedAccountIssuer{Latency: cfg.Latency.Link},
		},
		verification.NewService(verifyStore, cfg.Verification.TTL, nil),
		limiter,
		recorder,
		publisher,
		logger,
		stepMetrics,
		service.Options{
			StepTimeout:         cfg.StepTimeout,
			MinFaceConfidence:   cfg.MinFaceConfidence,
			RequireVerification: cfg.Verification.Required,
			EventsTopic:         cfg.Kafka.EventsTopic,
		},
	)

	handler := handlers.New(onboardingSvc, logger)
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))
	router.Use(httpmiddleware.BodyLimit(cfg.App.HTTP.MaxBodyBytes))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handler.Register(router)

	httpServer := &http.Server{
		Addr:         cfg.App.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	ready.SetReady(true)

	go func() {
		logger.Info("onboarding http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, logger)
}

// buildVerification returns the challenge store and send-verification
// limiter. Both share one Redis client; dev and test fall back to memory
// when Redis is unreachable.
func buildVerification(cfg *config.Config, ready *health.Manager, logger *slog.Logger) (verification.Store, rate.Limiter, func() error, error) {
	noop := func() error { return nil }
	ratePolicy := rate.Policy{Limit: cfg.Verification.RateLimit, Window: cfg.Verification.RateWindow}
	memory := func() (verification.Store, rate.Limiter, func() error, error) {
		return verification.NewMemoryStore(cfg.Verification.MaxAttempts),
			rate.NewMemory(ratePolicy),
			noop, nil
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			if cfg.App.IsLocal() {
				logger.Warn("redis unavailable, falling back to memory", "error", err)
				return memory()
			}
			return nil, nil, nil, err
		}

		ready.AddCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		return verification.NewRedisStore(client, cfg.Verification.StorePrefix, cfg.Verification.MaxAttempts),
			rate.NewRedisLimiter(client, ratePolicy, cfg.Verification.RatePrefix),
			client.Close, nil
	}

	if cfg.App.IsLocal() {
		return memory()
	}
	return nil, nil, nil, fmt.Errorf("verification redis not configured")
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
