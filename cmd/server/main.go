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

	"kyte-estimates/config"
	"kyte-estimates/internal/api"
	"kyte-estimates/internal/broker"
	"kyte-estimates/internal/catalog"
	"kyte-estimates/internal/quickbooks"
	"kyte-estimates/internal/redisclient"
	"kyte-estimates/internal/service"
	"kyte-estimates/internal/store"
	"kyte-estimates/internal/util"
	"kyte-estimates/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "kyte-estimates"

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, serviceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting estimate service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(serviceName, cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.InitSchema(schemaCtx)
	schemaCancel()
	if err != nil {
		logger.Fatal("Failed to initialize schema", zap.Error(err))
	}
	logger.Info("Database connected")

	var locker service.Locker = service.NewKeyedMutex()
	var redisClient *redisclient.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		locker = service.ChainLockers(locker, redisclient.NewLocker(redisClient, cfg.Business.LockTTL))
		logger.Info("Redis connected, customer locks are distributed")
	}

	requestProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicConversionRequests)
	defer requestProducer.Close()
	resultProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicConversionEvents)
	defer resultProducer.Close()
	eventPublisher := broker.NewEventPublisher(requestProducer, resultProducer)

	if len(cfg.QuickBooks.RefreshTokens) == 0 {
		logger.Warn("No QuickBooks refresh tokens configured; remote calls will fail")
	}
	sessions := quickbooks.NewOAuthSessions(
		cfg.QuickBooks.ClientID,
		cfg.QuickBooks.ClientSecret,
		cfg.QuickBooks.TokenURL,
		cfg.QuickBooks.RefreshTokens,
		cfg.QuickBooks.Timeout,
	)
	qbClient := quickbooks.NewClient(sessions, quickbooks.Options{
		APIBaseURL:   cfg.QuickBooks.APIBaseURL,
		AppBaseURL:   cfg.QuickBooks.AppBaseURL,
		MinorVersion: cfg.QuickBooks.MinorVersion,
		MaxAttempts:  cfg.QuickBooks.MaxAttempts,
		BaseBackoff:  cfg.QuickBooks.BaseBackoff,
		MaxBackoff:   cfg.QuickBooks.MaxBackoff,
	})

	productCatalog := catalog.NewCatalog(db, cfg.Business.CatalogTTL)
	matcher := service.NewMatcher(productCatalog)
	customerMirror := service.NewCustomerMirror(qbClient, db, locker)
	converter := service.NewConverter(
		matcher,
		service.NewEstimateBuilder(),
		qbClient,
		db,
		customerMirror,
		eventPublisher,
		service.ConverterOptions{
			Timeout:      cfg.Business.ConversionTimeout,
			BatchWorkers: cfg.Business.BatchWorkers,
		},
	)
	webhookService := service.NewWebhookService(customerMirror, cfg.QuickBooks.WebhookVerifierToken)
	if cfg.QuickBooks.WebhookVerifierToken == "" {
		logger.Warn("QBO_WEBHOOK_VERIFIER_TOKEN is not set; webhooks will be rejected")
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	conversionConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicConversionRequests, cfg.Kafka.ConsumerGroup)
	conversionWorker := worker.NewConversionWorker(conversionConsumer, converter)
	go func() {
		if err := conversionWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Conversion worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Converter: converter,
		Matcher:   matcher,
		Catalog:   productCatalog,
		Webhooks:  webhookService,
		Customers: customerMirror,
		Queue:     eventPublisher,
	})
	handler.AddReadinessCheck("database", db)
	if redisClient != nil {
		handler.AddReadinessCheck("redis", redisClient)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := conversionWorker.Stop(); err != nil {
		logger.Warn("Error stopping conversion worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
