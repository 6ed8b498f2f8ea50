package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resto-backend/config"
	"resto-backend/internal/api"
	"resto-backend/internal/broker"
	"resto-backend/internal/gateway"
	"resto-backend/internal/push"
	"resto-backend/internal/receipt"
	"resto-backend/internal/redisclient"
	"resto-backend/internal/service"
	"resto-backend/internal/store"
	"resto-backend/internal/util"
	"resto-backend/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting resto backend")

	tp, err := util.InitTracer("resto-backend", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	checkoutClient := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey)
	receiptSender := receipt.NewHTTPSender(cfg.Receipt.RendererURL)
	pushTransport := push.NewHTTPTransport(cfg.Notify.DeviceTimeout, cfg.Notify.PushTTL)

	promoService := service.NewPromoService(db)
	orderService := service.NewOrderService(db, checkoutClient, promoService, promoService, eventPublisher)
	notifier := service.NewNotifier(db, pushTransport, cfg.Notify.MaxInFlight, cfg.Notify.DeviceTimeout)
	processor := service.NewPaymentProcessor(cfg.Gateway.WebhookSecret, orderService, promoService, redisClient, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notifyConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notifyConsumer, notifier)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	receiptConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ReceiptGroup)
	receiptWorker := worker.NewReceiptWorker(receiptConsumer, orderService, receiptSender)
	go func() {
		if err := receiptWorker.Start(workerCtx); err != nil {
			log.Printf("Receipt worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(orderService, promoService, notifier, processor, redisClient, redisClient, api.Config{
		RateLimitMax:          cfg.Limits.RateLimitMax,
		RateLimitWindow:       cfg.Limits.RateLimitWindow,
		SubscriptionRetention: cfg.Notify.Retention,
		CartTTL:               cfg.Limits.CartTTL,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	notificationWorker.Stop()
	receiptWorker.Stop()

	log.Println("Server exited")
}
