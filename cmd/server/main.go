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

	"storefront-service/config"
	"storefront-service/internal/api"
	"storefront-service/internal/broker"
	"storefront-service/internal/catalog"
	"storefront-service/internal/payment"
	"storefront-service/internal/redisclient"
	"storefront-service/internal/service"
	"storefront-service/internal/store"
	"storefront-service/internal/util"
	"storefront-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront service")

	tp, err := util.InitTracer("storefront-service", cfg.Observ.JaegerEndpoint)
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

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	catalogClient := catalog.NewClient(catalog.Config{
		URL:      cfg.Catalog.URL,
		Username: cfg.Catalog.Username,
		Password: cfg.Catalog.Password,
		APIKey:   cfg.Catalog.APIKey,
		CacheTTL: time.Duration(cfg.Catalog.CacheTTL) * time.Second,
	}, redisClient)

	notifyWorker := worker.NewOrderNotifyWorker(catalogClient, eventPublisher)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	notifyWorker.Start(workerCtx)

	orderService := service.NewOrderService(db, catalogClient, notifyWorker)

	gateway := payment.NewGateway(payment.GatewayConfig{
		BaseURL:     cfg.Payment.BaseURL,
		TerminalKey: cfg.Payment.TerminalKey,
		SecretKey:   cfg.Payment.SecretKey,
		PublicURL:   cfg.Payment.PublicURL,
		Timeout:     time.Duration(cfg.Payment.TimeoutSeconds) * time.Second,
	})

	reconciler, err := payment.NewReconciler(payment.ReconcilerConfig{
		TerminalKey: cfg.Payment.TerminalKey,
		SecretKey:   cfg.Payment.SecretKey,
		VerifyToken: cfg.Payment.VerifyToken,
		AllowedNets: cfg.Payment.AllowedNets,
	}, db, eventPublisher)
	if err != nil {
		log.Fatalf("Failed to initialize payment reconciler: %v", err)
	}

	authn := api.NewAuthenticator(db, cfg.Bot.Token, cfg.Bot.AuthEnabled)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, gateway, reconciler, authn)
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
	notifyWorker.Stop()

	log.Println("Server exited")
}
