package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/intl-payments/internal/api"
	"github.com/akylbek/intl-payments/internal/auth"
	"github.com/akylbek/intl-payments/internal/cache"
	"github.com/akylbek/intl-payments/internal/config"
	"github.com/akylbek/intl-payments/internal/confirmation"
	"github.com/akylbek/intl-payments/internal/handlers"
	"github.com/akylbek/intl-payments/internal/repository"
	"github.com/akylbek/intl-payments/internal/settlement"
	"github.com/akylbek/intl-payments/internal/submission"
	"github.com/akylbek/intl-payments/internal/telemetry"
	"github.com/akylbek/intl-payments/internal/validation"
)

func main() {
	// Initialize telemetry
	if err := telemetry.InitTelemetry("payment-gateway"); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting Payment Gateway")

	cfg, err := config.Load()
	if err != nil {
		telemetry.Logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize database
	repo := repository.NewPaymentRepository(db)
	if err := repo.InitDB(ctx); err != nil {
		telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})
	defer redisClient.Close()

	// Connect to Kafka
	kafkaWriter := settlement.NewKafkaWriter(cfg.KafkaBrokers...)
	defer kafkaWriter.Close()

	// Connect to NATS
	nc, err := nats.Connect(cfg.NatsURL, nats.Name("payment-gateway"))
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer nc.Drain()

	validator, err := validation.NewValidator(cfg.ValidationRules())
	if err != nil {
		telemetry.Logger.Fatal("Invalid validation rules", zap.Error(err))
	}
	gate, err := confirmation.NewGate(cfg.FeeBasisPoints)
	if err != nil {
		telemetry.Logger.Fatal("Invalid fee schedule", zap.Error(err))
	}

	submitter := submission.NewHandler(repo, gate,
		submission.WithCache(cache.NewIdempotencyCache(redisClient, cfg.IdempotencyTTL)),
		submission.WithVelocityLimit(cache.NewVelocityCounter(redisClient, cfg.VelocityWindow), cfg.VelocityLimit),
		submission.WithSettlementTopic(cfg.SettlementTopic),
	)

	// Hand accepted payments to settlement
	relay := settlement.NewRelay(repo, settlement.NewKafkaPublisher(kafkaWriter), cfg.RelayInterval, cfg.RelayBatch)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay.Run(ctx)
	}()

	// Subscribe to settlement status updates
	listener := settlement.NewListener(repo, cfg.StatusSubject)
	if _, err := listener.Subscribe(nc); err != nil {
		telemetry.Logger.Fatal("Failed to subscribe to settlement status", zap.Error(err))
	}

	paymentHandler := handlers.NewPaymentHandler(validator, gate, submitter, repo)
	router := api.NewRouter(paymentHandler, auth.NewRedisSessionStore(redisClient))

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("Payment Gateway starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	telemetry.Logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}
	<-relayDone

	telemetry.Logger.Info("Server exited")
}
