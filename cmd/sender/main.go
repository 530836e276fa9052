package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/btcpush/relay/internal/config"
	"github.com/btcpush/relay/internal/credentials"
	"github.com/btcpush/relay/internal/push"
	"github.com/btcpush/relay/internal/repository"
	"github.com/btcpush/relay/internal/sender"

	_ "github.com/lib/pq" // PostgreSQL driver
)

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration. Push credentials are mandatory here: a sender
	// without them would dequeue jobs it can never deliver.
	cfg := config.Load()
	if err := cfg.ValidatePush(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid push configuration")
	}

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Credential providers for the two push gateways.
	appleCreds, err := credentials.NewAppleProvider(cfg.Apns)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load APNs signing key")
	}
	googleCreds, err := credentials.NewGoogleProvider(ctx, cfg.Fcm)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load FCM service account")
	}

	apnsClient := push.NewApnsClient(cfg.Apns, appleCreds, logger)
	fcmClient := push.NewFcmClient(cfg.Fcm, googleCreds, logger)

	// Repositories
	queueRepo := repository.NewQueueRepository(db)
	tokenConfigRepo := repository.NewTokenConfigurationRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	pushLogRepo := repository.NewPushLogRepository(db)

	dispatcher := push.NewDispatcher(apnsClient, fcmClient, pushLogRepo, subscriptionRepo, logger)

	worker := sender.New(queueRepo, tokenConfigRepo, dispatcher, sender.Config{
		BackoffMin:      cfg.Sender.BackoffMin,
		BackoffMax:      cfg.Sender.BackoffMax,
		DispatchTimeout: cfg.Sender.DispatchTimeout,
		LockBackoff:     cfg.Sender.LockBackoff,
		RatePerSecond:   cfg.Sender.RatePerSecond,
		RateBurst:       cfg.Sender.RateBurst,
	}, logger)

	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("Sender stopped")
	}

	logger.Info().Msg("Sender terminated.")
}
