package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/btcpush/relay/internal/config"
	"github.com/btcpush/relay/internal/handlers"
	"github.com/btcpush/relay/internal/middleware"
	"github.com/btcpush/relay/internal/migration"
	"github.com/btcpush/relay/internal/repository"
	"github.com/btcpush/relay/internal/routes"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	maintenanceInterval = time.Hour
	pushLogRetention    = 72 * time.Hour
	txidRetention       = 90 * 24 * time.Hour
)

type application struct {
	config *config.Config
	db     *sql.DB
	logger zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	gooseAdapter := migration.NewGooseAdapter(logger)
	goose.SetLogger(gooseAdapter)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	app := &application{
		config: cfg,
		db:     db,
		logger: logger,
	}

	// Periodic cleanup of stale rows.
	maintenanceCtx, stopMaintenance := context.WithCancel(context.Background())
	defer stopMaintenance()
	go app.runMaintenance(maintenanceCtx)

	// Initialize the HTTP router and middleware.
	router := app.initRouter(logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"*"}),
		h.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type"}),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	// Repositories
	subscriptionRepo := repository.NewSubscriptionRepository(app.db)
	tokenConfigRepo := repository.NewTokenConfigurationRepository(app.db)
	queueRepo := repository.NewQueueRepository(app.db)

	// Handlers
	gcHandler := handlers.NewGroundControlHandler(subscriptionRepo, tokenConfigRepo, queueRepo, logger)

	return routes.NewRouter(gcHandler)
}

// runMaintenance drops expired push log rows and stale txid subscriptions
// on a fixed cadence.
func (app *application) runMaintenance(ctx context.Context) {
	subscriptionRepo := repository.NewSubscriptionRepository(app.db)
	pushLogRepo := repository.NewPushLogRepository(app.db)

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := pushLogRepo.PurgeOlderThan(ctx, pushLogRetention); err != nil {
			app.logger.Error().Err(err).Msg("failed to purge push log")
		} else if n > 0 {
			app.logger.Info().Int64("rows", n).Msg("purged push log")
		}

		if n, err := subscriptionRepo.PurgeTxidsOlderThan(ctx, txidRetention); err != nil {
			app.logger.Error().Err(err).Msg("failed to purge txid subscriptions")
		} else if n > 0 {
			app.logger.Info().Int64("rows", n).Msg("purged txid subscriptions")
		}
	}
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
