// Package main is the entry point for the stay ledger server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/stay-ledger/backend/internal/api"
	"github.com/stay-ledger/backend/internal/availability"
	"github.com/stay-ledger/backend/internal/broker/kafka"
	"github.com/stay-ledger/backend/internal/calendar"
	"github.com/stay-ledger/backend/internal/config"
	"github.com/stay-ledger/backend/internal/obs"
	"github.com/stay-ledger/backend/internal/pkg/clock"
	"github.com/stay-ledger/backend/internal/reservation"
	"github.com/stay-ledger/backend/internal/storage"
	"github.com/stay-ledger/backend/internal/storage/models"
	"github.com/stay-ledger/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the environment")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.HTTPAddr); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Allow overriding version via environment (e.g., injected by container build/runtime)
	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}

	logger := obs.NewLogger(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting stay ledger",
		"version", version,
		"env", cfg.Env,
		"property_id", cfg.PropertyID,
		"timezone", cfg.PropertyTimezone,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewDB(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.RunMigrations(ctx, db, logger); err != nil {
		return err
	}

	// Initialize repositories
	reservationRepo := storage.NewReservationRepository(db)
	feedRepo := storage.NewFeedRepository(db)
	eventRepo := storage.NewExternalEventRepository(db)
	settingsRepo := storage.NewSettingsRepository(db)

	if err := settingsRepo.EnsureDefaults(ctx, map[string]string{
		storage.SettingCheckinTime:  cfg.DefaultCheckinTime,
		storage.SettingCheckoutTime: cfg.DefaultCheckoutTime,
	}); err != nil {
		return err
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub(logger.With("component", "websocket_hub"))
	go hub.Run(ctx)

	var relay websocket.Relay
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return err
		}
		defer producer.Close()
		relay = kafka.NewEventRelay(producer, cfg.KafkaTopicPrefix, cfg.PropertyID)
		logger.Info("relaying events to kafka", "brokers", cfg.KafkaBrokers, "topic_prefix", cfg.KafkaTopicPrefix)
	}
	broadcaster := websocket.NewEventBroadcaster(hub, relay, logger.With("component", "events"))

	loc := cfg.Location()
	realClock := clock.NewRealClock()

	// Initialize services
	reservations := reservation.NewService(db, reservationRepo, eventRepo, settingsRepo, reservation.Options{
		Clock:    realClock,
		Location: loc,
		Notifier: broadcaster,
		Logger:   logger.With("component", "reservations"),
	})
	syncService := calendar.NewSyncService(db, feedRepo, eventRepo, reservationRepo, calendar.SyncOptions{
		Location:     loc,
		FetchTimeout: cfg.FeedFetchTimeout,
		Clock:        realClock,
		Notifier:     broadcaster,
		Logger:       logger,
	})
	aggregator := availability.NewAggregator(reservationRepo, eventRepo, feedRepo, logger)

	if err := ensureDefaultFeed(ctx, cfg, feedRepo, logger); err != nil {
		return err
	}

	// Initialize schedulers
	calendarScheduler := calendar.NewScheduler(syncService, feedRepo, cfg.SyncInterval, logger)
	statusScheduler := reservation.NewStatusScheduler(reservations, cfg.SweepInterval, logger)

	if err := calendarScheduler.Start(ctx); err != nil {
		logger.Warn("calendar scheduler not started", "error", err)
	}
	if err := statusScheduler.Start(); err != nil {
		return err
	}

	router := api.NewRouter(api.Dependencies{
		DB:            db,
		Hub:           hub,
		Reservations:  reservations,
		ReservationDB: reservationRepo,
		Feeds:         feedRepo,
		Events:        eventRepo,
		Settings:      settingsRepo,
		Availability:  aggregator,
		Scheduler:     calendarScheduler,
		PropertyID:    cfg.PropertyID,
		StaticDir:     cfg.StaticDir,
		Logger:        logger,
	})

	// Manual syncs run inside the request, so the write timeout leaves room
	// for a full feed fetch.
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.FeedFetchTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-serveErr:
		calendarScheduler.Stop()
		statusScheduler.Stop()
		return errors.Wrap(err, "http server")
	}

	// Stop schedulers
	calendarScheduler.Stop()
	statusScheduler.Stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown")
	}

	logger.Info("server stopped")
	return nil
}

// ensureDefaultFeed registers CALENDAR_FEED_URL as a feed so a fresh install
// syncs without any API call.
func ensureDefaultFeed(ctx context.Context, cfg config.Config, feeds *storage.FeedRepository, logger *slog.Logger) error {
	if cfg.CalendarFeedURL == "" {
		return nil
	}
	feed := &models.Feed{
		Name:            cfg.CalendarFeedName,
		URL:             cfg.CalendarFeedURL,
		SyncIntervalMin: int(cfg.SyncInterval / time.Minute),
		Enabled:         true,
	}
	if err := feeds.UpsertByURL(ctx, feed); err != nil {
		return errors.Wrap(err, "registering default calendar feed")
	}
	logger.Info("default calendar feed registered", "feed_id", feed.ID, "name", feed.Name)
	return nil
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost" + addr + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}
