package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/dadmatch/dadmatch/internal/config"
	"github.com/dadmatch/dadmatch/internal/database"
	"github.com/dadmatch/dadmatch/internal/geocoding"
	"github.com/dadmatch/dadmatch/internal/httpserver"
	"github.com/dadmatch/dadmatch/internal/matchqueue"
	"github.com/dadmatch/dadmatch/internal/notification"
	"github.com/dadmatch/dadmatch/internal/services"
	"github.com/dadmatch/dadmatch/internal/telemetry"

	_ "github.com/lib/pq"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	logConfig := telemetry.DefaultLogConfig()
	logConfig.Level = telemetry.LogLevel(cfg.LogLevel)
	if cfg.IsDevelopment() {
		logConfig.Format = "text"
	}
	if err := telemetry.InitGlobalLogger(logConfig); err != nil {
		telemetry.GetGlobalLogger().WithError(err).Warn("Failed to configure logger, using defaults")
	}
	logger := telemetry.GetGlobalLogger()

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Configuration error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := telemetry.InitializeOpenTelemetry(ctx, telemetry.LoadConfigFromEnv())
	if err != nil {
		logger.WithError(err).Warn("OpenTelemetry initialization failed, continuing without telemetry")
	} else {
		defer otelShutdown()
	}

	db, err := database.NewInstrumentedConnection(cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Error("Failed to close database")
		}
	}()

	waitForDatabase(ctx, db, logger)

	geocoder, redisAvailable := buildGeocoder(cfg, logger)

	// The recalculation queue shares the Redis deployment with the geocode
	// cache. Without Redis peer recalculation runs inline.
	var queue matchqueue.Queue
	if redisAvailable {
		q, err := matchqueue.NewRedisQueue(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis queue unavailable, peer recalculation runs inline")
		} else {
			queue = q
			defer func() {
				_ = q.Close()
			}()
		}
	}

	notifier := buildNotifier(cfg, db, logger)

	matchService := services.NewMatchService(db, geocoder, notifier, queue)
	availabilityService := services.NewAvailabilityService(db, matchService, notifier)

	var worker *matchqueue.Worker
	if queue != nil {
		worker = matchqueue.NewWorker(matchService, queue, matchqueue.DefaultWorkerConfig())
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := httpserver.New(httpserver.Options{
		DB:           db,
		Availability: availabilityService,
		Matches:      matchService,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if worker != nil {
		group.Go(func() error {
			if err := worker.Start(groupCtx); err != nil {
				if groupCtx.Err() != nil {
					return nil
				}
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if worker != nil {
			worker.Stop()
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("HTTP shutdown error")
		}

		logger.Info("Graceful shutdown completed")
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("Server error")
		os.Exit(1)
	}
}

// waitForDatabase blocks until the database answers a ping. Kubernetes may
// start the API before Postgres is ready.
func waitForDatabase(ctx context.Context, db *database.DB, logger *telemetry.Logger) {
	const maxRetries = 30
	for i := 0; i < maxRetries; i++ {
		if err := db.PingContext(ctx); err == nil {
			logger.Info("Database connection established")
			return
		}
		if i == maxRetries-1 {
			logger.Fatal("Failed to connect to database")
		}
		logger.WithField("attempt", i+1).Info("Waiting for database...")

		select {
		case <-ctx.Done():
			logger.Fatal("Shutdown requested before database became available")
		case <-time.After(1 * time.Second):
		}
	}
}

// buildGeocoder returns the geocoding service, Redis-cached when Redis is
// reachable, and reports whether Redis is available for other consumers.
func buildGeocoder(cfg config.Config, logger *telemetry.Logger) (services.Geocoder, bool) {
	svc := geocoding.NewService(cfg.NominatimURL)

	client, err := geocoding.NewRedisClient(cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, geocoding runs uncached")
		return svc, false
	}

	logger.Info("Redis connection established")
	return geocoding.NewCachedService(svc, client, 0), true
}

// buildNotifier assembles the notification service with every channel that
// is configured. Unconfigured channels are skipped, not fatal.
func buildNotifier(cfg config.Config, db *database.DB, logger *telemetry.Logger) notification.Dispatcher {
	svc := notification.NewService(notification.NewPostgresDirectory(db.DB))

	if cfg.SMTPHost != "" {
		svc.RegisterSender(notification.NewEmailSender(notification.EmailSenderConfig{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			From: cfg.SMTPFrom,
		}))
		logger.Info("Email sender registered for notifications")
	} else {
		logger.Warn("SMTP_HOST not set, email notifications disabled")
	}

	if cfg.PushGatewayURL != "" {
		svc.RegisterSender(notification.NewPushSender(notification.PushSenderConfig{
			GatewayURL: cfg.PushGatewayURL,
			APIKey:     cfg.PushAPIKey,
			Timeout:    10 * time.Second,
		}))
		logger.Info("Push sender registered for notifications")
	} else {
		logger.Warn("PUSH_GATEWAY_URL not set, push notifications disabled")
	}

	return svc
}
