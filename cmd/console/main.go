package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/driver-console-sync/internal/api"
	"github.com/example/driver-console-sync/internal/config"
	"github.com/example/driver-console-sync/internal/console"
	"github.com/example/driver-console-sync/internal/geocode"
	httpapi "github.com/example/driver-console-sync/internal/http"
	"github.com/example/driver-console-sync/internal/ingest"
	"github.com/example/driver-console-sync/internal/logging"
	"github.com/example/driver-console-sync/internal/payments"
	"github.com/example/driver-console-sync/internal/realtime"
	"github.com/example/driver-console-sync/internal/route"
	"github.com/example/driver-console-sync/internal/session"
	"github.com/example/driver-console-sync/internal/storage"
)

func main() {
	var interactive bool
	flag.BoolVar(&interactive, "interactive", true, "read console commands from stdin")
	flag.Parse()

	// .env is optional for local runs
	_ = godotenv.Load()

	cfg, err := config.LoadConsoleConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := api.New(cfg.APIBaseURL, cfg.AuthToken, cfg.HTTPTimeout, logger)
	identity, err := resolveIdentity(ctx, cfg.AuthToken, client)
	if err != nil {
		logger.Error("cannot resolve session identity", "error", err)
		os.Exit(1)
	}

	opts := console.Options{
		Identity:         identity,
		Role:             cfg.DriverRole,
		API:              client,
		Channel:          realtime.NewWSChannel(cfg.WSURL, logger),
		VerifyAttempts:   cfg.PaymentVerifyAttempts,
		VerifyInterval:   cfg.PaymentVerifyInterval,
		Polls:            cfg.Poll,
		LocationInterval: cfg.LocationEmitInterval,
		Logger:           logger,
	}

	var cache geocode.Cache
	if cfg.RedisAddr != "" {
		rc := geocode.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, "console:geocode", cfg.GeocodeCacheTTL)
		defer rc.Close()
		cache = rc
	} else {
		cache = geocode.NewMemoryCache(cfg.GeocodeCacheTTL)
	}
	opts.Geocoder = &geocode.Cached{Geocoder: geocode.NewHTTPGeocoder(cfg.GeocoderURL), Cache: cache}

	estimator := &route.Estimator{Cache: route.NewCache(cfg.GeocodeCacheTTL), Logger: logger}
	if cfg.OSRMURL != "" {
		estimator.Client = route.NewOSRMClient(cfg.OSRMURL)
	}
	opts.Distance = estimator

	if cfg.PGDSN != "" {
		pj, err := storage.NewPostgresJournal(cfg.PGDSN)
		if err != nil {
			logger.Warn("postgres journal unavailable; using memory", "error", err)
			opts.Journal = storage.NewMemoryJournal()
		} else {
			defer pj.Close()
			if err := pj.EnsureSchema(ctx); err != nil {
				logger.Warn("journal schema check failed", "error", err)
			}
			opts.Journal = pj
		}
	} else {
		opts.Journal = storage.NewMemoryJournal()
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewTransitionProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		opts.Publisher = producer
	}

	if cfg.StripeAPIKey != "" {
		opts.Payments = payments.NewStripeAPI(cfg.StripeAPIKey, payments.DefaultPlans)
	}

	sess := console.New(opts)
	if err := sess.Start(ctx); err != nil {
		logger.Error("console session failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{Addr: cfg.InspectAddr, Handler: httpapi.NewServer(sess, logger), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("inspection server listening", "addr", cfg.InspectAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("inspection server stopped", "error", err)
		}
	}()

	if interactive {
		go readCommands(ctx, sess, os.Stdin, os.Stdout, logger)
	}

	logger.Info("driver console running", "api", cfg.APIBaseURL, "ws", cfg.WSURL)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("inspection server shutdown", "error", err)
	}
	if err := sess.Close(); err != nil {
		logger.Warn("session close", "error", err)
	}
}

// resolveIdentity reads the user from the token and falls back to the
// profile endpoint when the token carries no id.
func resolveIdentity(ctx context.Context, token string, client *api.Client) (session.Identity, error) {
	if id, err := session.FromToken(token); err == nil {
		return id, nil
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	profile, err := client.FetchProfile(pctx)
	if err != nil {
		return session.Identity{}, err
	}
	return session.Resolve(token, profile)
}
