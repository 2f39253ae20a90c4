/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the meeting room booking server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML, .env, environment, flags)
  2. Configure logging
  3. Open the store (memory, sqlite or mysql) and apply the seed file
  4. Choose the room lock (local or redis)
  5. Start the notification dispatcher with its sinks
  6. Build coordinator, accounts service, router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config     YAML config file (optional)
  -env-file   .env file (default: .env, missing is fine)
  -addr       HTTP listen address, overrides config
  -store      memory | sqlite | mysql, overrides config
  -dsn        store DSN or SQLite path, overrides config
  -seed       seed YAML applied at startup, overrides config

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (shutdown_timeout)
  3. Drain the notification queue
  4. Close lock backend, sinks and store

EXAMPLES:
  # Run with file database
  ROOMBOOK_JWT_SECRET=dev ./server -dsn ./data/roombook.db

  # Run with in-memory store and demo data
  ROOMBOOK_JWT_SECRET=dev ./server -store memory -seed ./seed.yaml

SEE ALSO:
  - config/config.go: Configuration precedence
  - api/server.go:    Router configuration
  - cmd/token:        Development tokens
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/roombook/accounts"
	"github.com/warp/roombook/api"
	"github.com/warp/roombook/auth"
	"github.com/warp/roombook/booking"
	"github.com/warp/roombook/config"
	"github.com/warp/roombook/core"
	"github.com/warp/roombook/core/store"
	"github.com/warp/roombook/lock"
	"github.com/warp/roombook/logging"
	"github.com/warp/roombook/notify"
	"github.com/warp/roombook/seed"
	"github.com/warp/roombook/store/mysql"
	"github.com/warp/roombook/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	envFile := flag.String("env-file", ".env", ".env file")
	addr := flag.String("addr", "", "HTTP listen address")
	driver := flag.String("store", "", "store driver: memory, sqlite or mysql")
	dsn := flag.String("dsn", "", "store DSN or SQLite path")
	seedFile := flag.String("seed", "", "seed YAML applied at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err == nil {
		applyFlags(&cfg, *addr, *driver, *dsn, *seedFile)
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logging.Configure(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger := logging.WithComponent("server")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func applyFlags(cfg *config.Config, addr, driver, dsn, seedFile string) {
	if addr != "" {
		cfg.HTTP.Addr = addr
	}
	if driver != "" {
		cfg.Store.Driver = driver
		if driver == "memory" {
			cfg.Store.DSN = ""
		}
	}
	if dsn != "" {
		cfg.Store.DSN = dsn
	}
	if seedFile != "" {
		cfg.SeedFile = seedFile
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx := context.Background()
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// closers run in reverse order on the way out
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn().Err(err).Msg("close failed")
			}
		}
	}()

	// Store
	st, closer, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if closer != nil {
		closers = append(closers, closer)
	}
	logger.Info().Str("driver", cfg.Store.Driver).Msg("store ready")

	if cfg.SeedFile != "" {
		f, err := seed.Load(cfg.SeedFile)
		if err != nil {
			return err
		}
		sum, err := seed.Apply(ctx, st, f, time.Now())
		if err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		logger.Info().Int("rooms", sum.Rooms).Int("users", sum.Users).Bool("policy", sum.Policy).
			Str("file", cfg.SeedFile).Msg("seed applied")
	}

	// Lock
	var locker lock.Locker
	switch cfg.Lock.Backend {
	case "redis":
		r, err := lock.NewRedis(ctx, lock.RedisConfig{
			Addr:     cfg.Lock.Redis.Addr,
			Password: cfg.Lock.Redis.Password,
			DB:       cfg.Lock.Redis.DB,
			Prefix:   cfg.Lock.Redis.Prefix,
			TTL:      cfg.Lock.Redis.TTL,
		}, logging.WithComponent("lock"))
		if err != nil {
			return err
		}
		closers = append(closers, r)
		locker = r
	default:
		locker = lock.NewLocal()
	}

	// Notifications
	sinks, sinkClosers, err := openSinks(cfg.Notify, loc)
	if err != nil {
		return err
	}
	closers = append(closers, sinkClosers...)
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		QueueSize: cfg.Notify.QueueSize,
		Timeout:   cfg.Notify.Timeout,
	}, sinks...)

	// Core services
	coord := booking.NewCoordinator(booking.Config{
		Store:     st,
		Locker:    locker,
		Publisher: dispatcher,
		Location:  loc,
		Timeout:   cfg.Store.Timeout,
	})
	acct := accounts.NewService(st, locker, cfg.Store.Timeout)
	authn := auth.New(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	router := api.NewRouter(api.NewHandler(coord, acct, st), authn, api.RouterOptions{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		RateLimit:   cfg.RateLimit.Requests,
		RateWindow:  cfg.RateLimit.Window,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Str("timezone", loc.String()).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down server")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("notification queue not drained")
	}

	logger.Info().Msg("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (core.Store, io.Closer, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), nil, nil
	case "sqlite":
		s, err := sqlite.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "mysql":
		s, err := mysql.New(ctx, mysql.Config{DSN: cfg.DSN})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openSinks(cfg config.NotifyConfig, loc *time.Location) ([]notify.Sink, []io.Closer, error) {
	var (
		sinks   []notify.Sink
		closers []io.Closer
	)
	if cfg.Log {
		sinks = append(sinks, notify.NewLogSink(logging.WithComponent("notify")))
	}
	if cfg.Mail.Host != "" {
		m, err := notify.NewMailSink(notify.MailConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			FromName: cfg.Mail.FromName,
		}, loc)
		if err != nil {
			return nil, closers, err
		}
		sinks = append(sinks, m)
	}
	if cfg.AMQP.URL != "" {
		a, err := notify.DialAMQP(notify.AMQPConfig{URL: cfg.AMQP.URL, Queue: cfg.AMQP.Queue})
		if err != nil {
			return nil, closers, err
		}
		sinks = append(sinks, a)
		closers = append(closers, a)
	}
	return sinks, closers, nil
}
