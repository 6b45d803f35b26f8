// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/event-admission/internal/config"
	"github.com/Shivanand-hulikatti/event-admission/internal/database"
	"github.com/Shivanand-hulikatti/event-admission/internal/handler"
	"github.com/Shivanand-hulikatti/event-admission/internal/notify"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository/postgres"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository/sqlite"
	"github.com/Shivanand-hulikatti/event-admission/internal/seed"
	"github.com/Shivanand-hulikatti/event-admission/internal/service"
	"github.com/Shivanand-hulikatti/event-admission/internal/telemetry"
	"github.com/Shivanand-hulikatti/event-admission/internal/worker"
)

const serviceName = "event-admission"

type flags struct {
	addr       string
	store      string
	seed       string
	issueToken string
	tokenTTL   time.Duration
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	fs.StringVar(&f.addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	fs.StringVar(&f.store, "store", "", "store driver: postgres or sqlite (overrides STORE_DRIVER)")
	fs.StringVar(&f.seed, "seed", "", "YAML fixture file applied at startup (overrides SEED_FILE)")
	fs.StringVar(&f.issueToken, "issue-token", "", "print an operator token for this subject and exit")
	fs.DurationVar(&f.tokenTTL, "token-ttl", 12*time.Hour, "lifetime of an issued operator token")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

func run(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if f.addr != "" {
		cfg.HTTPAddr = f.addr
	}
	if f.store != "" {
		cfg.StoreDriver = f.store
	}
	if f.seed != "" {
		cfg.SeedFile = f.seed
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if f.issueToken != "" {
		if cfg.OperatorJWTSecret == "" {
			return errors.New("OPERATOR_JWT_SECRET is required to issue tokens")
		}
		token, err := handler.SignOperatorToken(cfg.OperatorJWTSecret, f.issueToken, f.tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Tracing ───────────────────────────────────────────────────────
	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// ── 2. Open the store ────────────────────────────────────────────────
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("store ready", "driver", cfg.StoreDriver)

	// ── 3. Wire up layers ────────────────────────────────────────────────
	hub := notify.NewHub(0, logger)
	engine := service.NewEngine(store, service.Options{
		MaxRetries:             cfg.Engine.MaxRetries,
		CriticalSectionTimeout: cfg.Engine.CriticalSectionTimeout,
		Logger:                 logger,
		Notifier:               hub,
	})

	if cfg.SeedFile != "" {
		fixtures, err := seed.Load(cfg.SeedFile)
		if err != nil {
			return err
		}
		if _, err := seed.Apply(ctx, engine, fixtures, logger); err != nil {
			return err
		}
	}

	auth := handler.NewOperatorAuth(cfg.OperatorJWTSecret, logger)
	if !auth.Enabled() {
		logger.Warn("OPERATOR_JWT_SECRET is empty; operator endpoints are unauthenticated")
	}
	router := handler.NewRouter(handler.NewEventHandler(engine, hub, logger), auth, logger)
	promotions := worker.NewPromotions(engine, cfg.PromotionSweepInterval, logger)

	// ── 4. Start server and workers with graceful shutdown ──────────────
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return promotions.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return store, nil
	default:
		pool, err := database.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		return postgres.NewStore(pool, cfg.Engine.LockTimeout), nil
	}
}
