// Command weftd serves the workflow API and executes runs.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/haikala/weft/internal/config"
	"github.com/haikala/weft/internal/engine"
	"github.com/haikala/weft/internal/httpapi"
	"github.com/haikala/weft/internal/persistence"
	"github.com/haikala/weft/pkg/api"
	"github.com/haikala/weft/pkg/llm"
	"github.com/haikala/weft/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	store, cleanup, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer cleanup()
	logger.Info("store ready", "backend", cfg.Store.Backend)

	client := llm.NewHTTPClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Prices:  priceTable(cfg),
	})

	observer := api.NewCompositeObserver(
		api.NewLoggingObserver(logger),
		metrics.NewPrometheusObserver(nil),
	)

	eng := engine.New(engine.Config{
		Store:    store,
		Client:   client,
		Observer: observer,
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	httpapi.NewServer(store, eng, cfg.LLM.DefaultModel, logger).Register(e)

	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// openStore builds the persistence bundle for the configured backend and
// returns a cleanup function closing any underlying connection.
func openStore(cfg *config.Config) (persistence.Persistence, func(), error) {
	noop := func() {}

	switch cfg.Store.Backend {
	case "memory":
		mem := persistence.NewInMemoryStore()
		return persistence.Persistence{Workflows: mem, Runs: mem}, noop, nil

	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Store.DSN)
		if err != nil {
			return persistence.Persistence{}, noop, err
		}
		store, err := persistence.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return persistence.Persistence{}, noop, err
		}
		return persistence.Persistence{Workflows: store, Runs: store},
			func() { _ = db.Close() }, nil

	case "postgres":
		db, err := sql.Open("pgx", cfg.Store.DSN)
		if err != nil {
			return persistence.Persistence{}, noop, err
		}
		store, err := persistence.NewPostgresStore(db)
		if err != nil {
			_ = db.Close()
			return persistence.Persistence{}, noop, err
		}
		return persistence.Persistence{Workflows: store, Runs: store},
			func() { _ = db.Close() }, nil

	case "redis":
		opts, err := redis.ParseURL(cfg.Store.DSN)
		if err != nil {
			// Accept a bare host:port as well as a redis:// URL.
			opts = &redis.Options{Addr: cfg.Store.DSN}
		}
		client := redis.NewClient(opts)
		store := persistence.NewRedisStore(client, cfg.Store.Prefix)
		return persistence.Persistence{Workflows: store, Runs: store},
			func() { _ = client.Close() }, nil

	default:
		return persistence.Persistence{}, noop, errors.New("unknown store backend " + cfg.Store.Backend)
	}
}

// priceTable merges configured price overrides over the built-in table.
func priceTable(cfg *config.Config) llm.PriceTable {
	table := llm.PriceTable{}
	for model, price := range llm.DefaultPrices {
		table[model] = price
	}
	for model, price := range cfg.LLM.Prices {
		table[model] = llm.ModelPrice{
			InputPer1K:  price.InputPer1K,
			OutputPer1K: price.OutputPer1K,
		}
	}
	return table
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
