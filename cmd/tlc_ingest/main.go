package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	slogmulti "github.com/samber/slog-multi"

	"github.com/mfreitas/tlc_ingest/internal/config"
	"github.com/mfreitas/tlc_ingest/internal/fetch"
	"github.com/mfreitas/tlc_ingest/internal/http/rest"
	"github.com/mfreitas/tlc_ingest/internal/ingest"
	"github.com/mfreitas/tlc_ingest/internal/ledger"
	"github.com/mfreitas/tlc_ingest/internal/ledger/sqlite"
	"github.com/mfreitas/tlc_ingest/internal/logctx"
	"github.com/mfreitas/tlc_ingest/internal/notifier"
	"github.com/mfreitas/tlc_ingest/internal/retry"
	"github.com/mfreitas/tlc_ingest/internal/staging"
	"github.com/mfreitas/tlc_ingest/internal/sysinfo"
	"github.com/mfreitas/tlc_ingest/internal/telemetry"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitFatalError  = 1
	ExitRunFailures = 2
)

// version is stamped at build time through ldflags.
var version = "dev"

func main() {
	// A .env file is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(ExitFatalError)
	}

	logger, closeLogs, err := setupLogger(cfg)
	if err != nil {
		slog.Error("log setup error", "err", err)
		os.Exit(ExitFatalError)
	}

	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	slog.Info("tlc ingest starting...",
		"version", version,
		"log_level", cfg.LogLevel,
		"dataset", cfg.Dataset,
	)

	summary, err := run(logctx.WithLogger(ctx, logger), cfg)

	stop()

	code := ExitSuccess

	switch {
	case err != nil:
		slog.Error("fatal error", "err", err)

		code = ExitFatalError
	case !summary.Ok():
		code = ExitRunFailures
	}

	// stdout carries only the summary, so wrappers can parse it.
	if summary != nil {
		if err := json.NewEncoder(os.Stdout).Encode(summary); err != nil {
			slog.Error("failed to write run summary", "err", err)
		}
	}

	closeLogs()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config) (*ingest.Summary, error) {
	logger := logctx.LoggerFromContext(ctx)

	grid, err := cfg.Grid()
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot grid: %w", err)
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    "tlc_ingest",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		StagingRoot:    cfg.StagingRoot,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(flushCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Ledger
	database, err := sqlite.InitDB(cfg.LedgerPath)
	if err != nil {
		logger.Error("ledger error", "err", err)

		return nil, err
	}
	defer database.Close()

	runs := sqlite.NewInstrumentedRunRepository(database, tel)

	// =========================================================================
	// Start Staging Area
	area := staging.New(cfg.StagingRoot)
	if err := area.Ensure(); err != nil {
		return nil, fmt.Errorf("failed to prepare staging area: %w", err)
	}

	if removed, err := area.SweepPartials(ctx, cfg.PartialMaxAge); err != nil {
		logger.Warn("failed to sweep stale partials", "err", err)
	} else if removed > 0 {
		logger.Info("swept stale partials", "removed", removed)
	}

	if report, err := sysinfo.Collect(ctx, cfg.StagingRoot); err != nil {
		logger.Warn("failed to collect host information", "err", err)
	} else {
		report.Log(ctx)
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	if cfg.Web.Enabled {
		server := setupServer(ctx, runs, area, tel, cfg)

		go func() {
			logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
			serverErrors <- server.ListenAndServe()
		}()

		defer stopServer(logger, server, serverErrors, cfg.Web.ShutdownTimeout)
	}

	// =========================================================================
	// Start Ingest
	client := fetch.New(fetch.Config{
		BaseURL:        cfg.BaseURL,
		AttemptTimeout: cfg.FetchTimeout,
		Retry: retry.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.RetryBackoff,
			MaxBackoff:     cfg.RetryMaxBackoff,
		},
	}, area)

	runner := ingest.NewRunner(area, ingest.NewInstrumentedFetcher(client, tel), cfg.Workers,
		ingest.WithOutcomeHook(func(o ingest.Outcome) {
			tel.RecordOutcome(string(o.Status), string(o.Class))
		}),
	)

	summary, runErr := runner.Run(ctx, grid)
	if summary == nil {
		return nil, runErr
	}

	// =========================================================================
	// Record Run

	// Recording runs on a fresh context so an interrupt that ended the run
	// does not also lose its ledger entry.
	flushCtx, cancel := context.WithTimeout(logctx.WithLogger(context.Background(), logger), 15*time.Second)
	defer cancel()

	rec, failures := ledger.FromSummary(cfg.Dataset, summary)
	if err := runs.RecordRun(flushCtx, rec, failures); err != nil {
		logger.Error("failed to record run in ledger", "err", err)
	}

	notifyRun(flushCtx, cfg, summary)

	return summary, runErr
}

// setupLogger builds the process logger: JSON to stderr, optionally fanned
// out to LOG_FILE, with trace correlation when telemetry is enabled. stdout
// stays reserved for the run summary.
func setupLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}

	handler := slog.Handler(slog.NewJSONHandler(os.Stderr, opts))
	closeLogs := func() {}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.LogFile, err)
		}

		handler = slogmulti.Fanout(handler, slog.NewJSONHandler(f, opts))
		closeLogs = func() { _ = f.Close() }
	}

	if cfg.TelemetryEnabled {
		handler = logctx.NewTraceHandler(handler)
	}

	return slog.New(handler), closeLogs, nil
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, runs ledger.RunReadRepository, area *staging.Area, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	opsHandler := rest.NewOpsHandler(runs, area, tel)

	r := chi.NewRouter()
	r.Mount("/", opsHandler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// stopServer drains the listener error if the server already died, otherwise
// shuts the server down gracefully.
func stopServer(logger *slog.Logger, server *http.Server, serverErrors chan error, timeout time.Duration) {
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", "err", err)
		}

		return
	default:
	}

	// Give outstanding requests a deadline for completion.
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("failed to gracefully shutdown the server", "err", err)

		if err = server.Close(); err != nil {
			logger.Error("could not stop server gracefully", "err", err)
		}
	}
}

// notifyRun posts the run digest to the configured webhook, if any.
func notifyRun(ctx context.Context, cfg *config.Config, summary *ingest.Summary) {
	if cfg.WebhookURL == "" {
		return
	}

	notif := notifier.NewWebhookNotifier(cfg.WebhookURL)
	if err := notif.Notify(ctx, notifier.Digest(cfg.Dataset, summary)); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send notification", "err", err)
	}
}
