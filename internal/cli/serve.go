package cli

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

	"github.com/spf13/cobra"

	"github.com/enrollkit/chargeonce/internal/api"
	"github.com/enrollkit/chargeonce/internal/catalog"
	"github.com/enrollkit/chargeonce/internal/checkout"
	"github.com/enrollkit/chargeonce/internal/config"
	"github.com/enrollkit/chargeonce/internal/gateway"
	"github.com/enrollkit/chargeonce/internal/ratelimit"
	"github.com/enrollkit/chargeonce/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Config   string
	Database string
	Addr     string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the checkout API server",
		Long: `Run the checkout HTTP API.

The server compiles the CUE deployment document, seeds its courses into
the database, and serves the checkout, lead and admin endpoints until
interrupted. Shutdown is graceful: in-flight settles finish before the
process exits.

Examples:
  chargeonce serve --config examples/checkout.cue --db ./chargeonce.db
  chargeonce serve --config checkout.cue --addr :9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to the CUE deployment document (default from CHARGEONCE_CATALOG)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from CHARGEONCE_DB)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from CHARGEONCE_ADDR)")

	return cmd
}

func runServe(parentCtx context.Context, opts *ServeOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.Config != "" {
		cfg.CatalogPath = opts.Config
	}
	if opts.Database != "" {
		cfg.DatabasePath = opts.Database
	}
	if opts.Addr != "" {
		cfg.ListenAddr = opts.Addr
	}

	logger := newLogger(cfg.LogLevel, opts.Verbose)
	slog.SetDefault(logger)

	logger.Info("compiling deployment document", "path", cfg.CatalogPath)
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile catalog", err)
	}
	if err := cat.CheckPolicy(cfg.GatewayMode, cfg.GatewayAPIKey); err != nil {
		return WrapExitError(ExitCommandError, "deployment policy violation", err)
	}

	logger.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	for _, course := range cat.Courses() {
		err := st.SeedCourse(ctx, store.Course{
			Slug:            course.Slug,
			Title:           course.Title,
			PriceCents:      course.PriceCents,
			MaxInstallments: course.MaxInstallments,
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to seed courses", err)
		}
	}
	logger.Info("catalog seeded", "courses", len(cat.Courses()), "environment", cat.Environment)

	gw, err := gateway.New(gateway.Config{
		Mode:     gateway.Mode(cfg.GatewayMode),
		Endpoint: cfg.GatewayEndpoint,
		APIKey:   cfg.GatewayAPIKey,
		Timeout:  cfg.GatewayTimeout,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure gateway", err)
	}
	limiter := ratelimit.New(st, cfg.RateLimitWindow, cfg.RateLimitMax,
		ratelimit.WithLogger(logger))
	orch := checkout.New(st, gw, cat, checkout.WithLogger(logger))

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.New(cfg, st, orch, cat, limiter, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "gateway_mode", cfg.GatewayMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", "signal", fmt.Sprint(sig))
	case <-ctx.Done():
	case err := <-errChan:
		return WrapExitError(ExitCommandError, "server failed", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitCommandError, "shutdown did not complete", err)
	}
	logger.Info("server stopped")
	return nil
}

// newLogger builds the process logger; --verbose forces debug level.
func newLogger(level string, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
