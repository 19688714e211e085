package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/safelex/safelex/internal/api"
	"github.com/safelex/safelex/internal/app"
	"github.com/safelex/safelex/internal/config"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // completion calls can run long
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second

	// purgeInterval drives the expired quota window sweep.
	purgeInterval = time.Hour
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (host:port, overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// runServe initializes the application and serves HTTP until SIGINT/SIGTERM.
func runServe(parent context.Context) error {
	logger := initLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := serveAddr
	if addr == "" {
		addr = net.JoinHostPort(cfg.ServerHost, strconv.Itoa(cfg.ServerPort))
	}
	if err := validateAddr(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting HTTP API server", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	// Sweep rolled-over quota windows in the background. Purely hygiene:
	// admission always resets stale windows in place, so a missed sweep
	// never affects correctness.
	go runQuotaPurge(ctx, a)

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:        logger,
		Gateway:       a.Gateway,
		Quota:         a.Limiter,
		Conversations: a.Conversations,
		Pool:          a.Pool,
		CORSOrigins:   cfg.CORSOrigins,
		IsDev:         cfg.PostgresSSLMode == "disable",
		TrustProxy:    cfg.TrustProxy,
		RateBurst:     cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"api", "/api/v1/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

// runQuotaPurge deletes expired quota windows on a fixed interval until
// ctx is canceled.
func runQuotaPurge(ctx context.Context, a *app.App) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := a.Limiter.PurgeExpired(ctx)
			if err != nil {
				a.Logger.Warn("purging expired quota windows", "error", err)
				continue
			}
			if purged > 0 {
				a.Logger.Debug("purged expired quota windows", "count", purged)
			}
		}
	}
}
