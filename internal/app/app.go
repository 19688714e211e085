// Package app wires the gateway together: configuration, database pool,
// Genkit, the quota limiter, the retrieval pipeline and the HTTP surface
// all meet here so entry points stay thin.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safelex/safelex/internal/config"
	"github.com/safelex/safelex/internal/conversation"
	"github.com/safelex/safelex/internal/gateway"
	"github.com/safelex/safelex/internal/index"
	"github.com/safelex/safelex/internal/quota"
)

// App is the core application container. Fields are initialized by Setup
// and valid until Close.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Pool     *pgxpool.Pool

	Index         *index.Store
	Limiter       *quota.Limiter
	Conversations *conversation.Store
	Gateway       *gateway.Gateway

	otelShutdown func(context.Context) error
}

// Close gracefully releases all resources. Safe to call on a partially
// initialized App; Setup relies on that for its error path.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.Pool != nil {
		a.Pool.Close()
	}

	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil && a.Logger != nil {
			a.Logger.Warn("shutting down tracer provider", "error", err)
		}
	}

	return nil
}
