// Package cmd provides shared wiring helpers for the labflow binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/labflow/labflow/pkg/persistence"
	"github.com/labflow/labflow/pkg/persistence/memory"
	"github.com/labflow/labflow/pkg/persistence/postgresql"
)

// NewPersistence picks the storage backend from the database URL scheme.
// postgres:// URLs get the PostgreSQL backend; anything else falls back to
// the in-memory backend for local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		logger.WarnContext(ctx, "No database URL configured, using in-memory persistence")

		return memory.NewPersistence(), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "memory"
	}

	return provider
}
