package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/automata/pkg/persistence"
	"github.com/dukex/automata/pkg/persistence/file"
	"github.com/dukex/automata/pkg/persistence/postgresql"
	"github.com/dukex/automata/pkg/persistence/redis"
)

// NewPersistence opens the store named by databaseURL. postgres:// and postgresql:// select
// PostgreSQL, redis:// and rediss:// select Redis, anything else is a file store directory.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return p, nil
	case "redis":
		p, err := redis.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return p, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgres"
	case "redis", "rediss":
		return "redis"
	default:
		return "file"
	}
}
