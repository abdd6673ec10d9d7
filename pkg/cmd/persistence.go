package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/persistence/file"
	"github.com/journeyhq/journey/pkg/persistence/postgresql"
)

// NewPersistence selects the storage backend from the database URL scheme.
// postgres:// and postgresql:// open PostgreSQL; anything else is treated as
// a file path for the development backend.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	scheme, _, found := strings.Cut(databaseURL, "://")

	if found && (scheme == "postgres" || scheme == "postgresql") {
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return p
	}

	return file.NewPersistence(databaseURL)
}
