package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// runMigrations brings the ledger schema up to date via the goose Provider
// API. The migration files are embedded so the binary stays self-contained.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	// goose expects the .sql files at the root of the filesystem it is given.
	root, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ledger: preparing embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, root)
	if err != nil {
		return fmt.Errorf("ledger: creating migration provider: %w", err)
	}

	applied, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("ledger: migrating schema: %w", err)
	}

	for _, m := range applied {
		logger.Info("ledger migration applied",
			slog.String("source", m.Source.Path),
			slog.Int64("duration_ms", m.Duration.Milliseconds()),
		)
	}

	return nil
}
