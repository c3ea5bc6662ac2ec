// Package ledger keeps a local record of which assets were already written
// to disk, keyed by account and target path, so a rerun can skip the remote
// probe for files it captured itself. The filesystem stays authoritative;
// the ledger is a fast path, not a source of truth.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Entry is one captured asset variant.
type Entry struct {
	Account    string
	Path       string
	AssetID    string
	Bytes      int64
	CapturedAt int64
}

// Store is the sole writer to the ledger database.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens (or creates) the ledger database at dbPath and brings the
// schema up to date.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", slog.String("db_path", dbPath))

	return &Store{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("ledger: closing database: %w", err)
	}

	return nil
}

// Record upserts a captured asset. Called after the downloaded file has been
// renamed into place.
func (s *Store) Record(ctx context.Context, account, path, assetID string, bytes int64) error {
	now := s.nowFunc().Unix()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO captured_assets (account, path, asset_id, bytes, captured_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(account, path) DO UPDATE SET
		  asset_id    = excluded.asset_id,
		  bytes       = excluded.bytes,
		  captured_at = excluded.captured_at`,
		account, path, assetID, bytes, now)
	if err != nil {
		return fmt.Errorf("ledger: recording %s: %w", path, err)
	}

	s.logger.Debug("ledger: recorded capture",
		slog.String("path", path),
		slog.Int64("bytes", bytes),
	)

	return nil
}

// Seen reports whether this exact path was captured before with the same
// byte count. A size mismatch reads as unseen so the caller re-probes.
func (s *Store) Seen(ctx context.Context, account, path string, bytes int64) (bool, error) {
	var recorded int64

	err := s.db.QueryRowContext(ctx,
		`SELECT bytes FROM captured_assets WHERE account = ? AND path = ?`,
		account, path).Scan(&recorded)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("ledger: looking up %s: %w", path, err)
	}

	return recorded == bytes, nil
}

// Forget removes one path entry. Called when the local file is deleted or
// found missing despite a ledger hit.
func (s *Store) Forget(ctx context.Context, account, path string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM captured_assets WHERE account = ? AND path = ?`,
		account, path)
	if err != nil {
		return fmt.Errorf("ledger: forgetting %s: %w", path, err)
	}

	return nil
}

// ForgetAsset removes every path recorded for an asset. Called when the
// asset is deleted locally in full (all size variants).
func (s *Store) ForgetAsset(ctx context.Context, account, assetID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM captured_assets WHERE account = ? AND asset_id = ?`,
		account, assetID)
	if err != nil {
		return fmt.Errorf("ledger: forgetting asset %s: %w", assetID, err)
	}

	return nil
}

// Clear drops all entries for an account.
func (s *Store) Clear(ctx context.Context, account string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM captured_assets WHERE account = ?`, account)
	if err != nil {
		return fmt.Errorf("ledger: clearing account: %w", err)
	}

	affected, rowsErr := result.RowsAffected()
	if rowsErr == nil && affected > 0 {
		s.logger.Info("ledger: cleared", slog.Int64("entries", affected))
	}

	return nil
}

// Count returns the number of entries recorded for an account.
func (s *Store) Count(ctx context.Context, account string) (int64, error) {
	var count int64

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM captured_assets WHERE account = ?`,
		account).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ledger: counting entries: %w", err)
	}

	return count, nil
}
