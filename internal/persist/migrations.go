package persist

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrSchemaMissing means migrations ran but the accounts table is absent,
// typically because the DSN points at the wrong database or search_path.
var ErrSchemaMissing = errors.New("accounts table missing")

// Migrate applies pending account migrations and returns the schema version.
func (db *DB) Migrate(ctx context.Context) (int64, error) {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return 0, err
	}

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, fsys)
	if err != nil {
		return 0, fmt.Errorf("migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("run migrations: %w", err)
	}
	for _, r := range results {
		db.log.Info("migration applied",
			zap.Int64("version", r.Source.Version),
			zap.Duration("took", r.Duration),
		)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}

	var present bool
	if err := db.Pool.QueryRow(ctx,
		`SELECT to_regclass('accounts') IS NOT NULL`,
	).Scan(&present); err != nil {
		return 0, fmt.Errorf("check accounts table: %w", err)
	}
	if !present {
		return 0, ErrSchemaMissing
	}
	return version, nil
}
