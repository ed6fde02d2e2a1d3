package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"github.com/victornm/trivia/internal/history/migrations"
)

// Migrate applies every pending migration of the history schema to the database at dsn.
func Migrate(ctx context.Context, dsn string) error {
	return withMigrator(ctx, dsn, func(m *migrate.Migrator) error {
		group, err := m.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		if group.IsZero() {
			slog.InfoContext(ctx, "history: no new migrations")
			return nil
		}

		slog.InfoContext(ctx, "history: migrations applied", "group", group.String())
		return nil
	})
}

// Rollback reverts the last applied migration group.
func Rollback(ctx context.Context, dsn string) error {
	return withMigrator(ctx, dsn, func(m *migrate.Migrator) error {
		group, err := m.Rollback(ctx)
		if err != nil {
			return fmt.Errorf("rollback: %w", err)
		}

		slog.InfoContext(ctx, "history: migrations rolled back", "group", group.String())
		return nil
	})
}

func withMigrator(ctx context.Context, dsn string, f func(m *migrate.Migrator) error) error {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	m := migrate.NewMigrator(db, migrations.Migrations)
	if err := m.Init(ctx); err != nil {
		return fmt.Errorf("migrator init: %w", err)
	}

	if err := m.Lock(ctx); err != nil {
		return fmt.Errorf("migrator lock: %w", err)
	}
	defer func() {
		if err := m.Unlock(ctx); err != nil {
			slog.ErrorContext(ctx, "history: unlock migrations failed", "error", err)
		}
	}()

	return f(m)
}
