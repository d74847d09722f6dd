package database

import (
	"context"
	"embed"

	"flowtale/pkg/migration"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator возвращает Migrator для встроенных миграций схемы историй.
func NewMigrator(pool *pgxpool.Pool) *migration.Migrator {
	return migration.NewMigrator(migration.Config{
		MigrationsFS:   migrationsFS,
		MigrationsPath: "migrations",
	}, pool)
}

// ApplyMigrations применяет все встроенные миграции.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	return NewMigrator(pool).Up(ctx)
}
