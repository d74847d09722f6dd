package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

const defaultMigrationsTable = "schema_migrations"

// Config содержит настройки для миграций
type Config struct {
	// MigrationsFS и MigrationsPath - источник *.sql файлов (обычно embed.FS).
	MigrationsFS   fs.FS
	MigrationsPath string
	// MigrationsTable - таблица версий, по умолчанию schema_migrations.
	MigrationsTable string
	LockTimeout     time.Duration
}

// Migrator выполняет миграции базы данных
type Migrator struct {
	config Config
	pool   *pgxpool.Pool
}

// NewMigrator создает новый экземпляр Migrator
func NewMigrator(config Config, pool *pgxpool.Pool) *Migrator {
	if config.MigrationsTable == "" {
		config.MigrationsTable = defaultMigrationsTable
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = 30 * time.Second
	}
	return &Migrator{config: config, pool: pool}
}

// Up применяет все доступные миграции
func (m *Migrator) Up(ctx context.Context) error {
	return m.withMigrate(ctx, func(mg *migrate.Migrate) error {
		if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		log.Info().Str("table", m.config.MigrationsTable).Msg("database migrations applied")
		return nil
	})
}

// Down откатывает все миграции
func (m *Migrator) Down(ctx context.Context) error {
	return m.withMigrate(ctx, func(mg *migrate.Migrate) error {
		if err := mg.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to rollback migrations: %w", err)
		}
		log.Info().Msg("database migrations rolled back")
		return nil
	})
}

// Steps применяет (n > 0) или откатывает (n < 0) указанное число миграций.
func (m *Migrator) Steps(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	return m.withMigrate(ctx, func(mg *migrate.Migrate) error {
		if err := mg.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to migrate %d steps: %w", n, err)
		}
		log.Info().Int("steps", n).Msg("database migration steps applied")
		return nil
	})
}

// ForceVersion устанавливает версию миграции принудительно (снимает dirty).
func (m *Migrator) ForceVersion(ctx context.Context, version int) error {
	return m.withMigrate(ctx, func(mg *migrate.Migrate) error {
		if err := mg.Force(version); err != nil {
			return fmt.Errorf("failed to force migration version: %w", err)
		}
		log.Warn().Int("version", version).Msg("database migration version forced")
		return nil
	})
}

// Version возвращает текущую версию миграции. Для пустой БД - 0, false, nil.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	var (
		version uint
		dirty   bool
	)
	err := m.withMigrate(ctx, func(mg *migrate.Migrate) error {
		v, d, err := mg.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				return nil
			}
			return fmt.Errorf("failed to get migration version: %w", err)
		}
		version, dirty = v, d
		return nil
	})
	return version, dirty, err
}

func (m *Migrator) withMigrate(ctx context.Context, fn func(*migrate.Migrate) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mg, err := m.newMigrate()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() {
		srcErr, dbErr := mg.Close()
		if srcErr != nil || dbErr != nil {
			log.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("failed to close migrator")
		}
	}()
	return fn(mg)
}

func (m *Migrator) newMigrate() (*migrate.Migrate, error) {
	if m.config.MigrationsFS == nil {
		return nil, errors.New("migrations FS is not set")
	}

	// Драйвер golang-migrate работает через database/sql поверх пула pgx
	db := stdlib.OpenDBFromPool(m.pool)
	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable:       m.config.MigrationsTable,
		MigrationsTableQuoted: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(m.config.MigrationsFS, m.config.MigrationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	mg.LockTimeout = m.config.LockTimeout
	return mg, nil
}
