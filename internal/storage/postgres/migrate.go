package postgres

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/JakeFAU/catalog-harvester/internal/storage/postgres/migrations"
)

// MigrateUp applies every pending schema migration.
func MigrateUp(pool *pgxpool.Pool) error {
	return runMigrations(pool, func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown reverts every applied schema migration.
func MigrateDown(pool *pgxpool.Pool) error {
	return runMigrations(pool, func(m *migrate.Migrate) error { return m.Down() })
}

func runMigrations(pool *pgxpool.Pool, apply func(*migrate.Migrate) error) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() {
		_ = db.Close()
	}()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("initialise migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	defer func() {
		_ = sourceDriver.Close()
	}()

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := apply(migrator); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
