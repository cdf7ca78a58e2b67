package varcache

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migrate_mysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migrate_postgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migrate_sqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/linkplane/linkplane/internal/util"
)

// migrate brings the cache schema up to date. Migration files are generated
// in memory per dialect; identifier quoting and column types are the only
// differences between them.
func (c *Cache) migrate() error {
	var (
		drv  database.Driver
		name string
		err  error
	)

	switch c.kind {
	case kindSQLite:
		drv, err = migrate_sqlite.WithInstance(c.db, &migrate_sqlite.Config{})
		name = "sqlite"
	case kindPostgres:
		drv, err = migrate_postgres.WithInstance(c.db, &migrate_postgres.Config{})
		name = "postgres"
	case kindMySQL:
		drv, err = migrate_mysql.WithInstance(c.db, &migrate_mysql.Config{})
		name = "mysql"
	default:
		return fmt.Errorf("unknown kind: %d", c.kind)
	}
	if err != nil {
		return err
	}

	src, err := iofs.New(util.MapFS(migrationFiles(c.kind)), ".")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, name, drv)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func migrationFiles(kind int) map[string]string {
	var variables string
	switch kind {
	case kindMySQL:
		variables = `CREATE TABLE IF NOT EXISTS variables (
			var_key VARCHAR(255) PRIMARY KEY,
			var_value TEXT NOT NULL,
			origin VARCHAR(255),
			updated_at VARCHAR(64)
		)`
	default:
		variables = `CREATE TABLE IF NOT EXISTS variables (
			var_key TEXT PRIMARY KEY,
			var_value TEXT NOT NULL,
			origin TEXT,
			updated_at TEXT
		)`
	}

	return map[string]string{
		"001_variables.up.sql": variables,
	}
}
