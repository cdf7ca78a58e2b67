// Package varcache implements the configuration variable cache: a
// process-global key-value store that vendored package build descriptions
// read their provider selections from. The cache is persisted in a SQL
// database so that selections survive across configure runs, the way native
// build tools cache configuration variables.
package varcache

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqldblogger "github.com/simukti/sqldb-logger"
	"github.com/simukti/sqldb-logger/logadapter/zerologadapter"

	"github.com/achille-roussel/sqlrange"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/stdlib" // database/sql compatible driver for pgx
	"modernc.org/sqlite"

	"github.com/linkplane/linkplane/internal/config"
	"github.com/linkplane/linkplane/internal/logging"
)

const (
	kindSQLite = iota
	kindPostgres
	kindMySQL
)

// SQLiteMemoryOnlyDSN configures a throwaway in-memory cache. Used by tests
// and by one-shot runs that do not want persistence.
const SQLiteMemoryOnlyDSN = "file::memory:?cache=shared"

// Cache hides the differences between the supported SQL databases from the
// rest of the codebase.
type Cache struct {
	db   *sql.DB
	kind int
	log  *logging.Logger
}

// Entry is a single cached configuration variable. Origin records which
// component wrote the value last, for diagnostics.
type Entry struct {
	Key       string `sql:"var_key"`
	Value     string `sql:"var_value"`
	Origin    string `sql:"origin"`
	UpdatedAt string `sql:"updated_at"`
}

func Open(ctx context.Context, c *config.Cache, log *logging.Logger) (*Cache, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}

	cache := Cache{log: log}

	driverName, dsn := "sqlite", SQLiteMemoryOnlyDSN
	if c != nil && c.Driver != "" {
		driverName = c.Driver
	}
	if c != nil && c.DSN != "" {
		dsn = c.DSN
	}

	var drv driver.Driver
	switch driverName {
	case "sqlite", "sqlite3":
		cache.kind = kindSQLite
		drv = &sqlite.Driver{}
		if dsn != SQLiteMemoryOnlyDSN {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create cache directory: %w", err)
			}
		}
	case "postgres", "postgresql", "pgx":
		cache.kind = kindPostgres
		drv = stdlib.GetDefaultDriver()
	case "mysql":
		cache.kind = kindMySQL
		drv = &mysqldriver.MySQLDriver{}
	default:
		return nil, fmt.Errorf("unsupported cache driver: %q", driverName)
	}

	// Route all statements through the logging driver at debug level; the
	// adapter is silent otherwise.
	cache.db = sqldblogger.OpenDriver(dsn, drv, zerologadapter.New(log.Zerolog()),
		sqldblogger.WithMinimumLevel(sqldblogger.LevelDebug),
	)

	if cache.kind == kindSQLite {
		// Concurrent writers are not useful against SQLite and trip its
		// locking, same as any other embedded database.
		cache.db.SetMaxOpenConns(1)
	}

	if err := cache.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to cache database: %w", err)
	}

	if err := cache.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}

	return &cache, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// arg returns the i-th statement placeholder for the active dialect.
func (c *Cache) arg(i int) string {
	if c.kind == kindPostgres {
		return fmt.Sprintf("$%d", i+1)
	}
	return "?"
}

// Set writes a variable. Without force, an existing value is left untouched
// and false is returned: first write wins, matching the caching behavior of
// the build descriptions reading these variables. With force, any prior
// value is overridden.
func (c *Cache) Set(ctx context.Context, key, value, origin string, force bool) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var query string
	switch {
	case force && c.kind == kindMySQL:
		query = `INSERT INTO variables (var_key, var_value, origin, updated_at) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE var_value = VALUES(var_value), origin = VALUES(origin), updated_at = VALUES(updated_at)`
	case force:
		query = fmt.Sprintf(`INSERT INTO variables (var_key, var_value, origin, updated_at) VALUES (%s, %s, %s, %s)
			ON CONFLICT (var_key) DO UPDATE SET var_value = excluded.var_value, origin = excluded.origin, updated_at = excluded.updated_at`,
			c.arg(0), c.arg(1), c.arg(2), c.arg(3))
	case c.kind == kindMySQL:
		query = `INSERT IGNORE INTO variables (var_key, var_value, origin, updated_at) VALUES (?, ?, ?, ?)`
	default:
		query = fmt.Sprintf(`INSERT INTO variables (var_key, var_value, origin, updated_at) VALUES (%s, %s, %s, %s)
			ON CONFLICT (var_key) DO NOTHING`, c.arg(0), c.arg(1), c.arg(2), c.arg(3))
	}

	result, err := c.db.ExecContext(ctx, query, key, value, origin, now)
	if err != nil {
		return false, fmt.Errorf("failed to set variable %q: %w", key, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	query := `SELECT var_value FROM variables WHERE var_key = ` + c.arg(0)
	row := c.db.QueryRowContext(ctx, query, key)

	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get variable %q: %w", key, err)
	}
	return value, true, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM variables WHERE var_key = ` + c.arg(0)
	if _, err := c.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete variable %q: %w", key, err)
	}
	return nil
}

// List returns all entries whose key starts with the given prefix, ordered
// by key. An empty prefix lists everything.
func (c *Cache) List(ctx context.Context, prefix string) ([]Entry, error) {
	// '#' as the explicit escape character: sqlite has no default one, and
	// a literal backslash in the statement trips up mysql.
	query := fmt.Sprintf(`SELECT var_key, var_value, origin, updated_at
		FROM variables WHERE var_key LIKE %s ESCAPE '#' ORDER BY var_key`, c.arg(0))

	var entries []Entry
	for entry, err := range sqlrange.QueryContext[Entry](ctx, c.db, query, likePrefix(prefix)) {
		if err != nil {
			return nil, fmt.Errorf("failed to list variables: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func likePrefix(prefix string) string {
	escaped := make([]byte, 0, len(prefix)+1)
	for i := range len(prefix) {
		switch prefix[i] {
		case '%', '_', '#':
			escaped = append(escaped, '#')
		}
		escaped = append(escaped, prefix[i])
	}
	return string(escaped) + "%"
}

// Snapshot captures the current values of the given keys so they can be
// reinstated after a third-party build description has run. Keys that do not
// exist are recorded as absent and deleted again on Restore.
type Snapshot struct {
	values map[string]*Entry // nil value marks an absent key
}

func (c *Cache) Snapshot(ctx context.Context, keys []string) (Snapshot, error) {
	snap := Snapshot{values: make(map[string]*Entry, len(keys))}

	query := `SELECT var_value, origin FROM variables WHERE var_key = ` + c.arg(0)
	for _, key := range keys {
		row := c.db.QueryRowContext(ctx, query, key)

		var entry Entry
		entry.Key = key
		if err := row.Scan(&entry.Value, &entry.Origin); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				snap.values[key] = nil
				continue
			}
			return Snapshot{}, fmt.Errorf("failed to snapshot variable %q: %w", key, err)
		}
		snap.values[key] = &entry
	}

	return snap, nil
}

// Restore puts the snapshotted keys back to their captured state, overriding
// whatever a third party wrote in the meantime.
func (c *Cache) Restore(ctx context.Context, snap Snapshot) error {
	for key, entry := range snap.values {
		if entry == nil {
			if err := c.Delete(ctx, key); err != nil {
				return err
			}
			continue
		}
		if _, err := c.Set(ctx, key, entry.Value, entry.Origin, true); err != nil {
			return err
		}
	}
	return nil
}
