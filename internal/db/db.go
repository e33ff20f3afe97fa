package db

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Open connects to the database, retrying while the server comes up.
func Open(driver, databaseURL string) (*sqlx.DB, error) {
	const maxRetries = 10
	const retryInterval = 2 * time.Second

	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	var (
		conn *sqlx.DB
		err  error
	)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = sqlx.Connect(driver, databaseURL)
		if err == nil {
			if driver == DriverSQLite {
				// sqlite serializes writers anyway; one connection keeps
				// in-memory databases and foreign keys consistent.
				conn.SetMaxOpenConns(1)
				if _, err := conn.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
					return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
				}
			}
			log.Info().Str("driver", driver).Msg("connected to database")
			return conn, nil
		}

		log.Error().Err(err).
			Int("attempt", attempt).
			Msgf("failed to connect to database, retrying in %s", retryInterval)

		time.Sleep(retryInterval)
	}

	return nil, fmt.Errorf("could not connect to database after %d attempts: %w", maxRetries, err)
}

// MigrationsFS returns the migrations directory to use. An empty path selects
// the migrations compiled into the binary.
func MigrationsFS(path string) (fs.FS, error) {
	if path == "" {
		return fs.Sub(embeddedMigrations, "migrations")
	}
	return os.DirFS(path), nil
}

// RunMigrations executes every "*.up.sql" file in migrations, sorted by name.
// "*.down.sql" files are ignored. Statements are idempotent.
func RunMigrations(conn *sqlx.DB, migrations fs.FS) error {
	files, err := fs.Glob(migrations, "*.up.sql")
	if err != nil {
		log.Error().Msg("failed to list up migrations")
		return fmt.Errorf("failed to glob migrations: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	sort.Strings(files)

	for _, file := range files {
		sqlBytes, err := fs.ReadFile(migrations, file)
		if err != nil {
			log.Error().Str("file", file).Msg("failed to read migration file")
			return fmt.Errorf("could not read migration %q: %w", file, err)
		}
		if len(sqlBytes) == 0 {
			continue
		}
		if _, err := conn.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("error executing migration %q: %w", file, err)
		}
		log.Debug().Str("file", file).Msg("applied migration")
	}
	return nil
}
