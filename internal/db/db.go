// Package db opens the database session migrations are applied to.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	envparse "github.com/caarlos0/env/v11"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/codex-k8s/migratectl/internal/env"
	"github.com/codex-k8s/migratectl/internal/migrate"
)

var (
	// ErrMissingURL is returned when no connection string is configured.
	ErrMissingURL = errors.New("DATABASE_URL is required to apply migrations")
	// ErrUnsupportedDriver is returned for an unknown DATABASE_DRIVER.
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

// Config describes the target database, sourced from the environment.
type Config struct {
	// Driver is one of postgres, pgx, mysql, sqlite (DATABASE_DRIVER).
	Driver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	// URL is the driver-specific connection string (DATABASE_URL).
	URL string `env:"DATABASE_URL"`
	// Table overrides the history table name (MIGRATIONS_TABLE).
	Table string `env:"MIGRATIONS_TABLE"`
	// ConnectTimeout bounds the initial ping (DATABASE_CONNECT_TIMEOUT).
	ConnectTimeout time.Duration `env:"DATABASE_CONNECT_TIMEOUT" envDefault:"30s"`
}

// LoadConfig parses database settings from vars.
func LoadConfig(vars env.Vars) (Config, error) {
	var cfg Config
	if err := envparse.ParseWithOptions(&cfg, envparse.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse database config: %w", err)
	}
	return cfg, nil
}

// Dialect maps the configured driver to a migrate.Dialect.
func (c Config) Dialect() (migrate.Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "", "postgres", "postgresql", "pgx":
		return migrate.Postgres, nil
	case "mysql", "mariadb":
		return migrate.MySQL, nil
	case "sqlite", "sqlite3":
		return migrate.SQLite, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.Driver)
	}
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg Config) (*sql.DB, migrate.Dialect, error) {
	dialect, err := cfg.Dialect()
	if err != nil {
		return nil, 0, err
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, 0, ErrMissingURL
	}

	var conn *sql.DB
	switch dialect {
	case migrate.Postgres:
		conn, err = sql.Open("pgx", cfg.URL)
	case migrate.MySQL:
		conn, err = openMySQL(cfg.URL)
	case migrate.SQLite:
		conn, err = sql.Open("sqlite", cfg.URL)
		if err == nil {
			conn.SetMaxOpenConns(1)
		}
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", dialect, err)
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, 0, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return conn, dialect, nil
}

// openMySQL enables multi-statement execution so a migration file can hold
// several statements.
func openMySQL(dsn string) (*sql.DB, error) {
	mcfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	mcfg.MultiStatements = true
	connector, err := mysql.NewConnector(mcfg)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}
