package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ramarivera/portal/internal/common/config"
)

const (
	defaultMaxConns     = 10
	defaultMinConns     = 2
	postgresPingTimeout = 5 * time.Second
	postgresAppName     = "portal"
)

// OpenPostgres opens the settings pool on PostgreSQL through pgx. The
// settings table sees a handful of writes per session, so the default pool
// is small.
func OpenPostgres(cfg config.DatabaseConfig) (*sql.DB, error) {
	connCfg, err := postgresConnConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDB(*connCfg)

	maxConns, minConns := poolLimits(cfg)
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), postgresPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres settings database at %s: %w", connCfg.Host, err)
	}
	return db, nil
}

func postgresConnConfig(dsn string) (*pgx.ConnConfig, error) {
	if dsn == "" {
		return nil, errors.New("database.dsn is required for the postgres driver")
	}
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	if _, ok := connCfg.RuntimeParams["application_name"]; !ok {
		connCfg.RuntimeParams["application_name"] = postgresAppName
	}
	return connCfg, nil
}

func poolLimits(cfg config.DatabaseConfig) (maxConns, minConns int) {
	maxConns, minConns = cfg.MaxConns, cfg.MinConns
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	if minConns <= 0 {
		minConns = defaultMinConns
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	return maxConns, minConns
}
