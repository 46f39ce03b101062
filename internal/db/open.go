// Package db opens the settings database for the configured driver.
package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ramarivera/portal/internal/common/config"
	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/db/dialect"
)

// Open connects to the database described by cfg.
func Open(cfg config.DatabaseConfig, log *logger.Logger) (*Pool, error) {
	switch cfg.Driver {
	case "postgres":
		conn, err := OpenPostgres(cfg)
		if err != nil {
			return nil, err
		}
		shared := sqlx.NewDb(conn, dialect.PGX)
		maxConns, _ := poolLimits(cfg)
		log.Info("connected to postgres", zap.Int("max_conns", maxConns))
		return NewPool(shared, shared), nil

	case "sqlite", "":
		writer, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		reader, err := OpenSQLiteReader(cfg.Path)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		log.Info("opened sqlite database", zap.String("path", normalizeSQLitePath(cfg.Path)))
		return NewPool(sqlx.NewDb(writer, dialect.SQLite3), sqlx.NewDb(reader, dialect.SQLite3)), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}
