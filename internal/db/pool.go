package db

import "github.com/jmoiron/sqlx"

// Pool pairs a writer connection with a reader connection pool.
//
// SQLite gets a single writer connection and several read-only connections
// that run alongside it under WAL. PostgreSQL uses one *sqlx.DB for both.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool creates a Pool from separate writer and reader connections.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Writer is used for INSERT, UPDATE, DELETE and schema changes.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader is used for SELECT queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Driver returns the database/sql driver name of the pool.
func (p *Pool) Driver() string { return p.writer.DriverName() }

// Close closes both connections.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}
