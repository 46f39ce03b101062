// Package dialect holds SQL helpers that differ between SQLite and PostgreSQL.
package dialect

const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// IsPostgres reports whether driver is PostgreSQL (pgx).
func IsPostgres(driver string) bool {
	return driver == PGX
}

// BoolToInt converts a boolean for storage in an INTEGER column.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// TimestampType is the column type for timestamps.
func TimestampType(driver string) string {
	if IsPostgres(driver) {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}
