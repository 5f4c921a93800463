package accounts

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the full embedded migration tree.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}

// MigrationsFor returns the migrations for dialect, rooted so that the
// *.up.sql files sit at the top level.
func MigrationsFor(dialect string) (fs.FS, error) {
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case DialectSQLite, "sqlite3", "sqliteshim":
		return fs.Sub(migrationsFS, "data/sql/migrations/sqlite")
	case DialectPostgres, "pg", "pgx":
		return fs.Sub(migrationsFS, "data/sql/migrations")
	default:
		return nil, fmt.Errorf("accounts: unsupported migration dialect %q", dialect)
	}
}
