package auth

import (
	"embed"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the schema migrations for the auth tables
// (organizations, roles, users).
func GetMigrationsFS() embed.FS {
	return migrationsFS
}
