package postgres

import "embed"

// MigrationsFS embeds the schema migration files so cmd/caldav-migrate can
// apply them without needing the source tree on disk at runtime.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
