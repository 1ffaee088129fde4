// Package migrations embeds the stream store schema into the binary.
package migrations

import (
	"embed"

	"github.com/ohmage/streamwriter/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
