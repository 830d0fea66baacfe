// Package migrations embeds the SQL schema into the binary.
//
// Importing it for side effects registers the files with package database:
//
//	import _ "github.com/nerrad567/gray-logic-esd/migrations"
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
