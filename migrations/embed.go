// Package migrations holds the SQLite schema. Importing it registers the
// files with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/nasa-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.Register(files)
}
