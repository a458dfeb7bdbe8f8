// Package migrations carries the SQL migrations shipped with the engine.
// They are embedded so the stock binary migrates without the directory
// alongside it; MIGRATIONS_DIR switches to on-disk files for deployments
// that maintain their own.
package migrations

import "embed"

//go:embed *.sql
var sqlFS embed.FS

// FS returns the embedded migration files.
func FS() embed.FS {
	return sqlFS
}
