// assets/embed.go
//
// Files compiled into the binary:
//   - content/*.yaml     learning catalog and per-game content tables
//   - migrations/*.sql   SQLite schema, applied in lexical order
//
// CONTENT_DIR can replace the embedded content at runtime (see internal/content).

package assets

import (
	"embed"
	"io/fs"
)

//go:embed content/*.yaml migrations/*.sql
var files embed.FS

// Content returns the embedded content directory.
func Content() fs.FS {
	sub, err := fs.Sub(files, "content")
	if err != nil {
		panic(err) // embedded path is fixed at compile time
	}
	return sub
}

// Migrations returns the embedded migrations directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(files, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}
