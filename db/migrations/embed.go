// Package dbmigrations exposes embedded SQL migrations for riskgate binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into riskgate binaries.
//
//go:embed *.sql
var Files embed.FS
