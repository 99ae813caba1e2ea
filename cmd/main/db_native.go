//go:build !cgo_sqlite

package main

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

// initDB opens the model database with the pure Go driver, enabling WAL and a
// busy timeout unless the path already carries its own parameters.
func initDB(path string) (*sql.DB, error) {
	if !strings.Contains(path, "?") {
		path += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	return sql.Open("sqlite", path)
}
