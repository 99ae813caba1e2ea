//go:build cgo_sqlite

package main

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// initDB opens the model database with the cgo driver, enabling WAL and a busy
// timeout unless the path already carries its own parameters.
func initDB(path string) (*sql.DB, error) {
	if !strings.Contains(path, "?") {
		path += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return sql.Open("sqlite3", path)
}
