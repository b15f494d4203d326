//go:build !cgo_sqlite

package main

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver used for the model store.
const driverName = "sqlite"

// openDB opens the store with the pure Go driver. It reads connection settings
// as _pragma parameters, so the mattn-style shorthand is translated.
func openDB(dataSource string) (*sql.DB, error) {
	return sql.Open(driverName, translatePragmas(dataSource))
}

func translatePragmas(dataSource string) string {
	path, query, ok := strings.Cut(dataSource, "?")
	if !ok {
		return dataSource
	}
	params := strings.Split(query, "&")
	for i, p := range params {
		key, value, _ := strings.Cut(p, "=")
		switch key {
		case "_journal_mode":
			params[i] = "_pragma=journal_mode(" + value + ")"
		case "_busy_timeout":
			params[i] = "_pragma=busy_timeout(" + value + ")"
		case "_synchronous":
			params[i] = "_pragma=synchronous(" + value + ")"
		}
	}
	return path + "?" + strings.Join(params, "&")
}
