//go:build cgo

package sqlstore

// Blank-imported for its database/sql driver registration under the name
// "sqlite3" — the cgo-enabled SQLite backend, selected with a "sqlite+cgo://"
// DSN for deployments that can pay the cgo build cost for mattn's more
// mature driver rather than the pure-Go modernc.org/sqlite default.
import _ "github.com/mattn/go-sqlite3"

const cgoSQLiteDriver = "sqlite3"
