//go:build !cgo

package sqlstore

// cgoSQLiteDriver names a driver that was never registered in this build
// (mattn/go-sqlite3 requires cgo); sql.Open returns a clear "unknown driver"
// error if a "sqlite+cgo://" DSN is used in a cgo-disabled build, instead of
// failing to compile entirely.
const cgoSQLiteDriver = "sqlite3"
