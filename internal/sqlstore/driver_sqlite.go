package sqlstore

// Blank-imported for its database/sql driver registration under the name
// "sqlite" (pure Go, no cgo) — the default SQLite backend for a "sqlite://"
// DSN.
import _ "modernc.org/sqlite"
