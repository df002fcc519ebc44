package sqlstore

// Blank-imported for its database/sql driver registration under the name
// "postgres" — the queryable backend's Postgres option, for deployments
// large enough to want a shared server instead of an embedded SQLite file.
import _ "github.com/lib/pq"
