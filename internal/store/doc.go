// Package store persists estimation runs and their result tables in an
// embedded SQLite database, using the pure-Go modernc driver through
// database/sql. Undefined numeric fields round-trip as NULL, group keys and
// per-row diagnostics as JSON columns.
package store
