// Package stores persists the apply history of recipes in SQLite. The
// schema is managed by embedded golang-migrate migrations, and SQLiteStore
// implements engine.History.
package stores
