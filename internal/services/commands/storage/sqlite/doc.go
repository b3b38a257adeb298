// Package sqlite persists the command log, project entities, and the
// after-commit outbox in one SQLite database.
package sqlite
