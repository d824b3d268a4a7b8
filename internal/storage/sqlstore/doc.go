// Package sqlstore implements the ledger Store on database/sql. The same
// queries serve MySQL (go-sql-driver/mysql), PostgreSQL (pgx stdlib) and
// SQLite (modernc.org/sqlite); a small dialect table rewrites placeholders,
// adds row locks and recognises unique-key violations. Schema changes are
// applied from the embedded files in deploy/migrations.
package sqlstore
