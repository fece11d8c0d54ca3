// Package adapters lets the store client run on pgxpool.Pool, sql.DB and sqlx.DB
// through one small DBAdapter interface.
package adapters
