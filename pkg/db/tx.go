package db

import (
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

// IsolationLevel maps a configured isolation name to a driver level.
// Unknown names fall back to read committed.
func IsolationLevel(name string) sql.IsolationLevel {
	switch name {
	case "serializable":
		return sql.LevelSerializable
	case "repeatable_read":
		return sql.LevelRepeatableRead
	default:
		return sql.LevelReadCommitted
	}
}

// TxOptions returns the options for a ledger transaction on tx's dialect.
// SQLite rejects explicit isolation levels and serializes writers anyway.
func TxOptions(tx *gorm.DB, isolation string) *sql.TxOptions {
	if IsSQLite(tx) {
		return nil
	}
	return &sql.TxOptions{Isolation: IsolationLevel(isolation)}
}

func IsPostgres(tx *gorm.DB) bool {
	return tx != nil && tx.Dialector != nil && tx.Dialector.Name() == "postgres"
}

func IsSQLite(tx *gorm.DB) bool {
	return tx != nil && tx.Dialector != nil && tx.Dialector.Name() == "sqlite"
}

// SetSynchronousCommit controls whether the commit of tx waits for the WAL flush.
// It is a no-op outside Postgres.
func SetSynchronousCommit(tx *gorm.DB, on bool) error {
	if !IsPostgres(tx) {
		return nil
	}
	value := "off"
	if on {
		value = "on"
	}
	if err := tx.Exec(fmt.Sprintf("SET LOCAL synchronous_commit = %s", value)).Error; err != nil {
		return fmt.Errorf("set synchronous_commit: %w", err)
	}
	return nil
}
