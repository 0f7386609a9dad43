package db

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgQueryCanceled        = "57014"

	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if code := pgCode(err); code != "" {
		return code == pgUniqueViolation
	}
	if num := mysqlNumber(err); num != 0 {
		return num == mysqlDuplicateEntry
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// IsSerializationFailure reports errors the database raises when two
// transactions raced on the same rows and one of them was rolled back.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	if code := pgCode(err); code != "" {
		return code == pgSerializationFailure || code == pgDeadlockDetected
	}
	if num := mysqlNumber(err); num != 0 {
		return num == mysqlDeadlock
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "could not serialize access")
}

// IsLockTimeout reports a lock or statement wait that ran out of time.
func IsLockTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if code := pgCode(err); code != "" {
		return code == pgLockNotAvailable || code == pgQueryCanceled
	}
	return mysqlNumber(err) == mysqlLockWaitTimeout
}

// Code returns the SQLSTATE of a Postgres error from either driver.
func Code(err error) string {
	return pgCode(err)
}

func pgCode(err error) string {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func mysqlNumber(err error) uint16 {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}
