package db

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers that indicate a retryable condition.
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// IsTransient reports whether the error is a retryable store condition
// (deadlock, lock wait timeout). Callers leave the row leased and let the
// reaper rewind it.
func IsTransient(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == errDeadlock || myErr.Number == errLockWaitTimeout
	}
	return false
}

// UniqueViolation inspects a MySQL duplicate key error.
func UniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}
