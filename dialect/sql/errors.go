package sql

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"

	"github.com/syssam/loom"
)

// sqlStateError is an interface for errors that provide SQLSTATE codes.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE classes and codes.
const (
	pgClassIntegrity   = "23"
	pgClassSyntax      = "42"
	pgQueryCanceled    = "57014"
	pgLockNotAvailable = "55P03"
)

// MySQL error numbers.
const (
	mysqlDuplicateEntry         = 1062
	mysqlBadNull                = 1048
	mysqlForeignKeyParent       = 1451
	mysqlForeignKeyChild        = 1452
	mysqlCheckConstraintViolate = 3819
	mysqlLockWaitTimeout        = 1205
	mysqlQueryTimeout           = 3024
	mysqlParseError             = 1064
	mysqlUnknownColumn          = 1054
	mysqlUnknownTable           = 1146
)

// SQLite primary result codes. Extended codes carry the primary code in the low byte.
const (
	sqliteConstraint = 19
	sqliteInterrupt  = 9
	sqliteBusy       = 5
)

// Classify maps a driver failure to a storage error category.
// Concrete driver error types are checked first, then generic SQLSTATE
// carriers and finally well-known message fragments.
func Classify(err error) loom.Category {
	if err == nil {
		return loom.CategoryGeneric
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return loom.CategoryTimeout
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(string(pqErr.Code))
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry, mysqlBadNull, mysqlForeignKeyParent, mysqlForeignKeyChild, mysqlCheckConstraintViolate:
			return loom.CategoryConstraint
		case mysqlLockWaitTimeout, mysqlQueryTimeout:
			return loom.CategoryTimeout
		case mysqlParseError, mysqlUnknownColumn, mysqlUnknownTable:
			return loom.CategoryGrammar
		}
		return loom.CategoryGeneric
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqliteConstraint:
			return loom.CategoryConstraint
		case sqliteInterrupt, sqliteBusy:
			return loom.CategoryTimeout
		}
		if strings.Contains(liteErr.Error(), "syntax error") || strings.Contains(liteErr.Error(), "no such") {
			return loom.CategoryGrammar
		}
		return loom.CategoryGeneric
	}
	var stateErr sqlStateError
	if errors.As(err, &stateErr) {
		return classifySQLState(stateErr.SQLState())
	}
	// Fallback to string matching for drivers that don't expose codes.
	msg := err.Error()
	switch {
	case containsAny(msg,
		"UNIQUE constraint failed",
		"FOREIGN KEY constraint failed",
		"CHECK constraint failed",
		"NOT NULL constraint failed",
		"violates unique constraint",
		"violates foreign key constraint",
		"violates check constraint",
		"Error 1062",
		"Error 1451",
		"Error 1452",
		"Error 3819",
	):
		return loom.CategoryConstraint
	case containsAny(msg, "syntax error", "no such table", "no such column", "Error 1064"):
		return loom.CategoryGrammar
	case containsAny(msg, "timeout", "canceling statement", "canceling query"):
		return loom.CategoryTimeout
	}
	return loom.CategoryGeneric
}

func classifySQLState(code string) loom.Category {
	switch {
	case code == pgQueryCanceled || code == pgLockNotAvailable:
		return loom.CategoryTimeout
	case strings.HasPrefix(code, pgClassIntegrity):
		return loom.CategoryConstraint
	case strings.HasPrefix(code, pgClassSyntax):
		return loom.CategoryGrammar
	}
	return loom.CategoryGeneric
}

// WrapError wraps a driver failure of the given statement into a loom.ExecutionError.
// Nil errors and errors that are already wrapped are returned as is.
func WrapError(query string, err error) error {
	if err == nil {
		return nil
	}
	var ee *loom.ExecutionError
	if errors.As(err, &ee) {
		return err
	}
	return &loom.ExecutionError{SQL: query, Category: Classify(err), Err: err}
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
