package store

import (
	"context"
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// #region server-selection

// ServerSelectionError reports that the store could not be reached at all, as
// opposed to a reachable store rejecting an operation.
type ServerSelectionError struct {
	Op  string
	Err error
}

func (e *ServerSelectionError) Error() string {
	return "server selection failed: " + e.Op + ": " + e.Err.Error()
}

func (e *ServerSelectionError) Unwrap() error { return e.Err }

// IsServerSelection reports whether err, or anything it wraps, is a
// ServerSelectionError.
func IsServerSelection(err error) bool {
	var sse *ServerSelectionError
	return errors.As(err, &sse)
}

// #endregion server-selection

// #region classify

// wrap attaches op to err and promotes connectivity failures to ServerSelectionError.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if unreachable(err) {
		return &ServerSelectionError{Op: op, Err: err}
	}
	return &opError{op: op, err: err}
}

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string { return e.op + ": " + e.err.Error() }
func (e *opError) Unwrap() error { return e.err }

func unreachable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_NOTADB:
			return true
		}
	}
	// database/sql does not export its closed-handle error
	return strings.Contains(err.Error(), "sql: database is closed")
}

// #endregion classify
