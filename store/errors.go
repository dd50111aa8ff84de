package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("record not found")

	// ErrClosed is returned when an operation is attempted on a closed store.
	ErrClosed = errors.New("store is closed")
)

// IsContention reports whether err is a writer-contention signal: the
// database is busy or locked by a concurrent writer. Contention errors
// are transient and safe to retry.
func IsContention(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
}

// IsConflict reports whether err is a uniqueness violation, the signal
// that a concurrent writer won an insert race. Conflicts are not retried
// at the statement level; the caller re-runs the whole operation so the
// race resolves into a dedup hit.
func IsConflict(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	if serr.Code != sqlite3.ErrConstraint {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
