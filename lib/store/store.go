// Package store defines the interface for database implementations keeping the history of verification runs. The
// ledger is the system of record of verification results, the history is a best-effort log of the runs.
package store

import (
	"errors"
)

// DB defines required methods for the verifier.
type DB interface {
	// SaveRun saves a finished run and returns its id.
	SaveRun(Run) ([]byte, error)
	// GetRuns returns the latest runs for an exchange, newest first, at most limit.
	GetRuns(exchangeID uint64, limit int64) ([]Run, error)
}

// Errors returned
var (
	ErrUnknownDB = errors.New("unknown database type")
)
