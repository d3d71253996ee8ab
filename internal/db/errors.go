package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/threadchat/internal/store"
	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTransactionConflict indicates a SurrealDB transaction conflict.
	// This occurs when concurrent appends to the same thread race for the
	// next sequence number. Callers may retry.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrNotFound aliases the store sentinel so callers can match either.
	ErrNotFound = store.ErrNotFound
)

// wrapQueryError inspects a SurrealDB error and wraps it with the appropriate
// sentinel error if it's a known query error type. Returns the original error
// if it's not a QueryError or doesn't match known patterns.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "Transaction conflict") ||
			strings.Contains(msg, "already contains") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
		if strings.Contains(msg, "does not exist") {
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
	}

	return err
}
