// Package store persists conversation threads and their ordered messages.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/threadchat/internal/models"
)

// Sentinel errors for store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the requested thread does not exist.
	ErrNotFound = errors.New("thread not found")

	// ErrInvalidMessage indicates a message without a thread id or with an unknown role.
	ErrInvalidMessage = errors.New("invalid message")
)

// Store maps a thread id to its ordered message history.
//
// Append creates the thread on first use, so callers never need to register
// a thread before writing to it. Load returns an empty slice for a thread that
// has no messages or does not exist.
type Store interface {
	Append(ctx context.Context, threadID string, msg models.Message) error
	Load(ctx context.Context, threadID string) ([]models.Message, error)
	Close() error
}

// ThreadIndex persists thread metadata so threads and their titles survive
// restarts. SaveThread is an upsert that never replaces a non-default title.
type ThreadIndex interface {
	SaveThread(ctx context.Context, t models.Thread) error
	GetThread(ctx context.Context, id string) (models.Thread, error)
	ListThreads(ctx context.Context) ([]models.Thread, error)
}

// ValidateMessage checks that msg can be appended to threadID.
func ValidateMessage(threadID string, msg models.Message) error {
	if threadID == "" {
		return fmt.Errorf("%w: empty thread id", ErrInvalidMessage)
	}
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, msg.Role)
	}
	return nil
}

// MergeTitle returns the title to keep when incoming is saved over existing.
// The first non-default title wins.
func MergeTitle(existing, incoming string) string {
	if existing != "" && existing != models.DefaultTitle {
		return existing
	}
	if incoming == "" {
		return models.DefaultTitle
	}
	return incoming
}
