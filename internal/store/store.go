package store

import (
	"context"
	"time"
)

// ProcessedEntry records one message the agent has finished handling.
// The set of these entries guarantees at-most-once processing per
// mailbox.
type ProcessedEntry struct {
	UID         uint32    `json:"uid"`
	MessageID   string    `json:"message_id"`
	Subject     string    `json:"subject"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ActionRecord is one entry in the dispatch audit log.
type ActionRecord struct {
	// ID is the internal unique identifier for this record.
	ID string `json:"id"`

	// UID is the message the action was dispatched for.
	UID uint32 `json:"uid"`

	// Action is the action type ("archive", "forward", ...).
	Action string `json:"action"`

	// Target is the action argument, when any: forward address,
	// notify channel, or template name.
	Target string `json:"target"`

	// Status is "ok" or "error".
	Status string `json:"status"`

	// Error holds the failure message for status "error".
	Error string `json:"error"`

	CreatedAt time.Time `json:"created_at"`
}

// Store defines the persistence interface for the processed-message
// set and the action audit log.
type Store interface {
	MarkProcessed(ctx context.Context, entry ProcessedEntry) error
	IsProcessed(ctx context.Context, uid uint32) (bool, error)
	ProcessedUIDs(ctx context.Context) (map[uint32]bool, error)
	PruneProcessed(ctx context.Context, olderThan time.Time) (int64, error)

	RecordAction(ctx context.Context, rec ActionRecord) error
	RecentActions(ctx context.Context, limit int) ([]ActionRecord, error)

	Close() error
}
