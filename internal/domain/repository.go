package domain

import (
	"context"
	"time"
)

// PendingMintRepository persists in-flight mints. Records must survive a
// process restart, so implementations are expected to be durable.
type PendingMintRepository interface {
	// Create stores a new pending mint.
	Create(ctx context.Context, mint *PendingMint) error

	// GetByID retrieves a pending mint by its ID.
	GetByID(ctx context.Context, id string) (*PendingMint, error)

	// Update replaces the stored record (status, snapshot, timestamps).
	Update(ctx context.Context, mint *PendingMint) error

	// ListStale returns non-terminal records last updated before cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]*PendingMint, error)

	// DeleteTerminalBefore removes terminal records created before cutoff.
	// Returns the number of records removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// RebalanceLogRepository is the unbounded archival log of rebalance
// outcomes. Append-only.
type RebalanceLogRepository interface {
	// Append stores one record.
	Append(ctx context.Context, record *RebalanceRecord) error

	// ListRecent returns the most recent records, newest first.
	ListRecent(ctx context.Context, limit int) ([]*RebalanceRecord, error)
}
