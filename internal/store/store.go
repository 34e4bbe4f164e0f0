// Package store defines the persistence ports of the ledger engine and
// their adapters: PostgreSQL (source of truth), Redis (balance delta cache
// and read-through account directory), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/atmx/payment-ledger/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// LedgerStore is the append-only ledger.
type LedgerStore interface {
	// PostLedgerEntriesAtomic appends all entries or none. Entries whose
	// journal id is already stored are skipped; only newly persisted
	// entries are returned, with their assigned ledger entry ids.
	PostLedgerEntriesAtomic(ctx context.Context, entries []model.JournalEntry) ([]model.LedgerEntry, error)

	// ListLedgerEntriesAfter returns up to limit entries with id > afterID,
	// in id order. A limit <= 0 returns every remaining entry.
	ListLedgerEntriesAfter(ctx context.Context, afterID int64, limit int) ([]model.LedgerEntry, error)
}

// SnapshotStore holds the durable per-account balances and watermarks.
type SnapshotStore interface {
	// FindByAccountCodes returns the snapshots that exist; missing codes
	// are simply absent from the result.
	FindByAccountCodes(ctx context.Context, codes []string) ([]model.AccountBalanceSnapshot, error)

	// ApplyDelta folds a flushed delta into the snapshot, creating it if
	// needed. The watermark never moves backwards.
	ApplyDelta(ctx context.Context, code string, delta, watermark int64, at time.Time) error
}

// AccountDirectory resolves accounts, creating them on first reference.
type AccountDirectory interface {
	AccountProfile(ctx context.Context, t model.AccountType, entityID, currency string) (model.AccountProfile, error)
}

// BalanceCache is the fast incremental overlay on top of the snapshots.
// Every operation is atomic per account key.
type BalanceCache interface {
	// AddDeltaAndWatermark adds delta to the stored delta and raises the
	// watermark to max(stored, watermark). Refreshes the key TTL.
	AddDeltaAndWatermark(ctx context.Context, code string, delta, watermark int64) error

	// GetAndResetDeltaWithWatermark returns (delta, watermark) and resets
	// the delta to zero, keeping the watermark. Unknown accounts yield (0, 0).
	GetAndResetDeltaWithWatermark(ctx context.Context, code string) (delta, watermark int64, err error)

	// MarkDirty adds the account to the set awaiting flush.
	MarkDirty(ctx context.Context, code string) error

	// ClearDirty removes the account from the set awaiting flush.
	ClearDirty(ctx context.Context, code string) error

	// GetDirtyAccounts lists accounts awaiting flush.
	GetDirtyAccounts(ctx context.Context) ([]string, error)

	// GetRealTimeBalance returns snapshotBalance plus the current delta.
	GetRealTimeBalance(ctx context.Context, code string, snapshotBalance int64) (int64, error)
}
