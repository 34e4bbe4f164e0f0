package balance

import (
	"context"

	"github.com/atmx/payment-ledger/internal/model"
	"github.com/atmx/payment-ledger/internal/store"
)

// View is the real-time balance of one account.
type View struct {
	AccountCode        string `json:"account_code"`
	SnapshotBalance    int64  `json:"snapshot_balance"`
	Balance            int64  `json:"balance"`
	LastAppliedEntryID int64  `json:"last_applied_entry_id"`
}

// Query reads real-time balances without scanning the ledger.
type Query struct {
	snapshots store.SnapshotStore
	cache     store.BalanceCache
}

// NewQuery creates a balance reader.
func NewQuery(snapshots store.SnapshotStore, cache store.BalanceCache) *Query {
	return &Query{snapshots: snapshots, cache: cache}
}

// RealTimeBalance returns snapshot balance plus the unflushed cache delta.
// Accounts without a snapshot start from zero.
func (q *Query) RealTimeBalance(ctx context.Context, code string) (View, error) {
	snaps, err := q.snapshots.FindByAccountCodes(ctx, []string{code})
	if err != nil {
		return View{}, err
	}
	var snap model.AccountBalanceSnapshot
	if len(snaps) > 0 {
		snap = snaps[0]
	}

	bal, err := q.cache.GetRealTimeBalance(ctx, code, snap.Balance)
	if err != nil {
		return View{}, err
	}
	return View{
		AccountCode:        code,
		SnapshotBalance:    snap.Balance,
		Balance:            bal,
		LastAppliedEntryID: snap.LastAppliedEntryID,
	}, nil
}
