// Package balance folds ledger entries into real-time account balances.
//
// Balances live in two tiers: durable snapshots (balance + per-account
// watermark) and a fast delta cache on top. The Engine writes deltas to the
// cache, the Flusher drains them into snapshots, and Query reads
// snapshot + delta.
package balance

import (
	"context"
	"log/slog"
	"sort"

	"github.com/atmx/payment-ledger/internal/metrics"
	"github.com/atmx/payment-ledger/internal/model"
	"github.com/atmx/payment-ledger/internal/store"
)

// Update is one applied per-account change.
type Update struct {
	AccountCode string `json:"account_code"`
	Delta       int64  `json:"delta"`
	Watermark   int64  `json:"watermark"`
}

// Notifier is told about every applied account update.
type Notifier interface {
	BalanceUpdated(u Update)
}

// Engine applies ledger entry batches to the balance cache. It is safe for
// concurrent use: correctness rests on the per-account atomicity of the
// cache, never on a lock held here.
type Engine struct {
	snapshots store.SnapshotStore
	cache     store.BalanceCache
	notifier  Notifier // optional
}

// NewEngine creates a reconciliation engine.
// Pass nil for notifier if update notifications are not needed.
func NewEngine(snapshots store.SnapshotStore, cache store.BalanceCache, notifier Notifier) *Engine {
	return &Engine{
		snapshots: snapshots,
		cache:     cache,
		notifier:  notifier,
	}
}

type accountAgg struct {
	delta int64
	maxID int64
}

// UpdateAccountBalancesBatch folds a batch of ledger entries into per-account
// deltas. For each account only postings from entries newer than that
// account's own watermark count; accounts whose net movement is zero are
// left untouched. Returns the distinct per-account max entry ids applied,
// ascending.
//
// A cache failure aborts the call; accounts already updated stay updated and
// a redelivery of the same batch is absorbed once their watermark is flushed.
func (e *Engine) UpdateAccountBalancesBatch(ctx context.Context, entries []model.LedgerEntry) ([]int64, error) {
	if len(entries) == 0 {
		return []int64{}, nil
	}

	codeSet := make(map[string]struct{})
	for _, le := range entries {
		for _, p := range le.JournalEntry.Postings {
			codeSet[p.Account.Code] = struct{}{}
		}
	}
	codes := make([]string, 0, len(codeSet))
	for code := range codeSet {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	snapshots, err := e.snapshots.FindByAccountCodes(ctx, codes)
	if err != nil {
		return nil, err
	}
	watermarks := make(map[string]int64, len(snapshots))
	for _, s := range snapshots {
		watermarks[s.AccountCode] = s.LastAppliedEntryID
	}

	aggs := make(map[string]*accountAgg, len(codes))
	skipped := 0
	for _, le := range entries {
		for _, p := range le.JournalEntry.Postings {
			code := p.Account.Code
			if le.ID <= watermarks[code] {
				skipped++
				continue
			}
			agg, ok := aggs[code]
			if !ok {
				agg = &accountAgg{}
				aggs[code] = agg
			}
			agg.delta += p.SignedAmount()
			if le.ID > agg.maxID {
				agg.maxID = le.ID
			}
		}
	}
	if skipped > 0 {
		metrics.BalancePostingsSkipped.Add(float64(skipped))
	}

	applied := make(map[int64]struct{})
	for _, code := range codes {
		agg, ok := aggs[code]
		if !ok {
			continue
		}
		if agg.delta == 0 {
			metrics.BalanceZeroDeltaSkips.Inc()
			continue
		}

		if err := e.cache.AddDeltaAndWatermark(ctx, code, agg.delta, agg.maxID); err != nil {
			slog.Error("balance delta apply failed", "account", code, "delta", agg.delta,
				"watermark", agg.maxID, "err", err)
			return nil, err
		}
		if err := e.cache.MarkDirty(ctx, code); err != nil {
			return nil, err
		}

		metrics.BalanceAccountUpdates.Inc()
		applied[agg.maxID] = struct{}{}
		if e.notifier != nil {
			e.notifier.BalanceUpdated(Update{AccountCode: code, Delta: agg.delta, Watermark: agg.maxID})
		}
	}

	ids := make([]int64, 0, len(applied))
	for id := range applied {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	slog.Debug("balance batch applied", "entries", len(entries), "accounts", len(codes),
		"updated", len(ids), "skipped_postings", skipped)
	return ids, nil
}
