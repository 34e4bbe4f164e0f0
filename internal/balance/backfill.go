package balance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atmx/payment-ledger/internal/store"
)

// DefaultBackfillPageSize is used when NewBackfiller gets a non-positive size.
const DefaultBackfillPageSize = 500

// BackfillResult summarises one Backfill run. Applied counts the per-account
// max entry ids the engine reported, page by page.
type BackfillResult struct {
	Scanned     int   `json:"scanned"`
	Applied     int   `json:"applied"`
	LastEntryID int64 `json:"last_entry_id"`
}

// Backfiller replays persisted ledger entries through the engine. It covers
// entries whose ledger event was never delivered, for example after a
// publish failure.
type Backfiller struct {
	ledger   store.LedgerStore
	engine   *Engine
	flusher  *Flusher
	pageSize int
}

// NewBackfiller creates a backfiller reading pageSize entries at a time.
func NewBackfiller(ledger store.LedgerStore, engine *Engine, flusher *Flusher, pageSize int) *Backfiller {
	if pageSize <= 0 {
		pageSize = DefaultBackfillPageSize
	}
	return &Backfiller{ledger: ledger, engine: engine, flusher: flusher, pageSize: pageSize}
}

// Backfill applies every entry with id > afterID. The cache is flushed before
// each page so the engine gates on current snapshot watermarks, which makes
// entries already applied a no-op. The run ends on a flush.
func (b *Backfiller) Backfill(ctx context.Context, afterID int64) (BackfillResult, error) {
	res := BackfillResult{LastEntryID: afterID}
	for {
		if _, err := b.flusher.FlushOnce(ctx); err != nil {
			return res, fmt.Errorf("backfill flush after %d: %w", res.LastEntryID, err)
		}

		page, err := b.ledger.ListLedgerEntriesAfter(ctx, res.LastEntryID, b.pageSize)
		if err != nil {
			return res, fmt.Errorf("backfill list after %d: %w", res.LastEntryID, err)
		}
		if len(page) == 0 {
			break
		}

		ids, err := b.engine.UpdateAccountBalancesBatch(ctx, page)
		if err != nil {
			return res, fmt.Errorf("backfill apply after %d: %w", res.LastEntryID, err)
		}
		res.Scanned += len(page)
		res.Applied += len(ids)
		res.LastEntryID = page[len(page)-1].ID
	}

	slog.Info("balance backfill", "scanned", res.Scanned, "applied", res.Applied, "last_entry_id", res.LastEntryID)
	return res, nil
}
