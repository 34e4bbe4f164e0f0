package balance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/payment-ledger/internal/metrics"
	"github.com/atmx/payment-ledger/internal/store"
)

// Flusher moves cached deltas of dirty accounts into the durable snapshots.
type Flusher struct {
	snapshots store.SnapshotStore
	cache     store.BalanceCache
	now       func() time.Time
}

// NewFlusher creates a flusher. now is the clock stamped on snapshots.
func NewFlusher(snapshots store.SnapshotStore, cache store.BalanceCache, now func() time.Time) *Flusher {
	return &Flusher{snapshots: snapshots, cache: cache, now: now}
}

// FlushOnce drains every dirty account and returns how many snapshots were
// written. The dirty mark is cleared before the delta is taken, so a writer
// racing with the flush re-marks the account for the next round.
func (f *Flusher) FlushOnce(ctx context.Context) (int, error) {
	codes, err := f.cache.GetDirtyAccounts(ctx)
	if err != nil {
		return 0, err
	}
	metrics.DirtyAccounts.Set(float64(len(codes)))

	flushed := 0
	for _, code := range codes {
		if err := f.cache.ClearDirty(ctx, code); err != nil {
			return flushed, err
		}
		delta, watermark, err := f.cache.GetAndResetDeltaWithWatermark(ctx, code)
		if err != nil {
			f.remark(ctx, code)
			return flushed, err
		}
		if delta == 0 && watermark == 0 {
			continue
		}

		if err := f.snapshots.ApplyDelta(ctx, code, delta, watermark, f.now()); err != nil {
			f.restore(ctx, code, delta, watermark)
			return flushed, fmt.Errorf("flush %s: %w", code, err)
		}
		flushed++
		metrics.FlushedAccounts.Inc()
	}
	return flushed, nil
}

// Run flushes every interval until ctx is cancelled.
func (f *Flusher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := f.FlushOnce(ctx)
			if err != nil {
				slog.Error("balance flush failed", "flushed", n, "err", err)
				continue
			}
			if n > 0 {
				slog.Info("balance flush", "accounts", n)
			}
		}
	}
}

// restore puts a drained delta back so the next flush retries it.
func (f *Flusher) restore(ctx context.Context, code string, delta, watermark int64) {
	if err := f.cache.AddDeltaAndWatermark(ctx, code, delta, watermark); err != nil {
		slog.Error("balance delta restore failed, delta lost from cache",
			"account", code, "delta", delta, "watermark", watermark, "err", err)
		return
	}
	f.remark(ctx, code)
}

func (f *Flusher) remark(ctx context.Context, code string) {
	if err := f.cache.MarkDirty(ctx, code); err != nil {
		slog.Error("balance re-mark dirty failed", "account", code, "err", err)
	}
}
