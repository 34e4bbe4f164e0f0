package balance

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/atmx/payment-ledger/internal/events"
	"github.com/atmx/payment-ledger/internal/model"
)

// HandleLedgerEvent is an events.Handler that folds the entries of a
// LedgerEntriesRecorded event into balances. Other event types and
// undecodable payloads are logged and dropped; an engine error is returned
// so the transport redelivers.
func (e *Engine) HandleLedgerEvent(ctx context.Context, env events.Envelope) error {
	if env.EventType != model.EventLedgerEntriesRecorded {
		slog.Debug("ignoring event", "event_id", env.EventID, "event_type", env.EventType)
		return nil
	}

	var evt model.LedgerEntriesRecorded
	if err := json.Unmarshal(env.Data, &evt); err != nil {
		slog.Error("dropping undecodable ledger event", "event_id", env.EventID, "err", err)
		return nil
	}

	ids, err := e.UpdateAccountBalancesBatch(ctx, evt.LedgerEntries)
	if err != nil {
		return err
	}
	slog.Info("ledger event applied",
		"event_id", env.EventID,
		"ledger_batch_id", evt.LedgerBatchID,
		"entries", len(evt.LedgerEntries),
		"applied_ids", ids,
	)
	return nil
}

