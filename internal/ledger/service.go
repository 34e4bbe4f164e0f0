// Package ledger records double-entry journal entries for payment order
// status changes and announces them to balance consumers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/payment-ledger/internal/account"
	"github.com/atmx/payment-ledger/internal/events"
	"github.com/atmx/payment-ledger/internal/journal"
	"github.com/atmx/payment-ledger/internal/metrics"
	"github.com/atmx/payment-ledger/internal/model"
	"github.com/atmx/payment-ledger/internal/money"
	"github.com/atmx/payment-ledger/internal/store"
)

// ErrInvalidCommand is returned when a recording command fails validation.
var ErrInvalidCommand = errors.New("ledger: invalid command")

// DefaultTopic is the topic ledger events are published on.
const DefaultTopic = "ledger-events"

// RecordLedgerEntriesCommand describes one payment order status change.
type RecordLedgerEntriesCommand struct {
	PaymentOrderID string                   `json:"payment_order_id" validate:"required"`
	PaymentID      string                   `json:"payment_id" validate:"required"`
	SellerID       string                   `json:"seller_id" validate:"required"`
	Amount         decimal.Decimal          `json:"amount"`
	Currency       string                   `json:"currency" validate:"required,iso4217"`
	Status         model.PaymentOrderStatus `json:"status" validate:"required"`
	TraceID        string                   `json:"trace_id,omitempty"`
	ParentEventID  string                   `json:"parent_event_id,omitempty"`
}

// Service turns payment order status changes into persisted ledger entries
// and emits one LedgerEntriesRecorded event per recording.
type Service struct {
	directory store.AccountDirectory
	ledger    store.LedgerStore
	publisher events.Publisher
	validate  *validator.Validate
	topic     string
	timeout   time.Duration
	now       func() time.Time
}

// NewService creates a recording service. timeout bounds each publish.
func NewService(directory store.AccountDirectory, ledger store.LedgerStore, publisher events.Publisher,
	topic string, timeout time.Duration) *Service {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Service{
		directory: directory,
		ledger:    ledger,
		publisher: publisher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		topic:     topic,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Records reports whether a status produces ledger entries.
func Records(status model.PaymentOrderStatus) bool {
	switch status {
	case model.StatusAuthorized, model.StatusCaptured, model.StatusRefunded:
		return true
	}
	return false
}

// RecordLedgerEntries builds the journal entries for cmd.Status, persists
// them atomically and publishes one event carrying the persisted entries.
// Statuses that produce no entries return without touching any collaborator.
// Journal ids already present in the store are skipped; when nothing new is
// persisted no event is published. Store and publisher errors are returned
// as-is; on a publish error the persisted rows stay.
func (s *Service) RecordLedgerEntries(ctx context.Context, cmd RecordLedgerEntriesCommand) ([]model.LedgerEntry, error) {
	start := time.Now()
	defer func() { metrics.LedgerRecordLatency.Observe(time.Since(start).Seconds()) }()

	if !Records(cmd.Status) {
		metrics.LedgerRecordings.WithLabelValues("noop").Inc()
		slog.Debug("ledger recording skipped", "payment_order_id", cmd.PaymentOrderID, "status", cmd.Status)
		return nil, nil
	}

	amount, err := s.checkCommand(cmd)
	if err != nil {
		metrics.LedgerRecordings.WithLabelValues("invalid").Inc()
		return nil, err
	}

	entries, err := s.buildEntries(ctx, cmd, amount)
	if err != nil {
		metrics.LedgerRecordings.WithLabelValues("error").Inc()
		return nil, err
	}

	persisted, err := s.ledger.PostLedgerEntriesAtomic(ctx, entries)
	if err != nil {
		metrics.LedgerRecordings.WithLabelValues("store_error").Inc()
		slog.Error("ledger persist failed", "payment_order_id", cmd.PaymentOrderID, "err", err)
		return nil, err
	}
	if len(persisted) == 0 {
		metrics.LedgerRecordings.WithLabelValues("duplicate").Inc()
		slog.Info("ledger entries already recorded", "payment_order_id", cmd.PaymentOrderID, "status", cmd.Status)
		return persisted, nil
	}
	for _, le := range persisted {
		metrics.LedgerEntriesRecorded.WithLabelValues(string(le.JournalEntry.TxType)).Inc()
	}

	evt := model.LedgerEntriesRecorded{
		LedgerBatchID:  "ledger-batch-" + uuid.New().String(),
		PaymentOrderID: cmd.PaymentOrderID,
		SellerID:       cmd.SellerID,
		Status:         cmd.Status,
		RecordedAt:     s.now(),
		LedgerEntries:  persisted,
	}
	meta := events.Metadata{EventType: model.EventLedgerEntriesRecorded, Topic: s.topic}
	env, err := s.publisher.PublishSync(ctx, meta, cmd.SellerID, evt, cmd.ParentEventID, cmd.TraceID, s.timeout)
	if err != nil {
		metrics.LedgerRecordings.WithLabelValues("publish_error").Inc()
		slog.Error("ledger event publish failed",
			"payment_order_id", cmd.PaymentOrderID,
			"ledger_batch_id", evt.LedgerBatchID,
			"entries", len(persisted),
			"err", err,
		)
		return nil, err
	}

	metrics.LedgerRecordings.WithLabelValues("recorded").Inc()
	slog.Info("ledger entries recorded",
		"payment_order_id", cmd.PaymentOrderID,
		"seller_id", cmd.SellerID,
		"status", cmd.Status,
		"entries", len(persisted),
		"event_id", env.EventID,
	)
	return persisted, nil
}

func (s *Service) checkCommand(cmd RecordLedgerEntriesCommand) (int64, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	// The seller id becomes the entity segment of the merchant account code.
	if _, err := account.Parse(account.Format(model.AccountMerchant, cmd.SellerID, cmd.Currency)); err != nil {
		return 0, fmt.Errorf("%w: seller_id %q: %w", ErrInvalidCommand, cmd.SellerID, err)
	}
	amount, err := money.ToMinor(cmd.Amount, cmd.Currency)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidCommand)
	}
	return amount, nil
}

func (s *Service) buildEntries(ctx context.Context, cmd RecordLedgerEntriesCommand, amount int64) ([]model.JournalEntry, error) {
	ccy := cmd.Currency
	switch cmd.Status {
	case model.StatusAuthorized:
		ar, err := s.account(ctx, model.AccountAuthReceivable, model.GlobalEntity, ccy)
		if err != nil {
			return nil, err
		}
		al, err := s.account(ctx, model.AccountAuthLiability, model.GlobalEntity, ccy)
		if err != nil {
			return nil, err
		}
		je, err := journal.AuthHold(cmd.PaymentID, amount, ar, al)
		if err != nil {
			return nil, err
		}
		return []model.JournalEntry{je}, nil

	case model.StatusCaptured:
		ar, err := s.account(ctx, model.AccountAuthReceivable, model.GlobalEntity, ccy)
		if err != nil {
			return nil, err
		}
		al, err := s.account(ctx, model.AccountAuthLiability, model.GlobalEntity, ccy)
		if err != nil {
			return nil, err
		}
		merchant, err := s.account(ctx, model.AccountMerchant, cmd.SellerID, ccy)
		if err != nil {
			return nil, err
		}
		psp, err := s.account(ctx, model.AccountPSPReceivables, model.GlobalEntity, ccy)
		if err != nil {
			return nil, err
		}
		je, err := journal.Capture(cmd.PaymentOrderID, amount, ar, al, merchant, psp)
		if err != nil {
			return nil, err
		}
		return []model.JournalEntry{je}, nil

	case model.StatusRefunded:
		merchant, err := s.account(ctx, model.AccountMerchant, cmd.SellerID, ccy)
		if err != nil {
			return nil, err
		}
		psp, err := s.account(ctx, model.AccountPSPReceivables, model.GlobalEntity, ccy)
		if err != nil {
			return nil, err
		}
		je, err := journal.Refund(cmd.PaymentOrderID, amount, merchant, psp)
		if err != nil {
			return nil, err
		}
		return []model.JournalEntry{je}, nil
	}
	return nil, nil
}

func (s *Service) account(ctx context.Context, t model.AccountType, entityID, currency string) (model.Account, error) {
	p, err := s.directory.AccountProfile(ctx, t, entityID, currency)
	if err != nil {
		return model.Account{}, err
	}
	return model.AccountFromProfile(p), nil
}
