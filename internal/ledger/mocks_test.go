package ledger

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/atmx/payment-ledger/internal/account"
	"github.com/atmx/payment-ledger/internal/events"
	"github.com/atmx/payment-ledger/internal/model"
)

type mockDirectory struct{ mock.Mock }

func (m *mockDirectory) AccountProfile(ctx context.Context, t model.AccountType, entityID, currency string) (model.AccountProfile, error) {
	args := m.Called(ctx, t, entityID, currency)
	return args.Get(0).(model.AccountProfile), args.Error(1)
}

// expectProfile registers a directory lookup that resolves to a valid profile.
func (m *mockDirectory) expectProfile(t model.AccountType, entityID, currency string) {
	p, err := account.NewProfile(t, entityID, currency)
	if err != nil {
		panic(err)
	}
	m.On("AccountProfile", mock.Anything, t, entityID, currency).Return(p, nil)
}

type mockLedgerStore struct{ mock.Mock }

func (m *mockLedgerStore) PostLedgerEntriesAtomic(ctx context.Context, entries []model.JournalEntry) ([]model.LedgerEntry, error) {
	args := m.Called(ctx, entries)
	if fn, ok := args.Get(0).(func(context.Context, []model.JournalEntry) []model.LedgerEntry); ok {
		return fn(ctx, entries), args.Error(1)
	}
	les, _ := args.Get(0).([]model.LedgerEntry)
	return les, args.Error(1)
}

func (m *mockLedgerStore) ListLedgerEntriesAfter(ctx context.Context, afterID int64, limit int) ([]model.LedgerEntry, error) {
	args := m.Called(ctx, afterID, limit)
	les, _ := args.Get(0).([]model.LedgerEntry)
	return les, args.Error(1)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishSync(ctx context.Context, meta events.Metadata, aggregateID string, data any,
	parentEventID, traceID string, timeout time.Duration) (events.Envelope, error) {
	args := m.Called(ctx, meta, aggregateID, data, parentEventID, traceID, timeout)
	return args.Get(0).(events.Envelope), args.Error(1)
}
