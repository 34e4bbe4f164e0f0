package balance

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/atmx/payment-ledger/internal/model"
)

type mockSnapshots struct{ mock.Mock }

func (m *mockSnapshots) FindByAccountCodes(ctx context.Context, codes []string) ([]model.AccountBalanceSnapshot, error) {
	args := m.Called(ctx, codes)
	snaps, _ := args.Get(0).([]model.AccountBalanceSnapshot)
	return snaps, args.Error(1)
}

func (m *mockSnapshots) ApplyDelta(ctx context.Context, code string, delta, watermark int64, at time.Time) error {
	args := m.Called(ctx, code, delta, watermark, at)
	return args.Error(0)
}

type mockCache struct{ mock.Mock }

func (m *mockCache) AddDeltaAndWatermark(ctx context.Context, code string, delta, watermark int64) error {
	args := m.Called(ctx, code, delta, watermark)
	return args.Error(0)
}

func (m *mockCache) GetAndResetDeltaWithWatermark(ctx context.Context, code string) (int64, int64, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func (m *mockCache) MarkDirty(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *mockCache) ClearDirty(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *mockCache) GetDirtyAccounts(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	codes, _ := args.Get(0).([]string)
	return codes, args.Error(1)
}

func (m *mockCache) GetRealTimeBalance(ctx context.Context, code string, snapshotBalance int64) (int64, error) {
	args := m.Called(ctx, code, snapshotBalance)
	return args.Get(0).(int64), args.Error(1)
}
