package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atmx/payment-ledger/internal/account"
	"github.com/atmx/payment-ledger/internal/model"
)

// MemoryStore implements LedgerStore, SnapshotStore and AccountDirectory with
// in-memory maps. Used for testing and development. Not suitable for
// production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	ledger    []model.LedgerEntry
	journals  map[string]bool
	snapshots map[string]*model.AccountBalanceSnapshot
	accounts  map[string]model.AccountProfile
	nextID    int64
	now       func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		journals:  make(map[string]bool),
		snapshots: make(map[string]*model.AccountBalanceSnapshot),
		accounts:  make(map[string]model.AccountProfile),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) PostLedgerEntriesAtomic(_ context.Context, entries []model.JournalEntry) ([]model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Holding the lock for the whole batch makes it all-or-nothing.
	var persisted []model.LedgerEntry
	seen := make(map[string]bool, len(entries))
	for _, je := range entries {
		if s.journals[je.ID] || seen[je.ID] {
			continue
		}
		seen[je.ID] = true
		s.nextID++
		persisted = append(persisted, model.LedgerEntry{
			ID:           s.nextID,
			JournalEntry: je,
			CreatedAt:    s.now(),
		})
	}
	for _, le := range persisted {
		s.journals[le.JournalEntry.ID] = true
	}
	s.ledger = append(s.ledger, persisted...)
	return persisted, nil
}

func (s *MemoryStore) ListLedgerEntriesAfter(_ context.Context, afterID int64, limit int) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, le := range s.ledger {
		if le.ID <= afterID {
			continue
		}
		result = append(result, le)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) FindByAccountCodes(_ context.Context, codes []string) ([]model.AccountBalanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.AccountBalanceSnapshot
	for _, code := range codes {
		if snap, ok := s.snapshots[code]; ok {
			result = append(result, *snap)
		}
	}
	return result, nil
}

func (s *MemoryStore) ApplyDelta(_ context.Context, code string, delta, watermark int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[code]
	if !ok {
		snap = &model.AccountBalanceSnapshot{AccountCode: code}
		s.snapshots[code] = snap
	}
	snap.Balance += delta
	if watermark > snap.LastAppliedEntryID {
		snap.LastAppliedEntryID = watermark
	}
	snap.LastSnapshotAt = at
	snap.UpdatedAt = at
	return nil
}

// PutSnapshot seeds a snapshot directly. Intended for tests.
func (s *MemoryStore) PutSnapshot(snap model.AccountBalanceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := snap
	s.snapshots[snap.AccountCode] = &copy
}

func (s *MemoryStore) AccountProfile(_ context.Context, t model.AccountType, entityID, currency string) (model.AccountProfile, error) {
	code := account.Format(t, entityID, currency)

	s.mu.RLock()
	p, ok := s.accounts[code]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := account.NewProfile(t, entityID, currency)
	if err != nil {
		return model.AccountProfile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.accounts[code]; ok {
		return existing, nil
	}
	s.accounts[code] = p
	return p, nil
}

// Accounts returns all known account codes, sorted.
func (s *MemoryStore) Accounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := make([]string, 0, len(s.accounts))
	for code := range s.accounts {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
