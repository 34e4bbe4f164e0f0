package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atmx/payment-ledger/internal/account"
	"github.com/atmx/payment-ledger/internal/model"
)

// DBTX is the part of *pgxpool.Pool the store needs.
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements LedgerStore, SnapshotStore and AccountDirectory
// using PostgreSQL as the source of truth. Amounts are BIGINT minor units.
type PostgresStore struct {
	pool DBTX
}

// NewPostgresStore creates a new PostgreSQL-backed store, usually over a
// *pgxpool.Pool.
func NewPostgresStore(pool DBTX) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Ledger ---

func (s *PostgresStore) PostLedgerEntriesAtomic(ctx context.Context, entries []model.JournalEntry) ([]model.LedgerEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) // no-op after commit

	now := time.Now().UTC()
	var persisted []model.LedgerEntry

	for _, je := range entries {
		le := model.LedgerEntry{JournalEntry: je}
		err := tx.QueryRow(ctx,
			`INSERT INTO ledger_entries (journal_id, tx_type, journal_name, created_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (journal_id) DO NOTHING
			 RETURNING ledger_entry_id, created_at`,
			je.ID, string(je.TxType), je.Name, now,
		).Scan(&le.ID, &le.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			// Journal id already recorded: replay, skip.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert ledger entry %s: %w", je.ID, err)
		}

		n := len(je.Postings)
		orders := make([]int32, n)
		codes := make([]string, n)
		directions := make([]string, n)
		amounts := make([]int64, n)
		currencies := make([]string, n)
		for i, p := range je.Postings {
			orders[i] = int32(i)
			codes[i] = p.Account.Code
			directions[i] = string(p.Direction)
			amounts[i] = p.Amount
			currencies[i] = p.Currency
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO postings (journal_id, posting_order, account_code, direction, amount, currency)
			 SELECT $1::text, u.ord, u.code, u.dir, u.amount, u.ccy
			 FROM unnest($2::int[], $3::text[], $4::text[], $5::bigint[], $6::text[]) AS u(ord, code, dir, amount, ccy)`,
			je.ID, orders, codes, directions, amounts, currencies,
		); err != nil {
			return nil, fmt.Errorf("insert postings for %s: %w", je.ID, err)
		}

		persisted = append(persisted, le)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return persisted, nil
}

func (s *PostgresStore) ListLedgerEntriesAfter(ctx context.Context, afterID int64, limit int) ([]model.LedgerEntry, error) {
	// LIMIT NULL is no limit.
	var lim *int64
	if limit > 0 {
		l := int64(limit)
		lim = &l
	}
	rows, err := s.pool.Query(ctx,
		`SELECT ledger_entry_id, journal_id, tx_type, journal_name, created_at
		 FROM ledger_entries WHERE ledger_entry_id > $1
		 ORDER BY ledger_entry_id LIMIT $2`, afterID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	index := make(map[string]int)
	for rows.Next() {
		var le model.LedgerEntry
		var txType string
		if err := rows.Scan(&le.ID, &le.JournalEntry.ID, &txType, &le.JournalEntry.Name, &le.CreatedAt); err != nil {
			return nil, err
		}
		le.JournalEntry.TxType = model.TxType(txType)
		index[le.JournalEntry.ID] = len(entries)
		entries = append(entries, le)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	journalIDs := make([]string, 0, len(entries))
	for _, le := range entries {
		journalIDs = append(journalIDs, le.JournalEntry.ID)
	}

	prows, err := s.pool.Query(ctx,
		`SELECT p.journal_id, p.account_code, a.type, a.category, p.direction, p.amount, p.currency
		 FROM postings p
		 JOIN accounts a ON a.account_code = p.account_code
		 WHERE p.journal_id = ANY($1)
		 ORDER BY p.journal_id, p.posting_order`, journalIDs)
	if err != nil {
		return nil, err
	}
	defer prows.Close()

	for prows.Next() {
		var journalID, accType, category, direction string
		var p model.Posting
		if err := prows.Scan(&journalID, &p.Account.Code, &accType, &category, &direction, &p.Amount, &p.Currency); err != nil {
			return nil, err
		}
		p.Account.Type = model.AccountType(accType)
		p.Account.Category = model.Category(category)
		p.Account.Currency = p.Currency
		p.Direction = model.Direction(direction)

		i := index[journalID]
		entries[i].JournalEntry.Postings = append(entries[i].JournalEntry.Postings, p)
	}
	return entries, prows.Err()
}

// --- Snapshots ---

func (s *PostgresStore) FindByAccountCodes(ctx context.Context, codes []string) ([]model.AccountBalanceSnapshot, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT account_code, balance, last_applied_entry_id, last_snapshot_at, updated_at
		 FROM account_balances WHERE account_code = ANY($1)`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []model.AccountBalanceSnapshot
	for rows.Next() {
		var snap model.AccountBalanceSnapshot
		if err := rows.Scan(&snap.AccountCode, &snap.Balance, &snap.LastAppliedEntryID,
			&snap.LastSnapshotAt, &snap.UpdatedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

func (s *PostgresStore) ApplyDelta(ctx context.Context, code string, delta, watermark int64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO account_balances (account_code, balance, last_applied_entry_id, last_snapshot_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (account_code) DO UPDATE
		 SET balance = account_balances.balance + EXCLUDED.balance,
		     last_applied_entry_id = GREATEST(account_balances.last_applied_entry_id, EXCLUDED.last_applied_entry_id),
		     last_snapshot_at = EXCLUDED.last_snapshot_at,
		     updated_at = EXCLUDED.updated_at`,
		code, delta, watermark, at,
	)
	if err != nil {
		return fmt.Errorf("apply delta to %s: %w", code, err)
	}
	return nil
}

// --- Accounts ---

func (s *PostgresStore) AccountProfile(ctx context.Context, t model.AccountType, entityID, currency string) (model.AccountProfile, error) {
	p, err := account.NewProfile(t, entityID, currency)
	if err != nil {
		return model.AccountProfile{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO accounts (account_code, type, entity_id, category, currency, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (account_code) DO NOTHING`,
		p.AccountCode, string(p.Type), p.EntityID, string(p.Category), p.Currency, string(p.Status),
	)
	if err != nil {
		return model.AccountProfile{}, fmt.Errorf("create account %s: %w", p.AccountCode, err)
	}

	var accType, category, status string
	err = s.pool.QueryRow(ctx,
		`SELECT account_code, type, entity_id, category, currency, status
		 FROM accounts WHERE account_code = $1`, p.AccountCode).
		Scan(&p.AccountCode, &accType, &p.EntityID, &category, &p.Currency, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AccountProfile{}, fmt.Errorf("account %s: %w", p.AccountCode, ErrNotFound)
	}
	if err != nil {
		return model.AccountProfile{}, fmt.Errorf("get account %s: %w", p.AccountCode, err)
	}
	p.Type = model.AccountType(accType)
	p.Category = model.Category(category)
	p.Status = model.AccountStatus(status)
	return p, nil
}
