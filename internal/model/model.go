// Package model defines the core domain types shared across the ledger engine.
// Ledger amounts are int64 minor units; decimal is only used at the API edge.
package model

import (
	"time"
)

// AccountType identifies the role an account plays in the chart of accounts.
type AccountType string

const (
	AccountMerchant             AccountType = "MERCHANT_ACCOUNT"
	AccountMerchantPayable      AccountType = "MERCHANT_PAYABLE"
	AccountAuthReceivable       AccountType = "AUTH_RECEIVABLE"
	AccountAuthLiability        AccountType = "AUTH_LIABILITY"
	AccountPSPReceivables       AccountType = "PSP_RECEIVABLES"
	AccountAcquirer             AccountType = "ACQUIRER_ACCOUNT"
	AccountCash                 AccountType = "CASH"
	AccountProcessingFeeRevenue AccountType = "PROCESSING_FEE_REVENUE"
)

// GlobalEntity is the entity id of system-wide accounts.
const GlobalEntity = "GLOBAL"

// Category is the accounting category of an account type.
type Category string

const (
	CategoryAsset     Category = "ASSET"
	CategoryLiability Category = "LIABILITY"
	CategoryRevenue   Category = "REVENUE"
	CategoryExpense   Category = "EXPENSE"
	CategoryEquity    Category = "EQUITY"
)

var categories = map[AccountType]Category{
	AccountMerchant:             CategoryLiability,
	AccountMerchantPayable:      CategoryLiability,
	AccountAuthReceivable:       CategoryAsset,
	AccountAuthLiability:        CategoryLiability,
	AccountPSPReceivables:       CategoryAsset,
	AccountAcquirer:             CategoryAsset,
	AccountCash:                 CategoryAsset,
	AccountProcessingFeeRevenue: CategoryRevenue,
}

// Category returns the fixed category for the account type, and false for
// types outside the chart of accounts.
func (t AccountType) Category() (Category, bool) {
	c, ok := categories[t]
	return c, ok
}

// DebitNormal reports whether accounts of this category grow on DEBIT.
func (c Category) DebitNormal() bool {
	return c == CategoryAsset || c == CategoryExpense
}

// AccountStatus is the lifecycle status of an account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountSuspended AccountStatus = "SUSPENDED"
)

// AccountProfile is what the account directory knows about an account.
type AccountProfile struct {
	AccountCode string        `json:"account_code" db:"account_code"`
	Type        AccountType   `json:"type" db:"type"`
	EntityID    string        `json:"entity_id" db:"entity_id"`
	Category    Category      `json:"category" db:"category"`
	Currency    string        `json:"currency" db:"currency"`
	Status      AccountStatus `json:"status" db:"status"`
}

// Account is the posting-side view of an account. Immutable once created.
type Account struct {
	Code     string      `json:"code"`
	Type     AccountType `json:"type"`
	Category Category    `json:"category"`
	Currency string      `json:"currency"`
}

// AccountFromProfile builds the posting-side view of a directory profile.
func AccountFromProfile(p AccountProfile) Account {
	return Account{
		Code:     p.AccountCode,
		Type:     p.Type,
		Category: p.Category,
		Currency: p.Currency,
	}
}

// Direction is the side of a posting.
type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// Posting is one debit or credit line of a journal entry.
type Posting struct {
	Account   Account   `json:"account"`
	Amount    int64     `json:"amount"` // minor units, never negative
	Direction Direction `json:"direction"`
	Currency  string    `json:"currency"`
}

// SignedAmount is the effect of the posting on its account's balance:
// positive when the posting is on the account's normal side.
func (p Posting) SignedAmount() int64 {
	debitNormal := p.Account.Category.DebitNormal()
	if (p.Direction == Debit) == debitNormal {
		return p.Amount
	}
	return -p.Amount
}

// TxType names the accounting fact a journal entry represents.
type TxType string

const (
	TxAuthHold   TxType = "AUTH_HOLD"
	TxCapture    TxType = "CAPTURE"
	TxSettlement TxType = "SETTLEMENT"
	TxFee        TxType = "FEE"
	TxPayout     TxType = "PAYOUT"
	TxRefund     TxType = "REFUND"
)

// JournalEntry is a balanced set of postings. ID is deterministic and is
// what the ledger store deduplicates replays on.
type JournalEntry struct {
	ID       string    `json:"id"`
	TxType   TxType    `json:"tx_type"`
	Name     string    `json:"name,omitempty"`
	Postings []Posting `json:"postings"`
}

// LedgerEntry is a persisted journal entry. ID is assigned by the store
// (0 before persistence) and grows monotonically. Never modified or deleted.
type LedgerEntry struct {
	ID           int64        `json:"ledger_entry_id" db:"ledger_entry_id"`
	JournalEntry JournalEntry `json:"journal_entry"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

// AccountBalanceSnapshot is the durable balance row of one account.
// LastAppliedEntryID is the per-account watermark: the highest ledger entry
// whose postings against this account are folded into Balance.
type AccountBalanceSnapshot struct {
	AccountCode        string    `json:"account_code" db:"account_code"`
	Balance            int64     `json:"balance" db:"balance"`
	LastAppliedEntryID int64     `json:"last_applied_entry_id" db:"last_applied_entry_id"`
	LastSnapshotAt     time.Time `json:"last_snapshot_at" db:"last_snapshot_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// PaymentOrderStatus is the upstream status of a payment order.
type PaymentOrderStatus string

const (
	StatusAuthorized  PaymentOrderStatus = "AUTHORIZED"
	StatusCaptured    PaymentOrderStatus = "CAPTURED"
	StatusRefunded    PaymentOrderStatus = "REFUNDED"
	StatusFailed      PaymentOrderStatus = "FAILED"
	StatusFailedFinal PaymentOrderStatus = "FAILED_FINAL"
)

// EventLedgerEntriesRecorded is the event type emitted once per recording.
const EventLedgerEntriesRecorded = "ledger_entries_recorded"

// LedgerEntriesRecorded is emitted after a batch of ledger entries is
// committed. The balance consumer folds LedgerEntries into account deltas.
type LedgerEntriesRecorded struct {
	LedgerBatchID  string             `json:"ledger_batch_id"`
	PaymentOrderID string             `json:"payment_order_id"`
	SellerID       string             `json:"seller_id"`
	Status         PaymentOrderStatus `json:"status"`
	RecordedAt     time.Time          `json:"recorded_at"`
	LedgerEntries  []LedgerEntry      `json:"ledger_entries"`
}

// DeterministicEventID lets downstream consumers dedup redeliveries of the
// same recording.
func (e LedgerEntriesRecorded) DeterministicEventID() string {
	return e.LedgerBatchID + ":" + EventLedgerEntriesRecorded
}
