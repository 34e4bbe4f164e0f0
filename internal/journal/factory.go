// Package journal builds balanced journal entries for payment lifecycle
// outcomes. Every function here is pure: it never touches storage or cache
// and returns the same entry for the same input.
package journal

import (
	"errors"
	"fmt"

	"github.com/atmx/payment-ledger/internal/account"
	"github.com/atmx/payment-ledger/internal/model"
)

var (
	// ErrUnbalanced is returned when debits and credits differ for a currency.
	ErrUnbalanced = errors.New("journal: entry is unbalanced")

	// ErrInvalidPosting is returned for malformed postings or entries.
	ErrInvalidPosting = errors.New("journal: invalid posting")
)

// AuthHold records an authorization hold:
// DEBIT AUTH_RECEIVABLE / CREDIT AUTH_LIABILITY.
func AuthHold(paymentID string, amount int64, authReceivable, authLiability model.Account) (model.JournalEntry, error) {
	return newEntry("AUTH:"+paymentID, model.TxAuthHold, "Authorization hold",
		debit(authReceivable, amount),
		credit(authLiability, amount),
	)
}

// Capture releases the hold and recognizes the PSP-side transfer owed to
// the merchant.
func Capture(paymentOrderID string, amount int64, authReceivable, authLiability, merchant, pspReceivable model.Account) (model.JournalEntry, error) {
	return newEntry("CAPTURE:"+paymentOrderID, model.TxCapture, "Capture",
		credit(authReceivable, amount),
		debit(authLiability, amount),
		debit(pspReceivable, amount),
		credit(merchant, amount),
	)
}

// Settlement records funds arriving from the PSP at the acquirer.
func Settlement(paymentOrderID string, amount int64, acquirer, pspReceivable model.Account) (model.JournalEntry, error) {
	return newEntry("SETTLE:"+paymentOrderID, model.TxSettlement, "Settlement",
		debit(acquirer, amount),
		credit(pspReceivable, amount),
	)
}

// Fee charges the processing fee to the merchant.
func Fee(paymentOrderID string, fee int64, merchant, feeRevenue model.Account) (model.JournalEntry, error) {
	return newEntry("FEE:"+paymentOrderID, model.TxFee, "Processing fee",
		debit(merchant, fee),
		credit(feeRevenue, fee),
	)
}

// Payout pays the merchant out of the acquirer account.
func Payout(payoutID string, amount int64, merchant, acquirer model.Account) (model.JournalEntry, error) {
	return newEntry("PAYOUT:"+payoutID, model.TxPayout, "Merchant payout",
		debit(merchant, amount),
		credit(acquirer, amount),
	)
}

// Refund reverses the merchant side of a capture.
func Refund(paymentOrderID string, amount int64, merchant, pspReceivable model.Account) (model.JournalEntry, error) {
	return newEntry("REFUND:"+paymentOrderID, model.TxRefund, "Refund",
		debit(merchant, amount),
		credit(pspReceivable, amount),
	)
}

// FlowAccounts are the accounts touched by a complete payment flow.
type FlowAccounts struct {
	AuthReceivable model.Account
	AuthLiability  model.Account
	Merchant       model.Account
	PSPReceivable  model.Account
	Acquirer       model.Account
	FeeRevenue     model.Account
}

// FullFlow composes authorization, capture, settlement, fee and payout for
// one payment order into five entries.
func FullFlow(paymentID, paymentOrderID string, amount, fee int64, acc FlowAccounts) ([]model.JournalEntry, error) {
	if fee <= 0 || fee >= amount {
		return nil, fmt.Errorf("%w: fee %d must be within (0, %d)", ErrInvalidPosting, fee, amount)
	}

	var entries []model.JournalEntry
	steps := []func() (model.JournalEntry, error){
		func() (model.JournalEntry, error) {
			return AuthHold(paymentID, amount, acc.AuthReceivable, acc.AuthLiability)
		},
		func() (model.JournalEntry, error) {
			return Capture(paymentOrderID, amount, acc.AuthReceivable, acc.AuthLiability, acc.Merchant, acc.PSPReceivable)
		},
		func() (model.JournalEntry, error) {
			return Settlement(paymentOrderID, amount, acc.Acquirer, acc.PSPReceivable)
		},
		func() (model.JournalEntry, error) {
			return Fee(paymentOrderID, fee, acc.Merchant, acc.FeeRevenue)
		},
		func() (model.JournalEntry, error) {
			return Payout(paymentOrderID, amount-fee, acc.Merchant, acc.Acquirer)
		},
	}
	for _, step := range steps {
		e, err := step()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Validate checks the structural and balance invariants of an entry.
func Validate(e model.JournalEntry) error {
	if e.ID == "" {
		return fmt.Errorf("%w: entry id is required", ErrInvalidPosting)
	}
	if len(e.Postings) < 2 {
		return fmt.Errorf("%w: entry %s has %d postings, need at least 2",
			ErrInvalidPosting, e.ID, len(e.Postings))
	}

	debits := make(map[string]int64)
	credits := make(map[string]int64)

	for i, p := range e.Postings {
		if p.Account.Code == "" {
			return fmt.Errorf("%w: entry %s posting %d has no account", ErrInvalidPosting, e.ID, i)
		}
		if err := checkAccount(p.Account); err != nil {
			return fmt.Errorf("%w: entry %s posting %d: %w", ErrInvalidPosting, e.ID, i, err)
		}
		if p.Amount < 0 {
			return fmt.Errorf("%w: entry %s posting %d has negative amount %d",
				ErrInvalidPosting, e.ID, i, p.Amount)
		}
		if p.Currency != p.Account.Currency {
			return fmt.Errorf("%w: entry %s posting %d currency %s does not match account %s",
				ErrInvalidPosting, e.ID, i, p.Currency, p.Account.Code)
		}
		switch p.Direction {
		case model.Debit:
			debits[p.Currency] += p.Amount
		case model.Credit:
			credits[p.Currency] += p.Amount
		default:
			return fmt.Errorf("%w: entry %s posting %d has direction %q",
				ErrInvalidPosting, e.ID, i, p.Direction)
		}
	}

	for ccy, dr := range debits {
		if credits[ccy] != dr {
			return fmt.Errorf("%w: entry %s %s debits=%d credits=%d",
				ErrUnbalanced, e.ID, ccy, dr, credits[ccy])
		}
	}
	for ccy, cr := range credits {
		if _, ok := debits[ccy]; !ok {
			return fmt.Errorf("%w: entry %s %s debits=0 credits=%d", ErrUnbalanced, e.ID, ccy, cr)
		}
	}
	return nil
}

// checkAccount ties an account's type, category and currency to its code.
// The balance sign is derived from the category, so a category that
// disagrees with the type would invert the account's movements.
func checkAccount(a model.Account) error {
	c, err := account.Parse(a.Code)
	if err != nil {
		return err
	}
	if a.Type != c.Type || a.Category != c.Category || a.Currency != c.Currency {
		return fmt.Errorf("account %s declared as %s/%s/%s, expected %s/%s/%s",
			a.Code, a.Type, a.Category, a.Currency, c.Type, c.Category, c.Currency)
	}
	return nil
}

// newEntry is the only way entries leave this package: validated once.
func newEntry(id string, txType model.TxType, name string, postings ...model.Posting) (model.JournalEntry, error) {
	for _, p := range postings {
		if p.Amount <= 0 {
			return model.JournalEntry{}, fmt.Errorf("%w: %s amount must be positive, got %d",
				ErrInvalidPosting, id, p.Amount)
		}
	}
	e := model.JournalEntry{
		ID:       id,
		TxType:   txType,
		Name:     name,
		Postings: postings,
	}
	if err := Validate(e); err != nil {
		return model.JournalEntry{}, err
	}
	return e, nil
}

func debit(a model.Account, amount int64) model.Posting {
	return model.Posting{Account: a, Amount: amount, Direction: model.Debit, Currency: a.Currency}
}

func credit(a model.Account, amount int64) model.Posting {
	return model.Posting{Account: a, Amount: amount, Direction: model.Credit, Currency: a.Currency}
}
