// Package account handles account code formatting and parsing.
// Account codes are globally unique: {TYPE}.{entityID}.{CCY}
package account

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/atmx/payment-ledger/internal/model"
)

// codeRegex matches: {TYPE}.{entityID}.{CCY}
// Example: MERCHANT_ACCOUNT.seller-42.EUR
var codeRegex = regexp.MustCompile(
	`^([A-Z][A-Z_]*)\.([A-Za-z0-9_-]+)\.([A-Z]{3})$`,
)

var (
	ErrInvalidCode = errors.New("account: invalid account code format")
	ErrUnknownType = errors.New("account: unknown account type")
)

// Code is a parsed account code.
type Code struct {
	Type     model.AccountType `json:"type"`
	EntityID string            `json:"entity_id"`
	Currency string            `json:"currency"`
	Category model.Category    `json:"category"`
}

// String renders the code in its canonical form.
func (c Code) String() string {
	return Format(c.Type, c.EntityID, c.Currency)
}

// Format builds the canonical account code. It does not validate.
func Format(t model.AccountType, entityID, currency string) string {
	return fmt.Sprintf("%s.%s.%s", t, entityID, currency)
}

// Parse parses and validates an account code.
func Parse(code string) (Code, error) {
	matches := codeRegex.FindStringSubmatch(code)
	if matches == nil {
		return Code{}, fmt.Errorf("%w: %s (expected {TYPE}.{entity}.{CCY})",
			ErrInvalidCode, code)
	}

	t := model.AccountType(matches[1])
	category, ok := t.Category()
	if !ok {
		return Code{}, fmt.Errorf("%w: %s", ErrUnknownType, matches[1])
	}

	return Code{
		Type:     t,
		EntityID: matches[2],
		Currency: matches[3],
		Category: category,
	}, nil
}

// NewProfile builds the profile of a freshly created account.
func NewProfile(t model.AccountType, entityID, currency string) (model.AccountProfile, error) {
	c, err := Parse(Format(t, entityID, currency))
	if err != nil {
		return model.AccountProfile{}, err
	}
	return model.AccountProfile{
		AccountCode: c.String(),
		Type:        c.Type,
		EntityID:    c.EntityID,
		Category:    c.Category,
		Currency:    c.Currency,
		Status:      model.AccountActive,
	}, nil
}
