package models

import "github.com/shopspring/decimal"

// CreditCard is a card ledger attached to a cash account.
type CreditCard struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	OwnerID     string          `json:"owner_id"`
	Name        string          `json:"name,omitempty"`
	ClosingDay  int             `json:"closing_day"`
	DueDay      int             `json:"due_day"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	UsedLimit   decimal.Decimal `json:"used_limit"`
}

// AvailableLimit is the part of the credit limit not yet consumed.
func (c CreditCard) AvailableLimit() decimal.Decimal {
	return c.CreditLimit.Sub(c.UsedLimit)
}
