package models

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Account is a cash account. Balance is derived from the account's
// history and cached here by the reconciler.
type Account struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Name           string          `json:"name,omitempty"`
	Balance        decimal.Decimal `json:"balance"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	CreatedOn      civil.Date      `json:"created_on"`

	// ReconciledThrough is the last day included in Balance. The zero
	// value means the account was never reconciled.
	ReconciledThrough civil.Date `json:"reconciled_through"`
}

// Reconciled reports whether the account has been reconciled at least once.
func (a Account) Reconciled() bool {
	return a.ReconciledThrough.IsValid()
}
