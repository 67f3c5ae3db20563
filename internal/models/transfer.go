package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transfer moves money between two cash accounts.
type Transfer struct {
	ID            string          `json:"id"`
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Direction selects which side of a transfer an account is on.
type Direction uint8

const (
	DirectionOut Direction = iota + 1
	DirectionIn
)

func (d Direction) String() string {
	switch d {
	case DirectionOut:
		return "out"
	case DirectionIn:
		return "in"
	}
	return "unknown"
}
