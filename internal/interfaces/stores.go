package interfaces

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
)

// DateRange bounds a listing by calendar day. Zero ends are open.
type DateRange struct {
	From civil.Date
	To   civil.Date
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d civil.Date) bool {
	if r.From.IsValid() && d.Before(r.From) {
		return false
	}
	if r.To.IsValid() && d.After(r.To) {
		return false
	}
	return true
}

// PageRequest asks for one page of a listing. An empty Cursor starts at
// the beginning.
type PageRequest struct {
	Cursor string
	Limit  int
}

// TransactionFilter selects transactions by account, card or owner.
// Exactly one of AccountID, CreditCardID and UserID is expected.
type TransactionFilter struct {
	AccountID    string
	CreditCardID string
	UserID       string
	Dates        DateRange
}

type TransactionPage struct {
	Items      []models.Transaction
	NextCursor string
}

type TransferPage struct {
	Items      []models.Transfer
	NextCursor string
}

// TransactionStore is the paginated, append-mostly transaction store.
type TransactionStore interface {
	ListTransactions(ctx context.Context, filter TransactionFilter, page PageRequest) (TransactionPage, error)
}

// TransactionWriter persists newly created transactions as one batch.
type TransactionWriter interface {
	InsertTransactions(ctx context.Context, txs []models.Transaction) error
}

// TransferLog lists completed and non-completed transfers touching an account.
type TransferLog interface {
	ListTransfers(ctx context.Context, accountID string, dir models.Direction, dates DateRange, page PageRequest) (TransferPage, error)
}

// AccountStore reads accounts and writes their derived balance.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (models.Account, error)
	ListAccountsByOwner(ctx context.Context, ownerID string) ([]models.Account, error)
	ListOwnerIDs(ctx context.Context) ([]string, error)
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal, reconciledThrough civil.Date) error
}

// CardStore reads credit cards and writes their derived used limit.
type CardStore interface {
	GetCard(ctx context.Context, id string) (models.CreditCard, error)
	UpdateUsedLimit(ctx context.Context, id string, used decimal.Decimal) error
}
