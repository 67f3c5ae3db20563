package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
)

// Store is an in-memory implementation of every store contract the
// ledger consumes. It is safe for concurrent use and hands out copies so
// callers can't modify internal state.
type Store struct {
	mu           sync.RWMutex
	accounts     map[string]models.Account
	cards        map[string]models.CreditCard
	transactions map[string]models.Transaction
	transfers    map[string]models.Transfer
}

func NewStore() *Store {
	return &Store{
		accounts:     make(map[string]models.Account),
		cards:        make(map[string]models.CreditCard),
		transactions: make(map[string]models.Transaction),
		transfers:    make(map[string]models.Transfer),
	}
}

// PutAccount creates or replaces an account.
func (s *Store) PutAccount(a models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

// PutCard creates or replaces a credit card.
func (s *Store) PutCard(c models.CreditCard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[c.ID] = c
}

// SaveTransaction creates or replaces a transaction.
func (s *Store) SaveTransaction(tx models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = cloneTransaction(tx)
}

// DeleteTransaction removes a transaction; unknown ids are ignored.
func (s *Store) DeleteTransaction(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transactions, id)
}

// SaveTransfer creates or replaces a transfer.
func (s *Store) SaveTransfer(t models.Transfer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers[t.ID] = t
}

func (s *Store) GetAccount(ctx context.Context, id string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	return a, nil
}

func (s *Store) ListAccountsByOwner(ctx context.Context, ownerID string) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Account
	for _, a := range s.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListOwnerIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, a := range s.accounts {
		if _, ok := seen[a.OwnerID]; ok {
			continue
		}
		seen[a.OwnerID] = struct{}{}
		out = append(out, a.OwnerID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal, reconciledThrough civil.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	a.Balance = balance
	a.ReconciledThrough = reconciledThrough
	s.accounts[id] = a
	return nil
}

func (s *Store) GetCard(ctx context.Context, id string) (models.CreditCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cards[id]
	if !ok {
		return models.CreditCard{}, fmt.Errorf("credit card %s: %w", id, models.ErrNotFound)
	}
	return c, nil
}

func (s *Store) UpdateUsedLimit(ctx context.Context, id string, used decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cards[id]
	if !ok {
		return fmt.Errorf("credit card %s: %w", id, models.ErrNotFound)
	}
	c.UsedLimit = used
	s.cards[id] = c
	return nil
}

func (s *Store) InsertTransactions(ctx context.Context, txs []models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range txs {
		if _, exists := s.transactions[tx.ID]; exists {
			return fmt.Errorf("transaction %s already exists", tx.ID)
		}
	}
	for _, tx := range txs {
		s.transactions[tx.ID] = cloneTransaction(tx)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, filter interfaces.TransactionFilter, page interfaces.PageRequest) (interfaces.TransactionPage, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.TransactionPage{}, err
	}
	s.mu.RLock()
	var matched []models.Transaction
	for _, tx := range s.transactions {
		if matchesTransaction(tx, filter) {
			matched = append(matched, cloneTransaction(tx))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Date != matched[j].Date {
			return matched[i].Date.Before(matched[j].Date)
		}
		return matched[i].ID < matched[j].ID
	})

	items, next, err := paginate(matched, page)
	if err != nil {
		return interfaces.TransactionPage{}, err
	}
	return interfaces.TransactionPage{Items: items, NextCursor: next}, nil
}

func (s *Store) ListTransfers(ctx context.Context, accountID string, dir models.Direction, dates interfaces.DateRange, page interfaces.PageRequest) (interfaces.TransferPage, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.TransferPage{}, err
	}
	s.mu.RLock()
	var matched []models.Transfer
	for _, t := range s.transfers {
		side := t.FromAccountID
		if dir == models.DirectionIn {
			side = t.ToAccountID
		}
		if side != accountID || !dates.Contains(civil.DateOf(t.CreatedAt.UTC())) {
			continue
		}
		matched = append(matched, t)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	items, next, err := paginate(matched, page)
	if err != nil {
		return interfaces.TransferPage{}, err
	}
	return interfaces.TransferPage{Items: items, NextCursor: next}, nil
}

func matchesTransaction(tx models.Transaction, f interfaces.TransactionFilter) bool {
	if f.AccountID != "" && tx.AccountID != f.AccountID {
		return false
	}
	if f.CreditCardID != "" && tx.CreditCardID != f.CreditCardID {
		return false
	}
	if f.UserID != "" && tx.UserID != f.UserID {
		return false
	}
	return f.Dates.Contains(tx.Date)
}

// paginate slices items by an offset cursor.
func paginate[T any](items []T, page interfaces.PageRequest) ([]T, string, error) {
	offset := 0
	if page.Cursor != "" {
		n, err := strconv.Atoi(page.Cursor)
		if err != nil || n < 0 {
			return nil, "", fmt.Errorf("%w: bad cursor %q", models.ErrValidation, page.Cursor)
		}
		offset = n
	}
	if offset >= len(items) {
		return nil, "", nil
	}
	end := len(items)
	if page.Limit > 0 && offset+page.Limit < end {
		end = offset + page.Limit
	}
	next := ""
	if end < len(items) {
		next = strconv.Itoa(end)
	}
	return items[offset:end], next, nil
}

func cloneTransaction(tx models.Transaction) models.Transaction {
	if tx.Installment != nil {
		ref := *tx.Installment
		tx.Installment = &ref
	}
	if tx.Recurrence != nil {
		rec := *tx.Recurrence
		tx.Recurrence = &rec
	}
	if tx.Metadata != nil {
		tx.Metadata = append([]byte(nil), tx.Metadata...)
	}
	return tx
}

// Compile-time check: ensure Store implements every store interface
var (
	_ interfaces.AccountStore      = (*Store)(nil)
	_ interfaces.CardStore         = (*Store)(nil)
	_ interfaces.TransactionStore  = (*Store)(nil)
	_ interfaces.TransactionWriter = (*Store)(nil)
	_ interfaces.TransferLog       = (*Store)(nil)
)
