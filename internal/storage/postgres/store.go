package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
)

// maxPageSize caps a single listing query when the caller asks for more
// or for no limit at all.
const maxPageSize = 1000

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, models.ErrNotFound)
	}
	return err
}

const accountColumns = `id, owner_id, name, balance, initial_balance, created_on, reconciled_through`

func scanAccount(row rowScanner) (models.Account, error) {
	var (
		a          models.Account
		createdOn  time.Time
		reconciled sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Balance, &a.InitialBalance, &createdOn, &reconciled); err != nil {
		return models.Account{}, err
	}
	a.CreatedOn = civil.DateOf(createdOn)
	if reconciled.Valid {
		a.ReconciledThrough = civil.DateOf(reconciled.Time)
	}
	return a, nil
}

func (p *PostgresStore) GetAccount(ctx context.Context, id string) (models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	a, err := scanAccount(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.Account{}, notFound(err, "account", id)
	}
	return a, nil
}

func (p *PostgresStore) ListAccountsByOwner(ctx context.Context, ownerID string) ([]models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 ORDER BY id`

	rows, err := p.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (p *PostgresStore) ListOwnerIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT owner_id FROM accounts ORDER BY owner_id`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

// UpdateBalance writes the derived balance and the day it covers in a
// single statement.
func (p *PostgresStore) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal, reconciledThrough civil.Date) error {
	const query = `UPDATE accounts SET balance = $2, reconciled_through = $3 WHERE id = $1`

	res, err := p.db.ExecContext(ctx, query, id, balance, reconciledThrough.In(time.UTC))
	if err != nil {
		return err
	}
	return expectOne(res, "account", id)
}

// PutAccount inserts or replaces an account.
func (p *PostgresStore) PutAccount(ctx context.Context, a models.Account) error {
	const query = `INSERT INTO accounts (` + accountColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET owner_id = EXCLUDED.owner_id, name = EXCLUDED.name,
		balance = EXCLUDED.balance, initial_balance = EXCLUDED.initial_balance,
		created_on = EXCLUDED.created_on, reconciled_through = EXCLUDED.reconciled_through`

	_, err := p.db.ExecContext(ctx, query, a.ID, a.OwnerID, a.Name, a.Balance, a.InitialBalance, a.CreatedOn.In(time.UTC), nullDate(a.ReconciledThrough))
	return err
}

const cardColumns = `id, account_id, owner_id, name, closing_day, due_day, credit_limit, used_limit`

func (p *PostgresStore) GetCard(ctx context.Context, id string) (models.CreditCard, error) {
	const query = `SELECT ` + cardColumns + ` FROM credit_cards WHERE id = $1`

	var c models.CreditCard
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.AccountID,
		&c.OwnerID,
		&c.Name,
		&c.ClosingDay,
		&c.DueDay,
		&c.CreditLimit,
		&c.UsedLimit,
	)
	if err != nil {
		return models.CreditCard{}, notFound(err, "credit card", id)
	}
	return c, nil
}

func (p *PostgresStore) UpdateUsedLimit(ctx context.Context, id string, used decimal.Decimal) error {
	const query = `UPDATE credit_cards SET used_limit = $2 WHERE id = $1`

	res, err := p.db.ExecContext(ctx, query, id, used)
	if err != nil {
		return err
	}
	return expectOne(res, "credit card", id)
}

// PutCard inserts or replaces a credit card.
func (p *PostgresStore) PutCard(ctx context.Context, c models.CreditCard) error {
	const query = `INSERT INTO credit_cards (` + cardColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET account_id = EXCLUDED.account_id, owner_id = EXCLUDED.owner_id,
		name = EXCLUDED.name, closing_day = EXCLUDED.closing_day, due_day = EXCLUDED.due_day,
		credit_limit = EXCLUDED.credit_limit, used_limit = EXCLUDED.used_limit`

	_, err := p.db.ExecContext(ctx, query, c.ID, c.AccountID, c.OwnerID, c.Name, c.ClosingDay, c.DueDay, c.CreditLimit, c.UsedLimit)
	return err
}

func expectOne(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, models.ErrNotFound)
	}
	return nil
}

func nullDate(d civil.Date) sql.NullTime {
	if !d.IsValid() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: d.In(time.UTC), Valid: true}
}

func pageLimit(page interfaces.PageRequest) int {
	if page.Limit <= 0 || page.Limit > maxPageSize {
		return maxPageSize
	}
	return page.Limit
}

// Compile-time check: ensure PostgresStore implements every store interface
var (
	_ interfaces.AccountStore      = (*PostgresStore)(nil)
	_ interfaces.CardStore         = (*PostgresStore)(nil)
	_ interfaces.TransactionStore  = (*PostgresStore)(nil)
	_ interfaces.TransactionWriter = (*PostgresStore)(nil)
	_ interfaces.TransferLog       = (*PostgresStore)(nil)
)
