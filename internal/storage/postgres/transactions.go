package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/lib/pq"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
)

const transactionColumns = `id, user_id, account_id, credit_card_id, amount, type, date, status,
	description, installment_index, installment_count, recurrence, metadata`

// uniqueViolation is the postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// scanTransaction reads one row. Unknown type or status strings are kept
// as zero values so the record fails Validate and gets skipped by the
// fold instead of failing the whole listing.
func scanTransaction(row rowScanner) (models.Transaction, error) {
	var (
		tx                models.Transaction
		accountID, cardID sql.NullString
		typ, status       string
		date              time.Time
		index, count      sql.NullInt32
		recurrence        []byte
		metadata          []byte
	)
	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&accountID,
		&cardID,
		&tx.Amount,
		&typ,
		&date,
		&status,
		&tx.Description,
		&index,
		&count,
		&recurrence,
		&metadata,
	)
	if err != nil {
		return models.Transaction{}, err
	}

	tx.AccountID = accountID.String
	tx.CreditCardID = cardID.String
	tx.Date = civil.DateOf(date)
	tx.Type, _ = models.ParseTransactionType(typ)
	tx.Status, _ = models.ParseStatus(status)
	if index.Valid && count.Valid {
		tx.Installment = &models.InstallmentRef{Index: int(index.Int32), Count: int(count.Int32)}
	}
	if len(recurrence) > 0 {
		var r models.Recurrence
		if err := json.Unmarshal(recurrence, &r); err == nil {
			tx.Recurrence = &r
		}
	}
	if len(metadata) > 0 {
		tx.Metadata = json.RawMessage(metadata)
	}
	return tx, nil
}

func (p *PostgresStore) ListTransactions(ctx context.Context, filter interfaces.TransactionFilter, page interfaces.PageRequest) (interfaces.TransactionPage, error) {
	var w where
	if filter.AccountID != "" {
		w.add("account_id = ?", filter.AccountID)
	}
	if filter.CreditCardID != "" {
		w.add("credit_card_id = ?", filter.CreditCardID)
	}
	if filter.UserID != "" {
		w.add("user_id = ?", filter.UserID)
	}
	if filter.Dates.From.IsValid() {
		w.add("date >= ?", filter.Dates.From.In(time.UTC))
	}
	if filter.Dates.To.IsValid() {
		w.add("date <= ?", filter.Dates.To.In(time.UTC))
	}
	if page.Cursor != "" {
		d, id, err := decodeTransactionCursor(page.Cursor)
		if err != nil {
			return interfaces.TransactionPage{}, err
		}
		w.add("(date, id) > (?, ?)", d.In(time.UTC), id)
	}

	limit := pageLimit(page)
	query := `SELECT ` + transactionColumns + ` FROM transactions` + w.String() +
		` ORDER BY date, id LIMIT ` + w.arg(limit+1)

	rows, err := p.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return interfaces.TransactionPage{}, err
	}
	defer rows.Close()

	var items []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return interfaces.TransactionPage{}, err
		}
		items = append(items, tx)
	}
	if err := rows.Err(); err != nil {
		return interfaces.TransactionPage{}, err
	}

	var next string
	if len(items) > limit {
		items = items[:limit]
		next = transactionCursor(items[limit-1])
	}
	return interfaces.TransactionPage{Items: items, NextCursor: next}, nil
}

// InsertTransactions writes the batch in one database transaction; a
// duplicate id rolls back the whole batch.
func (p *PostgresStore) InsertTransactions(ctx context.Context, txs []models.Transaction) error {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	for _, tx := range txs {
		err = p.insertTransaction(ctx, dbTx, tx)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				err = fmt.Errorf("%w: transaction %s already exists", models.ErrValidation, tx.ID)
			}
			return err
		}
	}
	err = dbTx.Commit()
	return err
}

func (p *PostgresStore) insertTransaction(ctx context.Context, dbTx *sql.Tx, tx models.Transaction) error {
	const query = `INSERT INTO transactions (` + transactionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	args, err := transactionArgs(tx)
	if err != nil {
		return err
	}
	_, err = dbTx.ExecContext(ctx, query, args...)
	return err
}

// transactionArgs flattens a transaction into insert arguments. JSON
// columns are sent as text since lib/pq encodes []byte as bytea.
func transactionArgs(tx models.Transaction) ([]any, error) {
	var index, count sql.NullInt32
	if tx.Installment != nil {
		index = sql.NullInt32{Int32: int32(tx.Installment.Index), Valid: true}
		count = sql.NullInt32{Int32: int32(tx.Installment.Count), Valid: true}
	}
	var recurrence sql.NullString
	if tx.Recurrence != nil {
		b, err := json.Marshal(tx.Recurrence)
		if err != nil {
			return nil, err
		}
		recurrence = sql.NullString{String: string(b), Valid: true}
	}
	var metadata sql.NullString
	if len(tx.Metadata) > 0 {
		metadata = sql.NullString{String: string(tx.Metadata), Valid: true}
	}
	return []any{
		tx.ID,
		tx.UserID,
		sql.NullString{String: tx.AccountID, Valid: tx.AccountID != ""},
		sql.NullString{String: tx.CreditCardID, Valid: tx.CreditCardID != ""},
		tx.Amount,
		tx.Type.String(),
		tx.Date.In(time.UTC),
		tx.Status.String(),
		tx.Description,
		index,
		count,
		recurrence,
		metadata,
	}, nil
}
