package postgres

import (
	"context"
	"time"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
)

const transferColumns = `id, from_account_id, to_account_id, amount, status, created_at`

func scanTransfer(row rowScanner) (models.Transfer, error) {
	var (
		t      models.Transfer
		status string
	)
	if err := row.Scan(&t.ID, &t.FromAccountID, &t.ToAccountID, &t.Amount, &status, &t.CreatedAt); err != nil {
		return models.Transfer{}, err
	}
	t.Status, _ = models.ParseStatus(status)
	return t, nil
}

// ListTransfers pages through the transfers on one side of an account.
// Date bounds apply to the UTC calendar day of created_at.
func (p *PostgresStore) ListTransfers(ctx context.Context, accountID string, dir models.Direction, dates interfaces.DateRange, page interfaces.PageRequest) (interfaces.TransferPage, error) {
	var w where
	switch dir {
	case models.DirectionIn:
		w.add("to_account_id = ?", accountID)
	default:
		w.add("from_account_id = ?", accountID)
	}
	if dates.From.IsValid() {
		w.add("created_at >= ?", dates.From.In(time.UTC))
	}
	if dates.To.IsValid() {
		w.add("created_at < ?", dates.To.AddDays(1).In(time.UTC))
	}
	if page.Cursor != "" {
		at, id, err := decodeTransferCursor(page.Cursor)
		if err != nil {
			return interfaces.TransferPage{}, err
		}
		w.add("(created_at, id) > (?, ?)", at, id)
	}

	limit := pageLimit(page)
	query := `SELECT ` + transferColumns + ` FROM transfers` + w.String() +
		` ORDER BY created_at, id LIMIT ` + w.arg(limit+1)

	rows, err := p.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return interfaces.TransferPage{}, err
	}
	defer rows.Close()

	var items []models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return interfaces.TransferPage{}, err
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return interfaces.TransferPage{}, err
	}

	var next string
	if len(items) > limit {
		items = items[:limit]
		next = transferCursor(items[limit-1])
	}
	return interfaces.TransferPage{Items: items, NextCursor: next}, nil
}

// SaveTransfer records a transfer, replacing any row with the same id.
func (p *PostgresStore) SaveTransfer(ctx context.Context, t models.Transfer) error {
	const query = `INSERT INTO transfers (` + transferColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, amount = EXCLUDED.amount`

	_, err := p.db.ExecContext(ctx, query, t.ID, t.FromAccountID, t.ToAccountID, t.Amount, t.Status.String(), t.CreatedAt)
	return err
}
