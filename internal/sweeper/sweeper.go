// Package sweeper promotes transactions whose date has arrived into the
// reconciled balances of their accounts.
package sweeper

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/ledger"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
)

// Recomputer is the part of the reconciler the sweeper drives.
type Recomputer interface {
	Recompute(ctx context.Context, accountID string) (decimal.Decimal, error)
	Today() civil.Date
}

// Sweeper finds accounts holding records that were future-dated at their
// last reconciliation and are due now, and recomputes each one once.
type Sweeper struct {
	accounts     interfaces.AccountStore
	transactions interfaces.TransactionStore
	transfers    interfaces.TransferLog
	rec          Recomputer
	fetch        ledger.Fetcher
	log          zerolog.Logger
}

func New(stores ledger.Stores, rec Recomputer, fetch ledger.Fetcher, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		accounts:     stores.Accounts,
		transactions: stores.Transactions,
		transfers:    stores.Transfers,
		rec:          rec,
		fetch:        fetch,
		log:          log.With().Str("component", "sweeper").Logger(),
	}
}

// ProcessDue recomputes every account of userID that has a record dated
// after its last reconciliation day and no later than today. It returns
// how many accounts were recomputed. Running it again on the same day
// finds nothing and returns 0. Per-account failures do not stop the
// sweep; they are joined into the returned error.
func (s *Sweeper) ProcessDue(ctx context.Context, userID string) (int, error) {
	var accounts []models.Account
	err := s.fetch.Do(ctx, "list accounts", func(ctx context.Context) error {
		var err error
		accounts, err = s.accounts.ListAccountsByOwner(ctx, userID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("process due %s: %w", userID, err)
	}

	today := s.rec.Today()
	var (
		updated int
		errs    []error
	)
	for _, acct := range accounts {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		due, err := s.hasDue(ctx, acct, today)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", acct.ID, err))
			continue
		}
		if !due {
			continue
		}
		if _, err := s.rec.Recompute(ctx, acct.ID); err != nil {
			s.log.Warn().Err(err).Str("account_id", acct.ID).Msg("recompute of due account failed")
			errs = append(errs, fmt.Errorf("account %s: %w", acct.ID, err))
			continue
		}
		updated++
	}

	s.log.Info().Str("user_id", userID).Str("today", today.String()).Int("accounts_updated", updated).Int("failed", len(errs)).Msg("due sweep finished")
	return updated, errors.Join(errs...)
}

// hasDue reports whether acct has a cash-relevant record that became due
// since it was last reconciled.
func (s *Sweeper) hasDue(ctx context.Context, acct models.Account, today civil.Date) (bool, error) {
	window := interfaces.DateRange{To: today}
	if acct.Reconciled() {
		if !acct.ReconciledThrough.Before(today) {
			return false, nil
		}
		window.From = acct.ReconciledThrough.AddDays(1)
	}
	if opening, ok := ledger.OpeningTransaction(acct); ok {
		if opening.Date.IsValid() && window.Contains(opening.Date) || !opening.Date.IsValid() && !acct.Reconciled() {
			return true, nil
		}
	}

	txs, err := s.fetch.Transactions(ctx, s.transactions, interfaces.TransactionFilter{AccountID: acct.ID, Dates: window})
	if err != nil {
		return false, err
	}
	for _, tx := range txs {
		if countsTowardCash(tx) {
			return true, nil
		}
	}

	for _, dir := range []models.Direction{models.DirectionOut, models.DirectionIn} {
		ts, err := s.fetch.Transfers(ctx, s.transfers, acct.ID, dir, window)
		if err != nil {
			return false, err
		}
		for _, t := range ts {
			if t.Status == models.StatusCompleted {
				return true, nil
			}
		}
	}
	return false, nil
}

func countsTowardCash(tx models.Transaction) bool {
	if tx.Validate() != nil || tx.Status.Void() || tx.Type == models.TypeTransfer {
		return false
	}
	cardID, err := tx.CardID()
	return err == nil && cardID == ""
}
