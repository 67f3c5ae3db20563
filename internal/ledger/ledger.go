package ledger

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/clock"
	interfaces "github.com/sheikh-saqib/card-ledger-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models/events"
)

// Stores groups the collaborators the reconciler reads from and writes to.
type Stores struct {
	Accounts     interfaces.AccountStore
	Cards        interfaces.CardStore
	Transactions interfaces.TransactionStore
	Transfers    interfaces.TransferLog
}

// Reconciler derives balances from history instead of patching counters.
// Every call re-reads the full eligible history of the account, so its
// cost grows with history size but its result never depends on how many
// times it ran before.
type Reconciler struct {
	stores    Stores
	publisher interfaces.EventPublisher // optional
	clock     clock.Clock
	fetch     Fetcher
	log       zerolog.Logger

	accounts *gate
	cards    *gate
}

// NewReconciler wires a reconciler. publisher may be nil.
func NewReconciler(stores Stores, publisher interfaces.EventPublisher, clk clock.Clock, log zerolog.Logger, opts Options) *Reconciler {
	log = log.With().Str("component", "reconciler").Logger()
	r := &Reconciler{
		stores:    stores,
		publisher: publisher,
		clock:     clk,
		fetch:     NewFetcher(opts, log),
		log:       log,
	}
	r.accounts = newGate(r.recompute, log)
	r.cards = newGate(r.recomputeCardUsage, log)
	return r
}

// Today is the cutoff day used for eligibility.
func (r *Reconciler) Today() civil.Date {
	return clock.Today(r.clock, r.fetch.opts.Location)
}

// Recompute rebuilds an account's cash balance from its transactions and
// completed transfers and stores it. Concurrent calls for the same
// account are serialized and coalesced. On any error the stored balance
// is left untouched.
func (r *Reconciler) Recompute(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return r.accounts.Do(ctx, accountID)
}

// Wait blocks until all in-flight recomputes have finished.
func (r *Reconciler) Wait() {
	r.accounts.Wait()
	r.cards.Wait()
}

func (r *Reconciler) recompute(ctx context.Context, accountID string) (decimal.Decimal, error) {
	log := r.log.With().Str("account_id", accountID).Logger()
	started := time.Now()

	var acct models.Account
	err := r.fetch.Do(ctx, "get account", func(ctx context.Context) error {
		var err error
		acct, err = r.stores.Accounts.GetAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("recompute %s: %w", accountID, err)
	}

	today := r.Today()
	upToToday := interfaces.DateRange{To: today}

	txs, err := r.fetch.Transactions(ctx, r.stores.Transactions, interfaces.TransactionFilter{AccountID: accountID, Dates: upToToday})
	if err != nil {
		return decimal.Zero, fmt.Errorf("recompute %s: %w", accountID, err)
	}
	outgoing, err := r.fetch.Transfers(ctx, r.stores.Transfers, accountID, models.DirectionOut, upToToday)
	if err != nil {
		return decimal.Zero, fmt.Errorf("recompute %s: %w", accountID, err)
	}
	incoming, err := r.fetch.Transfers(ctx, r.stores.Transfers, accountID, models.DirectionIn, upToToday)
	if err != nil {
		return decimal.Zero, fmt.Errorf("recompute %s: %w", accountID, err)
	}

	f := newFold(today, r.fetch.opts.Location, log)
	f.transactions(withOpening(acct, txs, today))
	f.transfers(outgoing, models.DirectionOut)
	f.transfers(incoming, models.DirectionIn)

	err = r.fetch.Do(ctx, "update balance", func(ctx context.Context) error {
		return r.stores.Accounts.UpdateBalance(ctx, acct.ID, f.balance, today)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("recompute %s: %w", accountID, err)
	}

	log.Info().
		Str("balance", f.balance.StringFixed(2)).
		Str("previous", acct.Balance.StringFixed(2)).
		Str("through", today.String()).
		Int("included", f.stats.Included).
		Int("card_linked", f.stats.CardLinked).
		Int("future", f.stats.Future).
		Int("malformed", f.stats.Malformed).
		Dur("took", time.Since(started)).
		Msg("balance recomputed")

	r.publishBalance(ctx, log, acct.ID, f.balance, today)
	return f.balance, nil
}

func (r *Reconciler) publishBalance(ctx context.Context, log zerolog.Logger, accountID string, balance decimal.Decimal, through civil.Date) {
	if r.publisher == nil {
		return
	}
	ev := events.BalanceRecomputed{
		EventID:           uuid.NewString(),
		AccountID:         accountID,
		Balance:           balance,
		ReconciledThrough: through,
		OccurredAt:        r.clock.Now().UTC(),
	}
	if err := r.publisher.Publish(ctx, events.TopicBalanceRecomputed, ev); err != nil {
		log.Warn().Err(err).Msg("publishing balance event failed")
	}
}

// AccountFailure records why one account of a batch failed.
type AccountFailure struct {
	AccountID string `json:"account_id"`
	Error     string `json:"error"`
}

// BatchResult reports per-account outcomes of a batch recompute.
type BatchResult struct {
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Failures  []AccountFailure `json:"failures,omitempty"`
}

// RecomputeAll recomputes every account the user owns. A failing account
// is logged and counted; it never stops the others. Only a failure to
// list the accounts is returned as an error.
func (r *Reconciler) RecomputeAll(ctx context.Context, userID string) (BatchResult, error) {
	var accounts []models.Account
	err := r.fetch.Do(ctx, "list accounts", func(ctx context.Context) error {
		var err error
		accounts, err = r.stores.Accounts.ListAccountsByOwner(ctx, userID)
		return err
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("recompute all %s: %w", userID, err)
	}

	var res BatchResult
	for _, a := range accounts {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if _, err := r.Recompute(ctx, a.ID); err != nil {
			r.log.Warn().Err(err).Str("user_id", userID).Str("account_id", a.ID).Msg("account recompute failed, continuing")
			res.Failed++
			res.Failures = append(res.Failures, AccountFailure{AccountID: a.ID, Error: err.Error()})
			continue
		}
		res.Succeeded++
	}

	r.log.Info().Str("user_id", userID).Int("succeeded", res.Succeeded).Int("failed", res.Failed).Msg("batch recompute finished")
	return res, nil
}

// openingNamespace scopes deterministic ids of opening-balance transactions.
var openingNamespace = uuid.MustParse("5b0f6d8e-3f55-4c1e-9f53-0c8e2a7d4b11")

// OpeningTransaction is the synthetic transaction that carries an
// account's initial balance into its ledger. Its id is derived from the
// account id so creating it twice yields the same row. ok is false when
// the initial balance is zero.
func OpeningTransaction(acct models.Account) (tx models.Transaction, ok bool) {
	if acct.InitialBalance.IsZero() {
		return models.Transaction{}, false
	}
	typ := models.TypeIncome
	if acct.InitialBalance.IsNegative() {
		typ = models.TypeExpense
	}
	return models.Transaction{
		ID:          uuid.NewSHA1(openingNamespace, []byte("opening:"+acct.ID)).String(),
		UserID:      acct.OwnerID,
		AccountID:   acct.ID,
		Amount:      acct.InitialBalance.Abs(),
		Type:        typ,
		Date:        acct.CreatedOn,
		Status:      models.StatusCompleted,
		Description: "Initial balance",
	}, true
}

// withOpening adds the account's opening transaction to txs unless a row
// with its id was already stored. An account without a creation day has
// held its initial balance since before today.
func withOpening(acct models.Account, txs []models.Transaction, today civil.Date) []models.Transaction {
	opening, ok := OpeningTransaction(acct)
	if !ok {
		return txs
	}
	for _, tx := range txs {
		if tx.ID == opening.ID {
			return txs
		}
	}
	if !opening.Date.IsValid() {
		opening.Date = today
	}
	return append(txs, opening)
}
