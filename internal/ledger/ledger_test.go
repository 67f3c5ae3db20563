package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models/events"
)

func TestRecomputeExcludesFutureUntilDue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, day(2024, time.January, 8))

	acct := f.account(t, "acc-1", "user-1")
	acct.InitialBalance = dec("1000")
	opening, ok := OpeningTransaction(acct)
	require.True(t, ok)
	f.store.SaveTransaction(opening)
	f.tx("t-expense", "acc-1", models.TypeExpense, "200", day(2024, time.January, 5))
	f.tx("t-future", "acc-1", models.TypeIncome, "50", day(2024, time.January, 10))

	bal, err := f.rec.Recompute(ctx, "acc-1")
	require.NoError(t, err)
	requireDec(t, "800", bal)
	requireDec(t, "800", f.storedBalance(t, "acc-1"))

	stored, err := f.store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Equal(t, day(2024, time.January, 8), stored.ReconciledThrough)

	f.clock.Set(noon(day(2024, time.January, 10)))
	bal, err = f.rec.Recompute(ctx, "acc-1")
	require.NoError(t, err)
	requireDec(t, "850", bal)
}

func TestRecomputeFoldsInitialBalanceWithoutOpeningRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, day(2024, time.January, 8))

	acct := models.Account{ID: "acc-1", OwnerID: "user-1", InitialBalance: dec("1000"), CreatedOn: day(2024, time.January, 1)}
	f.store.PutAccount(acct)
	f.tx("t-expense", "acc-1", models.TypeExpense, "200", day(2024, time.January, 5))

	bal, err := f.rec.Recompute(ctx, "acc-1")
	require.NoError(t, err)
	requireDec(t, "800", bal)

	// Persisting the opening row later must not count it twice.
	opening, ok := OpeningTransaction(acct)
	require.True(t, ok)
	f.store.SaveTransaction(opening)
	bal, err = f.rec.Recompute(ctx, "acc-1")
	require.NoError(t, err)
	requireDec(t, "800", bal)

	f.store.PutAccount(models.Account{ID: "acc-new", OwnerID: "user-1", InitialBalance: dec("50")})
	bal, err = f.rec.Recompute(ctx, "acc-new")
	require.NoError(t, err)
	requireDec(t, "50", bal)

	f.store.PutAccount(models.Account{ID: "acc-later", OwnerID: "user-1", InitialBalance: dec("70"), CreatedOn: day(2024, time.January, 9)})
	bal, err = f.rec.Recompute(ctx, "acc-later")
	require.NoError(t, err)
	requireDec(t, "0", bal)
}

func TestRecomputeCutsTransfersOnLocalDay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	saoPaulo := time.FixedZone("BRT", -3*60*60)
	f := newFixture(t, day(2024, time.January, 10))
	f.clock.Set(time.Date(2024, time.January, 10, 23, 30, 0, 0, saoPaulo))
	opts := testOptions()
	opts.Location = saoPaulo
	rec := f.reconciler(f.store, f.store, opts)

	f.account(t, "acc-1", "user-1")
	f.account(t, "acc-2", "user-1")
	// 22:00 local is already January 11 in UTC.
	f.store.SaveTransfer(models.Transfer{ID: "tr-late", FromAccountID: "acc-2", ToAccountID: "acc-1", Amount: dec("100"), Status: models.StatusCompleted, CreatedAt: time.Date(2024, time.January, 10, 22, 0, 0, 0, saoPaulo)})
	f.store.SaveTransfer(models.Transfer{ID: "tr-tomorrow", FromAccountID: "acc-2", ToAccountID: "acc-1", Amount: dec("5"), Status: models.StatusCompleted, CreatedAt: time.Date(2024, time.January, 11, 0, 30, 0, 0, saoPaulo)})

	require.Equal(t, day(2024, time.January, 10), rec.Today())
	bal, err := rec.Recompute(ctx, "acc-1")
	require.NoError(t, err)
	requireDec(t, "100", bal)
}

func TestRecomputeMatchesIncomeMinusExpense(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, day(2025, time.June, 30))
	f.account(t, "acc-1", "user-1")

	rng := rand.New(rand.NewSource(42))
	types := []models.TransactionType{models.TypeIncome, models.TypeSalary, models.TypeExpense}
	want := decimal.Zero
	for i := 0; i < 37; i++ {
		typ := types[rng.Intn(len(types))]
		amount := decimal.New(rng.Int63n(500000), -2)
		f.tx(fmt.Sprintf("t-%02d", i), "acc-1", typ, amount.String(), day(2025, time.Month(1+rng.Intn(6)), 1+rng.Intn(28)))
		if typ == models.TypeExpense {
			want = want.Sub(amount)
		} else {
			want = want.Add(amount)
		}
	}

	first, err := f.rec.Recompute(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, want.Equal(first), "want %s, got %s", want, first)

	for i := 0; i < 3; i++ {
		again, err := f.rec.Recompute(ctx, "acc-1")
		require.NoError(t, err)
		require.True(t, first.Equal(again))
	}
}

func TestRecomputeIgnoresCardLinkedTransactions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, day(2025, time.March, 15))
	f.account(t, "acc-1", "user-1")
	f.tx("t-salary", "acc-1", models.TypeSalary, "3000", day(2025, time.March, 1))

	base, err := f.rec.Recompute(ctx, "acc-1")
	require.NoError(t, err)
	requireDec(t, "3000", base)

	card := f.tx("t-card", "acc-1", models.TypeExpense, "450", day(2025, time.March, 2))
	card.CreditCardID = "card-1"
	f.store.SaveTransaction(card)

	legacy := f.tx("t-legacy", "acc-1", models.TypeExpense, "99.90", day(2025, time.March, 3))
	legacy.Metadata = json.RawMessage(`{"creditCardId":"card-1","installmentLabel":"2/3"}`)
	f.store.SaveTransaction(legacy)

	bal, err := f.rec.Recompute(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, base.Equal(bal))

	f.store.DeleteTransaction("t-card")
	bal, err = f.rec.Recompute(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, base.Equal(bal))
}

func TestRecomputeSkipsMalformedAndVoid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, day(2025, time.March, 15))
	f.account(t, "acc-1", "user-1")
	f.tx("t-ok", "acc-1", models.TypeIncome, "100", day(2025, time.March, 1))

	bad := f.tx("t-bad-meta", "acc-1", models.TypeExpense, "40", day(2025, time.March, 2))
	bad.Metadata = json.RawMessage(`{"creditCardId":`)
	f.store.SaveTransaction(bad)

	f.tx("t-negative", "acc-1", models.TypeExpense, "-5", day(2025, time.March, 2))

	cancelled := f.tx("t-cancelled", "acc-1", models.TypeExpense, "70", day(2025, time.March, 3))
	cancelled.Status = models.StatusCancelled
	f.store.SaveTransaction(cancelled)

	failed := f.tx("t-failed", "acc-1", models.TypeIncome, "70", day(2025, time.March, 3))
	failed.Status = models.StatusFailed
	f.store.SaveTransaction(failed)

	pending := f.tx("t-pending", "acc-1", models.TypeExpense, "10", day(2025, time.March, 4))
	pending.Status = models.StatusPending
	f.store.SaveTransaction(pending)

	f.tx("t-transfer-mirror", "acc-1", models.TypeTransfer, "25", day(2025, time.March, 5))

	bal, err := f.rec.Recompute(ctx, "acc-1")
	require.NoError(t, err)
	requireDec(t, "90", bal)
}

func TestRecomputeFoldsCompletedTransfers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, day(2025, time.April, 10))
	f.account(t, "acc-1", "user-1")
	f.account(t, "acc-2", "user-1")
	f.tx("t-in", "acc-1", models.TypeIncome, "500", day(2025, time.April, 1))

	transfers := []models.Transfer{
		{ID: "tr-out", FromAccountID: "acc-1", ToAccountID: "acc-2", Amount: dec("120"), Status: models.StatusCompleted, CreatedAt: noon(day(2025, time.April, 2))},
		{ID: "tr-in", FromAccountID: "acc-2", ToAccountID: "acc-1", Amount: dec("20.50"), Status: models.StatusCompleted, CreatedAt: noon(day(2025, time.April, 3))},
		{ID: "tr-pending", FromAccountID: "acc-1", ToAccountID: "acc-2", Amount: dec("999"), Status: models.StatusPending, CreatedAt: noon(day(2025, time.April, 4))},
		{ID: "tr-future", FromAccountID: "acc-1", ToAccountID: "acc-2", Amount: dec("999"), Status: models.StatusCompleted, CreatedAt: noon(day(2025, time.April, 11))},
		{ID: "tr-self", FromAccountID: "acc-1", ToAccountID: "acc-1", Amount: dec("77"), Status: models.StatusCompleted, CreatedAt: noon(day(2025, time.April, 5))},
	}
	for _, tr := range transfers {
		f.store.SaveTransfer(tr)
	}

	bal, err := f.rec.Recompute(ctx, "acc-1")
	require.NoError(t, err)
	requireDec(t, "400.50", bal)

	bal, err = f.rec.Recompute(ctx, "acc-2")
	require.NoError(t, err)
	requireDec(t, "99.50", bal)
}

func TestRecomputeMissingAccount(t *testing.T) {
	t.Parallel()
	f := newFixture(t, day(2025, time.April, 10))

	_, err := f.rec.Recompute(context.Background(), "nope")
	require.ErrorIs(t, err, models.ErrNotFound)
	require.ErrorContains(t, err, "recompute nope: ")
	require.Zero(t, f.pub.count())
}

func TestRecomputeRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, day(2025, time.April, 10))
	f.account(t, "acc-1", "user-1")
	f.tx("t-1", "acc-1", models.TypeIncome, "10", day(2025, time.April, 1))

	flaky := &flakyTransactions{inner: f.store, failures: 2}
	rec := f.reconciler(flaky, f.store, testOptions())

	bal, err := rec.Recompute(ctx, "acc-1")
	require.NoError(t, err)
	requireDec(t, "10", bal)
	require.EqualValues(t, 3, flaky.calls.Load())
}

func TestRecomputeKeepsBalanceWhenRetriesExhausted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, day(2025, time.April, 10))
	f.account(t, "acc-1", "user-1")
	f.tx("t-1", "acc-1", models.TypeIncome, "10", day(2025, time.April, 1))

	flaky := &flakyTransactions{inner: f.store, failures: 100}
	rec := f.reconciler(flaky, f.store, testOptions())

	_, err := rec.Recompute(ctx, "acc-1")
	require.ErrorIs(t, err, ErrFetchFailed)
	require.ErrorIs(t, err, errUnavailable)
	require.EqualValues(t, 3, flaky.calls.Load())
	requireDec(t, "12345", f.storedBalance(t, "acc-1"))
	require.Zero(t, f.pub.count())
}

func TestRecomputeStopsAtPageCap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, day(2025, time.April, 10))
	f.account(t, "acc-1", "user-1")
	for i := 0; i < 7; i++ {
		f.tx(fmt.Sprintf("t-%d", i), "acc-1", models.TypeIncome, "1", day(2025, time.April, 1))
	}

	opts := testOptions()
	opts.PageSize = 2
	opts.MaxPages = 3
	rec := f.reconciler(f.store, f.store, opts)

	_, err := rec.Recompute(ctx, "acc-1")
	require.ErrorIs(t, err, ErrHistoryTooLong)
	requireDec(t, "12345", f.storedBalance(t, "acc-1"))

	opts.MaxPages = 4
	bal, err := f.reconciler(f.store, f.store, opts).Recompute(ctx, "acc-1")
	require.NoError(t, err)
	requireDec(t, "7", bal)
}

func TestRecomputePublishesEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, day(2025, time.April, 10))
	f.account(t, "acc-1", "user-1")
	f.tx("t-1", "acc-1", models.TypeSalary, "10", day(2025, time.April, 1))

	_, err := f.rec.Recompute(context.Background(), "acc-1")
	require.NoError(t, err)

	require.Equal(t, []string{events.TopicBalanceRecomputed}, f.pub.topics)
	ev, ok := f.pub.events[0].(events.BalanceRecomputed)
	require.True(t, ok)
	require.Equal(t, "acc-1", ev.AccountID)
	require.Equal(t, day(2025, time.April, 10), ev.ReconciledThrough)
	requireDec(t, "10", ev.Balance)
}

func TestRecomputeSurvivesPublishFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, day(2025, time.April, 10))
	f.pub.err = fmt.Errorf("broker down")
	f.account(t, "acc-1", "user-1")
	f.tx("t-1", "acc-1", models.TypeIncome, "10", day(2025, time.April, 1))

	bal, err := f.rec.Recompute(context.Background(), "acc-1")
	require.NoError(t, err)
	requireDec(t, "10", bal)
}

func TestRecomputeAllContinuesPastFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, day(2025, time.April, 10))
	f.account(t, "acc-a", "user-1")
	f.account(t, "acc-b", "user-1")
	f.account(t, "acc-c", "user-1")
	f.account(t, "acc-other", "user-2")
	f.tx("t-a", "acc-a", models.TypeIncome, "1", day(2025, time.April, 1))
	f.tx("t-c", "acc-c", models.TypeIncome, "3", day(2025, time.April, 1))

	flaky := &flakyTransactions{inner: f.store, broken: map[string]bool{"acc-b": true}}
	rec := f.reconciler(flaky, f.store, testOptions())

	res, err := rec.RecomputeAll(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 2, res.Succeeded)
	require.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	require.Equal(t, "acc-b", res.Failures[0].AccountID)

	requireDec(t, "1", f.storedBalance(t, "acc-a"))
	requireDec(t, "12345", f.storedBalance(t, "acc-b"))
	requireDec(t, "3", f.storedBalance(t, "acc-c"))
	requireDec(t, "12345", f.storedBalance(t, "acc-other"))
}

func TestRecomputeCoalescesConcurrentRequests(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, day(2025, time.April, 10))
	f.account(t, "acc-1", "user-1")
	f.tx("t-1", "acc-1", models.TypeIncome, "5", day(2025, time.April, 1))

	blocking := &blockingTransactions{
		inner:   f.store,
		entered: make(chan struct{}, 10),
		release: make(chan struct{}),
	}
	opts := testOptions()
	opts.FetchTimeout = 0
	rec := f.reconciler(blocking, f.store, opts)

	var wg sync.WaitGroup
	results := make([]decimal.Decimal, 6)
	errs := make([]error, 6)
	run := func(i int) {
		defer wg.Done()
		results[i], errs[i] = rec.Recompute(ctx, "acc-1")
	}

	wg.Add(1)
	go run(0)
	<-blocking.entered

	// A transaction lands while the first run is in flight.
	f.tx("t-2", "acc-1", models.TypeIncome, "7", day(2025, time.April, 2))

	for i := 1; i < 6; i++ {
		wg.Add(1)
		go run(i)
	}
	require.Eventually(t, func() bool { return rec.accounts.waiting("acc-1") == 5 }, time.Second, time.Millisecond)

	close(blocking.release)
	wg.Wait()
	rec.Wait()

	require.EqualValues(t, 2, blocking.calls.Load())
	for i := range errs {
		require.NoError(t, errs[i])
	}
	requireDec(t, "5", results[0])
	for i := 1; i < 6; i++ {
		requireDec(t, "12", results[i])
	}
	requireDec(t, "12", f.storedBalance(t, "acc-1"))
}

func TestRecomputeCallerCancellationDoesNotAbortRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t, day(2025, time.April, 10))
	f.account(t, "acc-1", "user-1")
	f.tx("t-1", "acc-1", models.TypeIncome, "5", day(2025, time.April, 1))

	blocking := &blockingTransactions{inner: f.store, entered: make(chan struct{}, 1), release: make(chan struct{})}
	opts := testOptions()
	opts.FetchTimeout = 0
	rec := f.reconciler(blocking, f.store, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := rec.Recompute(ctx, "acc-1")
		done <- err
	}()
	<-blocking.entered
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(blocking.release)
	rec.Wait()
	requireDec(t, "5", f.storedBalance(t, "acc-1"))
}

func TestRecomputeCardUsage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, day(2025, time.April, 10))
	f.store.PutCard(models.CreditCard{ID: "card-1", AccountID: "acc-1", ClosingDay: 5, DueDay: 15, CreditLimit: dec("1000")})

	purchase := f.tx("t-purchase", "acc-1", models.TypeExpense, "300", day(2025, time.April, 1))
	purchase.CreditCardID = "card-1"
	f.store.SaveTransaction(purchase)

	future := f.tx("t-installment", "acc-1", models.TypeExpense, "100", day(2025, time.June, 1))
	future.CreditCardID = "card-1"
	f.store.SaveTransaction(future)

	refund := f.tx("t-refund", "acc-1", models.TypeIncome, "50", day(2025, time.April, 2))
	refund.CreditCardID = "card-1"
	f.store.SaveTransaction(refund)

	cancelled := f.tx("t-cancelled", "acc-1", models.TypeExpense, "500", day(2025, time.April, 3))
	cancelled.CreditCardID = "card-1"
	cancelled.Status = models.StatusCancelled
	f.store.SaveTransaction(cancelled)

	used, err := f.rec.RecomputeCardUsage(ctx, "card-1")
	require.NoError(t, err)
	requireDec(t, "350", used)

	card, err := f.store.GetCard(ctx, "card-1")
	require.NoError(t, err)
	requireDec(t, "350", card.UsedLimit)
	requireDec(t, "650", card.AvailableLimit())

	_, err = f.rec.RecomputeCardUsage(ctx, "card-missing")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestOpeningTransaction(t *testing.T) {
	t.Parallel()

	acct := models.Account{ID: "acc-1", OwnerID: "user-1", InitialBalance: dec("1000"), CreatedOn: day(2024, time.January, 1)}
	a, ok := OpeningTransaction(acct)
	require.True(t, ok)
	b, _ := OpeningTransaction(acct)
	require.Equal(t, a.ID, b.ID)
	require.Equal(t, models.TypeIncome, a.Type)
	require.Equal(t, acct.CreatedOn, a.Date)

	acct.InitialBalance = dec("-25")
	neg, ok := OpeningTransaction(acct)
	require.True(t, ok)
	require.Equal(t, models.TypeExpense, neg.Type)
	requireDec(t, "25", neg.Amount)

	acct.InitialBalance = decimal.Zero
	_, ok = OpeningTransaction(acct)
	require.False(t, ok)
}
