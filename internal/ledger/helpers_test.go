package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/clock"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/storage/memory"
)

var errUnavailable = errors.New("store unavailable")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func noon(d civil.Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC)
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func testOptions() Options {
	return Options{
		PageSize:      2,
		MaxPages:      50,
		FetchTimeout:  time.Second,
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
		Location:      time.UTC,
	}
}

type fixture struct {
	store *memory.Store
	clock *clock.Manual
	rec   *Reconciler
	pub   *recordingPublisher
}

func newFixture(t *testing.T, today civil.Date) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		clock: clock.NewManual(noon(today)),
		pub:   &recordingPublisher{},
	}
	f.rec = f.reconciler(f.store, f.store, testOptions())
	return f
}

func (f *fixture) reconciler(txs interfaces.TransactionStore, transfers interfaces.TransferLog, opts Options) *Reconciler {
	return NewReconciler(Stores{
		Accounts:     f.store,
		Cards:        f.store,
		Transactions: txs,
		Transfers:    transfers,
	}, f.pub, f.clock, zerolog.Nop(), opts)
}

func (f *fixture) account(t *testing.T, id, owner string) models.Account {
	t.Helper()
	a := models.Account{ID: id, OwnerID: owner, Balance: dec("12345"), CreatedOn: day(2024, time.January, 1)}
	f.store.PutAccount(a)
	return a
}

func (f *fixture) tx(id, account string, typ models.TransactionType, amount string, date civil.Date) models.Transaction {
	tx := models.Transaction{
		ID:        id,
		UserID:    "user-1",
		AccountID: account,
		Amount:    dec(amount),
		Type:      typ,
		Date:      date,
		Status:    models.StatusCompleted,
	}
	f.store.SaveTransaction(tx)
	return tx
}

func (f *fixture) storedBalance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// flakyTransactions fails the first `failures` calls, or every call for
// the listed accounts.
type flakyTransactions struct {
	inner    interfaces.TransactionStore
	failures int32
	broken   map[string]bool
	calls    atomic.Int32
}

func (s *flakyTransactions) ListTransactions(ctx context.Context, filter interfaces.TransactionFilter, page interfaces.PageRequest) (interfaces.TransactionPage, error) {
	n := s.calls.Add(1)
	if n <= s.failures || s.broken[filter.AccountID] {
		return interfaces.TransactionPage{}, errUnavailable
	}
	return s.inner.ListTransactions(ctx, filter, page)
}

// blockingTransactions reads a page, then parks the call until released.
// Writes made while a call is parked are not visible to it.
type blockingTransactions struct {
	inner   interfaces.TransactionStore
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (s *blockingTransactions) ListTransactions(ctx context.Context, filter interfaces.TransactionFilter, page interfaces.PageRequest) (interfaces.TransactionPage, error) {
	s.calls.Add(1)
	p, err := s.inner.ListTransactions(ctx, filter, page)
	s.entered <- struct{}{}
	<-s.release
	return p, err
}
