package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
)

var (
	// ErrHistoryTooLong is returned when a listing needs more pages than
	// the configured cap.
	ErrHistoryTooLong = errors.New("history exceeds page cap")

	// ErrFetchFailed wraps the last error of a store call whose retries
	// were exhausted.
	ErrFetchFailed = errors.New("store call failed")
)

// Options bounds the I/O done by one reconciliation.
type Options struct {
	PageSize      int
	MaxPages      int
	FetchTimeout  time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration

	// Location decides which calendar day "now" is. Defaults to UTC.
	Location *time.Location
}

func DefaultOptions() Options {
	return Options{
		PageSize:      100,
		MaxPages:      1000,
		FetchTimeout:  10 * time.Second,
		RetryAttempts: 3,
		RetryBackoff:  200 * time.Millisecond,
		Location:      time.UTC,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.MaxPages <= 0 {
		o.MaxPages = d.MaxPages
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = d.RetryAttempts
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = 0
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// Fetcher performs bounded, retried, paginated reads against the stores.
type Fetcher struct {
	opts Options
	log  zerolog.Logger
}

func NewFetcher(opts Options, log zerolog.Logger) Fetcher {
	return Fetcher{opts: opts.withDefaults(), log: log}
}

// Do calls fn until it succeeds, fails permanently, or the attempts run
// out. Not-found and validation errors are permanent, as is cancellation
// of ctx. Each attempt gets its own timeout; waits grow linearly.
func (f Fetcher) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= f.opts.RetryAttempts; attempt++ {
		err = f.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryable(ctx, err) {
			return err
		}
		if attempt == f.opts.RetryAttempts {
			break
		}

		wait := time.Duration(attempt) * f.opts.RetryBackoff
		f.log.Debug().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", wait).Msg("retrying store call")
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrFetchFailed, f.opts.RetryAttempts, err)
}

func (f Fetcher) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if f.opts.FetchTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, f.opts.FetchTimeout)
	defer cancel()
	return fn(callCtx)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, models.ErrNotFound) && !errors.Is(err, models.ErrValidation)
}

// collect drains a cursor-paginated listing, stopping with
// ErrHistoryTooLong once MaxPages pages have been read without reaching
// the end.
func collect[T any](ctx context.Context, f Fetcher, op string, list func(ctx context.Context, page interfaces.PageRequest) ([]T, string, error)) ([]T, error) {
	var out []T
	cursor := ""
	for pages := 0; pages < f.opts.MaxPages; pages++ {
		var (
			items []T
			next  string
		)
		err := f.Do(ctx, op, func(ctx context.Context) error {
			var err error
			items, next, err = list(ctx, interfaces.PageRequest{Cursor: cursor, Limit: f.opts.PageSize})
			return err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if next == "" {
			return out, nil
		}
		cursor = next
	}
	return nil, fmt.Errorf("%s: %w (%d pages of %d)", op, ErrHistoryTooLong, f.opts.MaxPages, f.opts.PageSize)
}

// Transactions lists every transaction matching filter.
func (f Fetcher) Transactions(ctx context.Context, store interfaces.TransactionStore, filter interfaces.TransactionFilter) ([]models.Transaction, error) {
	return collect(ctx, f, "list transactions", func(ctx context.Context, page interfaces.PageRequest) ([]models.Transaction, string, error) {
		p, err := store.ListTransactions(ctx, filter, page)
		return p.Items, p.NextCursor, err
	})
}

// Transfers lists every transfer on one side of an account whose local
// creation day falls in dates. Stores bucket transfers by UTC day, so the
// listing is widened by a day at each end and cut on the local day here.
func (f Fetcher) Transfers(ctx context.Context, log interfaces.TransferLog, accountID string, dir models.Direction, dates interfaces.DateRange) ([]models.Transfer, error) {
	wide := dates
	if wide.From.IsValid() {
		wide.From = wide.From.AddDays(-1)
	}
	if wide.To.IsValid() {
		wide.To = wide.To.AddDays(1)
	}

	op := "list transfers " + dir.String()
	ts, err := collect(ctx, f, op, func(ctx context.Context, page interfaces.PageRequest) ([]models.Transfer, string, error) {
		p, err := log.ListTransfers(ctx, accountID, dir, wide, page)
		return p.Items, p.NextCursor, err
	})
	if err != nil {
		return nil, err
	}

	out := ts[:0]
	for _, t := range ts {
		if dates.Contains(civil.DateOf(t.CreatedAt.In(f.opts.Location))) {
			out = append(out, t)
		}
	}
	return out, nil
}
