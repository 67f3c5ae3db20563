package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/clock"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/interfaces"
)

// Scheduler runs a sweep for every account owner on each tick.
type Scheduler struct {
	sweeper  *Sweeper
	owners   interfaces.AccountStore
	clock    clock.Clock
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(sweeper *Sweeper, owners interfaces.AccountStore, clk clock.Clock, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		sweeper:  sweeper,
		owners:   owners,
		clock:    clk,
		interval: interval,
		log:      log.With().Str("component", "sweep-scheduler").Logger(),
	}
}

// Start launches the tick loop. It returns an error if the scheduler was
// already started.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", s.interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true
	s.stop = make(chan struct{})

	ticker := s.clock.NewTicker(s.interval)
	s.wg.Add(1)
	go s.loop(ctx, ticker, s.stop)
	s.log.Info().Dur("interval", s.interval).Msg("sweep scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, ticker clock.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C():
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweep run had failures")
			}
		}
	}
}

// RunOnce sweeps every owner and returns the total number of accounts
// updated. One owner's failure does not skip the rest.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	owners, err := s.owners.ListOwnerIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list owners: %w", err)
	}

	var (
		total int
		errs  []error
	)
	for _, owner := range owners {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		n, err := s.sweeper.ProcessDue(ctx, owner)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", owner, err))
		}
	}
	return total, errors.Join(errs...)
}

// Stop ends the tick loop and waits for a running sweep to finish, or
// for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.stop)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("sweep scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
