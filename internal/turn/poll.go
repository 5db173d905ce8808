package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"golang.org/x/time/rate"
)

// DefaultPollInterval is the cadence at which run status is fetched.
const DefaultPollInterval = time.Second

// ErrPollLimit is returned by Poller.Poll when the attempt or time bound is exhausted while the run is
// still pending.
var ErrPollLimit = errors.New("run still pending after poll limit")

// Waiter blocks until the next status fetch is due, or until ctx is done.
type Waiter interface {
	Wait(ctx context.Context) error
}

// WaiterFactory builds the Waiter for one delay of a poll loop. Poll builds a fresh one before every fetch,
// so a slow fetch never shortens the next delay.
type WaiterFactory func(interval time.Duration) Waiter

// StatusFunc fetches the current state of the polled run.
type StatusFunc func(ctx context.Context) (models.Run, error)

// Poller drives the status loop of one run. It fetches the run status at a fixed cadence for as long as
// the status is pending.
//
// MaxAttempts and Timeout bound the loop; their zero values leave it unbounded, in which case only ctx
// can stop a run that never settles.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
	Waiters     WaiterFactory

	logger *slog.Logger
}

type intervalWaiter struct {
	limiter *rate.Limiter
}

// NewIntervalWaiter returns a Waiter that releases once per interval, the first time a full interval
// after its creation. Poll builds one per delay, so every fetch follows the previous response by a full
// interval.
func NewIntervalWaiter(interval time.Duration) Waiter {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	l := rate.NewLimiter(rate.Every(interval), 1)
	// Spend the initial burst token so the first Wait blocks for a whole interval.
	l.Allow()
	return intervalWaiter{limiter: l}
}

func (w intervalWaiter) Wait(ctx context.Context) error {
	return w.limiter.Wait(ctx)
}

// Poll waits one full interval before every fetch, counted from the previous response, and returns the first run whose status is not pending. On
// requires_action nothing is submitted back; the state is logged and polling continues.
func (p Poller) Poll(ctx context.Context, fetch StatusFunc) (models.Run, error) {
	parent := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	waiters := p.Waiters
	if waiters == nil {
		waiters = NewIntervalWaiter
	}

	logger := p.logger
	if logger == nil {
		logger = slog.Default()
	}

	run := models.Run{Status: models.RunStatusRunning}
	for attempts := 0; run.Status.IsPending(); {
		if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
			return run, fmt.Errorf("%w: %d status fetches", ErrPollLimit, attempts)
		}

		// The delay starts once the previous response is in.
		if err := waiters(p.Interval).Wait(ctx); err != nil {
			if parent.Err() == nil && p.Timeout > 0 {
				return run, fmt.Errorf("%w: %s elapsed", ErrPollLimit, p.Timeout)
			}
			return run, fmt.Errorf("failed to wait for next status fetch: %w", err)
		}

		attempts++
		next, err := fetch(ctx)
		if err != nil {
			return run, fmt.Errorf("failed to fetch run status: %w", err)
		}
		run = next
		statusFetches.WithLabelValues(string(run.Status)).Inc()

		logger.Debug("Run status",
			slog.String("runID", run.ID),
			slog.String("status", string(run.Status)),
			slog.Int("attempt", attempts))

		if run.Status == models.RunStatusRequiresAction {
			logger.Info("Run requires action, no action is submitted",
				slog.String("runID", run.ID))
		}
	}

	return run, nil
}
