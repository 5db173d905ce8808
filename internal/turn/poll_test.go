package turn_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/turn"
)

type blockingWaiter struct{}

func (blockingWaiter) Wait(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func statusSequence(statuses ...models.RunStatus) (turn.StatusFunc, *int) {
	calls := 0
	return func(context.Context) (models.Run, error) {
		s := statuses[min(calls, len(statuses)-1)]
		calls++
		return models.Run{ID: "run-1", Status: s}, nil
	}, &calls
}

func TestPollReturnsFirstSettledStatus(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []models.RunStatus
		want      models.RunStatus
		wantCalls int
	}{
		{
			name:      "completed after pending states",
			statuses:  []models.RunStatus{models.RunStatusQueued, models.RunStatusInProgress, models.RunStatusCompleted},
			want:      models.RunStatusCompleted,
			wantCalls: 3,
		},
		{
			name:      "failed immediately",
			statuses:  []models.RunStatus{models.RunStatusFailed},
			want:      models.RunStatusFailed,
			wantCalls: 1,
		},
		{
			name:      "expired after waiting",
			statuses:  []models.RunStatus{models.RunStatusWaiting, models.RunStatusExpired},
			want:      models.RunStatusExpired,
			wantCalls: 2,
		},
		{
			name:      "cancelling is not pending",
			statuses:  []models.RunStatus{models.RunStatusCancelling},
			want:      models.RunStatusCancelling,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &countingWaiter{}
			fetch, calls := statusSequence(tt.statuses...)

			run, err := turn.Poller{Waiters: w.factory}.Poll(context.Background(), fetch)
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if run.Status != tt.want {
				t.Errorf("Poll() status = %q, want %q", run.Status, tt.want)
			}
			if *calls != tt.wantCalls || w.waits != tt.wantCalls {
				t.Errorf("fetches = %d, waits = %d, want %d each", *calls, w.waits, tt.wantCalls)
			}
		})
	}
}

func TestPollMaxAttempts(t *testing.T) {
	w := &countingWaiter{}
	fetch, calls := statusSequence(models.RunStatusInProgress)

	_, err := turn.Poller{MaxAttempts: 4, Waiters: w.factory}.Poll(context.Background(), fetch)
	if !errors.Is(err, turn.ErrPollLimit) {
		t.Fatalf("Poll() error = %v, want ErrPollLimit", err)
	}
	if *calls != 4 {
		t.Errorf("fetches = %d, want 4", *calls)
	}
}

func TestPollTimeout(t *testing.T) {
	fetch, calls := statusSequence(models.RunStatusInProgress)
	p := turn.Poller{
		Timeout: 20 * time.Millisecond,
		Waiters: func(time.Duration) turn.Waiter { return blockingWaiter{} },
	}

	_, err := p.Poll(context.Background(), fetch)
	if !errors.Is(err, turn.ErrPollLimit) {
		t.Fatalf("Poll() error = %v, want ErrPollLimit", err)
	}
	if *calls != 0 {
		t.Errorf("fetches = %d, want 0", *calls)
	}
}

func TestPollCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetch, _ := statusSequence(models.RunStatusInProgress)
	p := turn.Poller{Waiters: func(time.Duration) turn.Waiter { return blockingWaiter{} }}

	_, err := p.Poll(ctx, fetch)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Poll() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, turn.ErrPollLimit) {
		t.Error("cancellation reported as poll limit")
	}
}

func TestPollFetchError(t *testing.T) {
	w := &countingWaiter{}
	_, err := turn.Poller{Waiters: w.factory}.Poll(context.Background(), func(context.Context) (models.Run, error) {
		return models.Run{}, errUpstream
	})
	if !errors.Is(err, errUpstream) {
		t.Fatalf("Poll() error = %v, want %v", err, errUpstream)
	}
}

func TestIntervalWaiterDelaysFirstFetch(t *testing.T) {
	const interval = 30 * time.Millisecond
	w := turn.NewIntervalWaiter(interval)

	start := time.Now()
	for range 2 {
		if err := w.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	// Allow some slack for timer granularity.
	if elapsed := time.Since(start); elapsed < 2*interval-10*time.Millisecond {
		t.Errorf("two waits took %s, want about %s", elapsed, 2*interval)
	}
}

func TestPollDelaysAfterSlowFetch(t *testing.T) {
	const (
		interval  = 40 * time.Millisecond
		fetchTime = 60 * time.Millisecond
	)
	statuses := []models.RunStatus{models.RunStatusRunning, models.RunStatusInProgress, models.RunStatusCompleted}

	var starts, ends []time.Time
	fetch := func(context.Context) (models.Run, error) {
		starts = append(starts, time.Now())
		time.Sleep(fetchTime)
		ends = append(ends, time.Now())
		return models.Run{ID: "run-1", Status: statuses[len(ends)-1]}, nil
	}

	run, err := turn.Poller{Interval: interval}.Poll(context.Background(), fetch)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if run.Status != models.RunStatusCompleted || len(starts) != 3 {
		t.Fatalf("Poll() = %q after %d fetches, want completed after 3", run.Status, len(starts))
	}

	// Allow some slack for timer granularity.
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(ends[i-1]); gap < interval-10*time.Millisecond {
			t.Errorf("gap before fetch %d = %s, want about %s", i+1, gap, interval)
		}
	}
}
