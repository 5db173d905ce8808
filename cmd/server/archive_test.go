package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
)

func TestPruneSessions(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		retention  time.Duration
		wantPruned int
		wantKept   []string
	}{
		{name: "Keep everything", retention: 0, wantPruned: 0, wantKept: []string{"fresh", "week", "stale"}},
		{name: "Prune older than two days", retention: 48 * time.Hour, wantPruned: 2, wantKept: []string{"fresh"}},
		{name: "Prune older than a month", retention: 30 * 24 * time.Hour, wantPruned: 1, wantKept: []string{"fresh", "week"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "sessions.db"))
			if err != nil {
				t.Fatal(err)
			}
			defer db.Close()

			ctx := context.Background()
			for id, age := range map[string]time.Duration{
				"fresh": time.Hour,
				"week":  7 * 24 * time.Hour,
				"stale": 90 * 24 * time.Hour,
			} {
				if err := db.SaveSession(ctx, models.Session{ID: id, ThreadID: "thread-" + id, UpdatedAt: now.Add(-age)}); err != nil {
					t.Fatal(err)
				}
			}

			pruned, err := pruneSessions(ctx, db, tt.retention, now, logger)
			if err != nil {
				t.Fatalf("pruneSessions() error = %v", err)
			}
			if pruned != tt.wantPruned {
				t.Errorf("pruned = %d, want %d", pruned, tt.wantPruned)
			}

			sessions, err := db.Sessions(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(sessions) != len(tt.wantKept) {
				t.Fatalf("kept %d sessions, want %d", len(sessions), len(tt.wantKept))
			}
			for i, id := range tt.wantKept {
				if sessions[i].ID != id {
					t.Errorf("sessions[%d] = %q, want %q", i, sessions[i].ID, id)
				}
			}
		})
	}
}

type recordingEvicter struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (r *recordingEvicter) EvictIdleSessions(maxIdle time.Duration, _ time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, maxIdle)
	return 1
}

func (r *recordingEvicter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestEvictIdleSessionsRunsUntilCancelled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ev := &recordingEvicter{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		evictIdleSessions(ctx, ev, 30*time.Minute, 5*time.Millisecond, logger)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for ev.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("evictIdleSessions() did not stop after cancel")
	}
	if ev.count() < 2 {
		t.Fatalf("EvictIdleSessions called %d times, want at least 2", ev.count())
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.calls[0] != 30*time.Minute {
		t.Errorf("maxIdle = %s, want 30m", ev.calls[0])
	}
}
