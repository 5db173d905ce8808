package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
)

type sessionArchive interface {
	Sessions(ctx context.Context) ([]models.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// pruneSessions deletes the archived sessions not updated within retention and returns how many it
// deleted. A zero retention keeps every session.
func pruneSessions(
	ctx context.Context,
	archive sessionArchive,
	retention time.Duration,
	now time.Time,
	logger *slog.Logger,
) (int, error) {
	sessions, err := archive.Sessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("error listing archived sessions: %w", err)
	}
	if retention <= 0 {
		logger.Info("Archived sessions", slog.Int("count", len(sessions)))
		return 0, nil
	}

	cutoff := now.Add(-retention)
	pruned := 0
	for _, s := range sessions {
		if !s.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := archive.DeleteSession(ctx, s.ID); err != nil {
			return pruned, fmt.Errorf("error deleting session %s: %w", s.ID, err)
		}
		pruned++
	}

	logger.Info("Archived sessions",
		slog.Int("count", len(sessions)-pruned),
		slog.Int("pruned", pruned))
	return pruned, nil
}

type sessionEvicter interface {
	EvictIdleSessions(maxIdle time.Duration, now time.Time) int
}

// evictIdleSessions drops in-memory sessions idle for longer than maxIdle once every interval, until ctx
// is done. Evicted sessions stay in the archive and resume from it.
func evictIdleSessions(
	ctx context.Context,
	evicter sessionEvicter,
	maxIdle, interval time.Duration,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := evicter.EvictIdleSessions(maxIdle, now); n > 0 {
				logger.Info("Evicted idle sessions", slog.Int("count", n))
			}
		}
	}
}
