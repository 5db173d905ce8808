package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
	"github.com/MegaGrindStone/assistant-web-ui/internal/transcript"
	"github.com/MegaGrindStone/assistant-web-ui/internal/turn"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

type chatSession struct {
	id           string
	orchestrator *turn.Orchestrator

	// lastSeen is guarded by the registry mutex.
	lastSeen time.Time
}

type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*chatSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*chatSession)}
}

// session returns the session named by the request cookie, restoring it from the archive or creating a
// new one when the process does not hold it. A new session id is written back as a cookie.
func (m Main) session(w http.ResponseWriter, r *http.Request) (*chatSession, error) {
	var id string
	if c, err := r.Cookie(sessionCookie); err == nil {
		id = c.Value
	}
	if id == "" {
		id = uuid.New().String()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	if s, ok := m.sessions.sessions[id]; ok {
		s.lastSeen = time.Now()
		return s, nil
	}

	s := &chatSession{
		id:           id,
		orchestrator: turn.NewOrchestrator(m.transport, transcript.NewStore(), m.turnCfg, m.logger),
		lastSeen:     time.Now(),
	}

	archived, err := m.archive.Session(r.Context(), id)
	switch {
	case err == nil:
		if err := s.orchestrator.Resume(archived.ThreadID, archived.Messages); err != nil {
			return nil, fmt.Errorf("failed to resume session: %w", err)
		}
		m.logger.Debug("Session resumed",
			slog.String("sessionID", id),
			slog.String("threadID", archived.ThreadID),
			slog.Int("messages", len(archived.Messages)))
	case errors.Is(err, services.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	s.orchestrator.Subscribe(func(snap turn.Snapshot) {
		m.publishSnapshot(id, snap)
	})
	m.sessions.sessions[id] = s

	return s, nil
}

// EvictIdleSessions drops the sessions no request has touched for maxIdle, as of now, and returns how many
// it dropped. Sessions with a turn in flight are kept. An evicted session is restored from the archive on
// its next request.
func (m Main) EvictIdleSessions(maxIdle time.Duration, now time.Time) int {
	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions.sessions {
		if now.Sub(s.lastSeen) < maxIdle || s.orchestrator.Flags().InputDisabled {
			continue
		}
		delete(m.sessions.sessions, id)
		evicted++
	}
	if evicted > 0 {
		m.logger.Debug("Evicted idle sessions",
			slog.Int("evicted", evicted),
			slog.Int("remaining", len(m.sessions.sessions)))
	}
	return evicted
}

// forgetSession removes the session from the registry and the archive.
func (m Main) forgetSession(ctx context.Context, id string) error {
	m.sessions.mu.Lock()
	delete(m.sessions.sessions, id)
	m.sessions.mu.Unlock()

	if err := m.archive.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// publishSnapshot pushes the rendered transcript to the session's browsers, and archives the session once
// no turn holds it.
func (m Main) publishSnapshot(sessionID string, snap turn.Snapshot) {
	html, err := m.renderTranscript(snap)
	if err != nil {
		m.logger.Error("Failed to render transcript",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{
		Type: messagesSSEType,
	}
	msg.AppendData(html)
	if err := m.sseSrv.Publish(&msg, sessionTopic(sessionID)); err != nil {
		m.logger.Error("Failed to publish transcript",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
	}

	if snap.Flags.InputDisabled || snap.ThreadID == "" {
		return
	}
	m.saveSession(sessionID, snap)
}

func (m Main) saveSession(sessionID string, snap turn.Snapshot) {
	err := m.archive.SaveSession(context.Background(), sessionFromSnapshot(sessionID, snap))
	if err != nil {
		m.logger.Error("Failed to archive session",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
	}
}
