package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/turn"
)

// HandleChats starts a turn for the "message" form field and answers 202 Accepted at once. The user
// message, the pending reply and the final reply reach the browser through the SSE stream.
//
// It answers 400 when the message is blank and 409 when the session already has a turn in flight.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := strings.TrimSpace(r.FormValue("message"))
	if msg == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	s, err := m.session(w, r)
	if err != nil {
		m.logger.Error("Failed to get session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := s.orchestrator.OpenThread(r.Context()); err != nil {
		m.logger.Error("Failed to open thread",
			slog.String("sessionID", s.id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.turns.Add(1)
	done, err := s.orchestrator.Start(m.turnCtx, msg)
	if err != nil {
		m.turns.Done()

		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, turn.ErrTurnInFlight):
			status = http.StatusConflict
		case errors.Is(err, turn.ErrEmptyInput):
			status = http.StatusBadRequest
		}
		m.logger.Warn("Turn rejected",
			slog.String("sessionID", s.id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), status)
		return
	}
	go func() {
		<-done
		m.turns.Done()
	}()

	w.WriteHeader(http.StatusAccepted)
}

// HandleReset drops the session's thread and transcript, and sends the browser back to a fresh chat page.
func (m Main) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, err := m.session(w, r)
	if err != nil {
		m.logger.Error("Failed to get session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.orchestrator.Reset(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err := m.forgetSession(r.Context(), s.id); err != nil {
		m.logger.Error("Failed to forget session",
			slog.String("sessionID", s.id),
			slog.String(errLoggerKey, err.Error()))
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleSSE streams the session's transcript updates.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

func sessionFromSnapshot(sessionID string, snap turn.Snapshot) models.Session {
	return models.Session{
		ID:        sessionID,
		ThreadID:  snap.ThreadID,
		Messages:  slices.Clone(snap.Messages),
		UpdatedAt: time.Now(),
	}
}
