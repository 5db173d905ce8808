package handlers

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/turn"
)

type message struct {
	ID      string
	Role    string
	Content template.HTML
	Pending bool
}

type transcriptData struct {
	Messages      []message
	InputDisabled bool
	Thinking      bool
}

type homePageData struct {
	SessionID  string
	ThreadID   string
	Transcript transcriptData
}

// HandleHome renders the chat page of the session named by the session_id cookie. On the first visit of
// a session it opens the session's thread; if that fails the page still renders and the thread is
// opened again with the first message.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s, err := m.session(w, r)
	if err != nil {
		m.logger.Error("Failed to get session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := s.orchestrator.OpenThread(r.Context()); err != nil {
		m.logger.Warn("Failed to open thread",
			slog.String("sessionID", s.id),
			slog.String(errLoggerKey, err.Error()))
	}

	snap := s.orchestrator.Snapshot()
	td, err := m.transcriptData(snap)
	if err != nil {
		m.logger.Error("Failed to render transcript", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := homePageData{
		SessionID:  s.id,
		ThreadID:   snap.ThreadID,
		Transcript: td,
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to execute home template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (m Main) transcriptData(snap turn.Snapshot) (transcriptData, error) {
	msgs := make([]message, len(snap.Messages))
	for i, msg := range snap.Messages {
		content, err := m.renderer.render(msg)
		if err != nil {
			return transcriptData{}, fmt.Errorf("failed to render message %s: %w", msg.ID, err)
		}
		msgs[i] = message{
			ID:      msg.ID,
			Role:    string(msg.Role),
			Content: content,
			Pending: msg.ID == models.PendingReplyID,
		}
	}

	return transcriptData{
		Messages:      msgs,
		InputDisabled: snap.Flags.InputDisabled,
		Thinking:      snap.Flags.Thinking,
	}, nil
}

func (m Main) renderTranscript(snap turn.Snapshot) (string, error) {
	td, err := m.transcriptData(snap)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "transcript", td); err != nil {
		return "", fmt.Errorf("failed to execute transcript template: %w", err)
	}
	return sb.String(), nil
}
