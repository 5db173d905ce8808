package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"sync"
	"time"

	assistantwebui "github.com/MegaGrindStone/assistant-web-ui"
	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/turn"
	"github.com/tmaxmax/go-sse"
)

// Archive keeps sessions between requests and across restarts.
type Archive interface {
	Session(ctx context.Context, id string) (models.Session, error)
	SaveSession(ctx context.Context, session models.Session) error
	DeleteSession(ctx context.Context, id string) error
}

// Main serves the chat page. Every browser session owns one orchestrator; the transcript it renders is
// pushed to the browser through server-sent events whenever the orchestrator publishes a change.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	renderer  renderer

	transport turn.Transport
	archive   Archive
	turnCfg   turn.Config

	sessions *sessionRegistry

	// turnCtx outlives the request that started a turn; it is cancelled on Shutdown.
	turnCtx    context.Context
	cancelTurn context.CancelFunc
	turns      *sync.WaitGroup

	logger *slog.Logger
}

const (
	errLoggerKey  = "err"
	sessionCookie = "session_id"
)

var messagesSSEType = sse.Type("messages")

// NewMain creates a new Main instance that runs turns through transport and archives sessions in archive.
// It initializes the SSE server and parses the required HTML templates from the embedded filesystem.
func NewMain(transport turn.Transport, archive Archive, cfg turn.Config, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		assistantwebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				// A browser only listens to the transcript of its own session
				if c, err := s.Req.Cookie(sessionCookie); err == nil && c.Value != "" {
					topics = append(topics, sessionTopic(c.Value))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates:  tmpl,
		renderer:   newRenderer(),
		transport:  transport,
		archive:    archive,
		turnCfg:    cfg,
		sessions:   newSessionRegistry(),
		turnCtx:    ctx,
		cancelTurn: cancel,
		turns:      &sync.WaitGroup{},
		logger:     logger.With(slog.String("module", "main")),
	}, nil
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// Shutdown cancels the turns in flight and gracefully terminates the SSE server. It broadcasts a close
// message to all connected clients and waits up to 5 seconds for turns and connections to terminate.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// An SSE event without data is dropped by browsers
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	m.cancelTurn()
	done := make(chan struct{})
	go func() {
		m.turns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Turns still running at shutdown")
	}

	return m.sseSrv.Shutdown(ctx)
}
