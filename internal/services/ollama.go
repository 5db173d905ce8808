package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
)

// LocalAssistant serves threads, messages and runs in process, and executes every run as one chat
// request to an Ollama model. State lives in memory and is lost on restart.
type LocalAssistant struct {
	model        string
	systemPrompt string
	runTimeout   time.Duration

	client *api.Client

	mu      sync.Mutex
	threads map[string]*localThread
	runs    map[string]*models.Run

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

type localThread struct {
	messages  []models.Message
	activeRun string
}

const defaultRunTimeout = 5 * time.Minute

// NewLocalAssistant creates a LocalAssistant that runs on model at the Ollama server at host. The host
// parameter should be a valid URL pointing to an Ollama server. systemPrompt is used for runs created
// without instructions.
func NewLocalAssistant(host, model, systemPrompt string, logger *slog.Logger) (*LocalAssistant, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LocalAssistant{
		model:        model,
		systemPrompt: systemPrompt,
		runTimeout:   defaultRunTimeout,
		client:       api.NewClient(u, &http.Client{}),
		threads:      make(map[string]*localThread),
		runs:         make(map[string]*models.Run),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With(slog.String("module", "local-assistant")),
	}, nil
}

// Close cancels the runs in progress and waits for them to settle.
func (l *LocalAssistant) Close() {
	l.cancel()
	l.wg.Wait()
}

// CreateThread creates an empty thread.
func (l *LocalAssistant) CreateThread(context.Context) (string, error) {
	id := "thread_" + uuid.New().String()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.threads[id] = &localThread{}
	return id, nil
}

// AddMessage appends msg to the thread. An empty role is stored as user.
func (l *LocalAssistant) AddMessage(_ context.Context, threadID string, msg models.NewMessage) (string, error) {
	role := models.RoleUser
	if msg.Role != "" {
		r, err := models.ParseRole(string(msg.Role))
		if err != nil {
			return "", err
		}
		role = r
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.threads[threadID]
	if !ok {
		return "", fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if t.activeRun != "" {
		return "", fmt.Errorf("thread %s: %w", threadID, ErrRunActive)
	}

	id := "msg_" + uuid.New().String()
	t.messages = append(t.messages, models.Message{ID: id, Role: role, Text: msg.Content})
	return id, nil
}

// CreateRun queues a run on the thread and returns at once; the model is asked on another goroutine.
func (l *LocalAssistant) CreateRun(_ context.Context, threadID, instructions string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.threads[threadID]
	if !ok {
		return "", fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if t.activeRun != "" {
		return "", fmt.Errorf("thread %s: %w", threadID, ErrRunActive)
	}

	run := &models.Run{
		ID:       "run_" + uuid.New().String(),
		ThreadID: threadID,
		Status:   models.RunStatusQueued,
	}
	l.runs[run.ID] = run
	t.activeRun = run.ID

	if instructions == "" {
		instructions = l.systemPrompt
	}
	history := append([]models.Message(nil), t.messages...)

	l.wg.Add(1)
	go l.execute(run.ID, threadID, instructions, history)

	return run.ID, nil
}

// RunStatus returns a copy of the run.
func (l *LocalAssistant) RunStatus(_ context.Context, threadID, runID string) (models.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	run, ok := l.runs[runID]
	if !ok || run.ThreadID != threadID {
		return models.Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return *run, nil
}

// ListMessages returns the thread's messages, oldest first.
func (l *LocalAssistant) ListMessages(_ context.Context, threadID string) ([]models.RemoteMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}

	msgs := make([]models.RemoteMessage, len(t.messages))
	for i, msg := range t.messages {
		msgs[i] = models.RemoteMessage{
			ID:      msg.ID,
			Role:    msg.Role,
			Content: models.TextContent(msg.Text),
		}
	}
	return msgs, nil
}

func (l *LocalAssistant) execute(runID, threadID, instructions string, history []models.Message) {
	defer l.wg.Done()

	logger := l.logger.With(slog.String("threadID", threadID), slog.String("runID", runID))
	l.setStatus(runID, models.RunStatusInProgress, "")

	ctx, cancel := context.WithTimeout(l.ctx, l.runTimeout)
	defer cancel()

	reply, err := l.chat(ctx, instructions, history)
	if err != nil {
		status := models.RunStatusFailed
		switch {
		case errors.Is(err, context.Canceled):
			status = models.RunStatusCancelled
		case errors.Is(err, context.DeadlineExceeded):
			status = models.RunStatusExpired
		}
		logger.Error("Run failed", slog.String("status", string(status)), slog.String(errLoggerKey, err.Error()))
		l.finishRun(runID, threadID, status, err.Error(), nil)
		return
	}

	l.finishRun(runID, threadID, models.RunStatusCompleted, "", &models.Message{
		ID:   "msg_" + uuid.New().String(),
		Role: models.RoleAssistant,
		Text: reply,
	})
	logger.Debug("Run completed")
}

func (l *LocalAssistant) chat(ctx context.Context, instructions string, history []models.Message) (string, error) {
	msgs := make([]api.Message, 0, len(history)+1)
	if instructions != "" {
		msgs = append(msgs, api.Message{
			Role:    "system",
			Content: instructions,
		})
	}
	for _, msg := range history {
		role := string(msg.Role)
		if msg.Role == models.RoleCode {
			role = string(models.RoleAssistant)
		}
		msgs = append(msgs, api.Message{
			Role:    role,
			Content: msg.Text,
		})
	}

	f := false
	req := api.ChatRequest{
		Model:    l.model,
		Messages: msgs,
		Stream:   &f,
	}

	var reply string
	if err := l.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		reply += res.Message.Content
		return nil
	}); err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	return reply, nil
}

func (l *LocalAssistant) setStatus(runID string, status models.RunStatus, lastError string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if run, ok := l.runs[runID]; ok {
		run.Status = status
		run.LastError = lastError
	}
}

func (l *LocalAssistant) finishRun(runID, threadID string, status models.RunStatus, lastError string, reply *models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.threads[threadID]; ok {
		if reply != nil {
			t.messages = append(t.messages, *reply)
		}
		t.activeRun = ""
	}
	if run, ok := l.runs[runID]; ok {
		run.Status = status
		run.LastError = lastError
	}
}
