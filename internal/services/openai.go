package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI reaches the OpenAI Assistants API. Every run it creates executes on the configured assistant.
type OpenAI struct {
	assistantID string

	client *goopenai.Client

	logger *slog.Logger
}

const openAIListLimit = 100

// NewOpenAI creates a new OpenAI instance with the specified API key and assistant id. An empty baseURL
// keeps the public endpoint.
func NewOpenAI(apiKey, baseURL, assistantID string, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return OpenAI{
		assistantID: assistantID,
		client:      goopenai.NewClientWithConfig(cfg),
		logger:      logger.With(slog.String("module", "openai")),
	}
}

// CreateThread creates an empty thread.
func (o OpenAI) CreateThread(ctx context.Context) (string, error) {
	thread, err := o.client.CreateThread(ctx, goopenai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("error creating thread: %w", err)
	}

	o.logger.Debug("Created thread", slog.String("threadID", thread.ID))
	return thread.ID, nil
}

// AddMessage appends msg to the thread. An empty role is sent as user.
func (o OpenAI) AddMessage(ctx context.Context, threadID string, msg models.NewMessage) (string, error) {
	role := models.RoleUser
	if msg.Role != "" {
		r, err := models.ParseRole(string(msg.Role))
		if err != nil {
			return "", err
		}
		role = r
	}

	res, err := o.client.CreateMessage(ctx, threadID, goopenai.MessageRequest{
		Role:    string(role),
		Content: msg.Content,
	})
	if err != nil {
		return "", fmt.Errorf("error adding message: %w", err)
	}

	o.logger.Debug("Added message", slog.String("threadID", threadID), slog.String("messageID", res.ID))
	return res.ID, nil
}

// CreateRun starts a run of the configured assistant on the thread.
func (o OpenAI) CreateRun(ctx context.Context, threadID, instructions string) (string, error) {
	run, err := o.client.CreateRun(ctx, threadID, goopenai.RunRequest{
		AssistantID:  o.assistantID,
		Instructions: instructions,
	})
	if err != nil {
		return "", fmt.Errorf("error creating run: %w", err)
	}

	return run.ID, nil
}

// RunStatus retrieves the run.
func (o OpenAI) RunStatus(ctx context.Context, threadID, runID string) (models.Run, error) {
	run, err := o.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return models.Run{}, fmt.Errorf("error retrieving run: %w", err)
	}

	res := models.Run{
		ID:       run.ID,
		ThreadID: run.ThreadID,
		Status:   models.RunStatus(run.Status),
	}
	if run.LastError != nil {
		res.LastError = run.LastError.Message
	}
	return res, nil
}

// ListMessages returns the newest page of the thread's messages, oldest first. Messages in a role this
// application does not know are left out.
func (o OpenAI) ListMessages(ctx context.Context, threadID string) ([]models.RemoteMessage, error) {
	limit := openAIListLimit
	order := "desc"
	list, err := o.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("error listing messages: %w", err)
	}

	msgs := make([]models.RemoteMessage, 0, len(list.Messages))
	for _, msg := range list.Messages {
		role, err := models.ParseRole(msg.Role)
		if err != nil {
			o.logger.Warn("Skipping message",
				slog.String("messageID", msg.ID),
				slog.String("role", msg.Role),
				slog.String(errLoggerKey, err.Error()))
			continue
		}

		rm := models.RemoteMessage{
			ID:   msg.ID,
			Role: role,
		}
		for _, ct := range msg.Content {
			block := models.ContentBlock{Type: ct.Type}
			if ct.Text != nil {
				block.Text = &models.TextBlock{Value: ct.Text.Value}
			}
			rm.Content = append(rm.Content, block)
		}
		msgs = append(msgs, rm)
	}
	slices.Reverse(msgs)

	return msgs, nil
}
