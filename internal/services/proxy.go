package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
)

// ProxyClient reaches the assistant service through the proxy routes served by this application, so
// clients never hold the service credentials.
type ProxyClient struct {
	baseURL string

	client *http.Client

	logger *slog.Logger
}

// StatusError is returned when the proxy answers with a non-2xx status. Body holds the error message
// the proxy reported, or the raw body when it is not the usual error object.
type StatusError struct {
	Code int
	Body string
}

const maxErrorBody = 4 << 10

// NewProxyClient creates a ProxyClient for the routes mounted at baseURL, for example
// http://localhost:8080/api/assistants. A nil client means http.DefaultClient.
func NewProxyClient(baseURL string, client *http.Client, logger *slog.Logger) ProxyClient {
	if client == nil {
		client = http.DefaultClient
	}
	return ProxyClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		logger:  logger.With(slog.String("module", "proxy-client")),
	}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("proxy responded with status %d: %s", e.Code, e.Body)
}

// CreateThread calls POST /threads.
func (p ProxyClient) CreateThread(ctx context.Context) (string, error) {
	var res models.CreateThreadResponse
	if err := p.do(ctx, http.MethodPost, "/threads", struct{}{}, &res); err != nil {
		return "", fmt.Errorf("error creating thread: %w", err)
	}
	return res.ThreadID, nil
}

// AddMessage calls POST /threads/{threadId}/messages.
func (p ProxyClient) AddMessage(ctx context.Context, threadID string, msg models.NewMessage) (string, error) {
	req := models.AddMessageRequest{
		Role:    string(msg.Role),
		Content: msg.Content,
	}
	var res models.AddMessageResponse
	if err := p.do(ctx, http.MethodPost, threadPath(threadID, "messages"), req, &res); err != nil {
		return "", fmt.Errorf("error adding message: %w", err)
	}
	return res.ID, nil
}

// CreateRun calls POST /threads/{threadId}/runs.
func (p ProxyClient) CreateRun(ctx context.Context, threadID, instructions string) (string, error) {
	req := models.CreateRunRequest{Instructions: instructions}
	var res models.CreateRunResponse
	if err := p.do(ctx, http.MethodPost, threadPath(threadID, "runs"), req, &res); err != nil {
		return "", fmt.Errorf("error creating run: %w", err)
	}
	return res.RunID, nil
}

// RunStatus calls GET /threads/{threadId}/runs/{runId}.
func (p ProxyClient) RunStatus(ctx context.Context, threadID, runID string) (models.Run, error) {
	var run models.Run
	path := threadPath(threadID, "runs", runID)
	if err := p.do(ctx, http.MethodGet, path, nil, &run); err != nil {
		return models.Run{}, fmt.Errorf("error retrieving run: %w", err)
	}
	return run, nil
}

// ListMessages calls GET /threads/{threadId}/messages.
func (p ProxyClient) ListMessages(ctx context.Context, threadID string) ([]models.RemoteMessage, error) {
	var msgs []models.RemoteMessage
	if err := p.do(ctx, http.MethodGet, threadPath(threadID, "messages"), nil, &msgs); err != nil {
		return nil, fmt.Errorf("error listing messages: %w", err)
	}
	return msgs, nil
}

func threadPath(threadID string, elems ...string) string {
	parts := []string{"/threads", url.PathEscape(threadID)}
	for _, e := range elems {
		parts = append(parts, url.PathEscape(e))
	}
	return strings.Join(parts, "/")
}

func (p ProxyClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(raw))
		var e models.ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		p.logger.Debug("Proxy call failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode))
		return &StatusError{Code: resp.StatusCode, Body: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
