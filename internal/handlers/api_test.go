package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/handlers"
	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
	"github.com/MegaGrindStone/assistant-web-ui/internal/transcript"
	"github.com/MegaGrindStone/assistant-web-ui/internal/turn"
	"github.com/gorilla/mux"
)

func newAPIServer(t *testing.T, tr turn.Transport, limit handlers.RateLimit) *httptest.Server {
	t.Helper()

	r := mux.NewRouter()
	api := handlers.NewAPI(tr, "default instructions", limit, discardLogger())
	api.Register(r.PathPrefix("/api/assistants").Subrouter())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res.StatusCode, out
}

func TestAPIRoutes(t *testing.T) {
	tr := &mockTransport{}
	srv := newAPIServer(t, tr, handlers.RateLimit{RPS: 1000, Burst: 1000})
	base := srv.URL + "/api/assistants"

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantKey    string
		wantValue  any
	}{
		{
			name:       "Create thread",
			method:     http.MethodPost,
			path:       "/threads",
			wantStatus: http.StatusOK,
			wantKey:    "threadId",
			wantValue:  "thread-1",
		},
		{
			name:       "Add message with default role",
			method:     http.MethodPost,
			path:       "/threads/thread-1/messages",
			body:       `{"content":"Hello"}`,
			wantStatus: http.StatusOK,
			wantKey:    "id",
			wantValue:  "srv-1",
		},
		{
			name:       "Add message with unknown role",
			method:     http.MethodPost,
			path:       "/threads/thread-1/messages",
			body:       `{"role":"system","content":"Hello"}`,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
		},
		{
			name:       "Add message without content",
			method:     http.MethodPost,
			path:       "/threads/thread-1/messages",
			body:       `{"role":"user","content":"  "}`,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
		},
		{
			name:       "Add message with invalid json",
			method:     http.MethodPost,
			path:       "/threads/thread-1/messages",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
		},
		{
			name:       "Create run without body",
			method:     http.MethodPost,
			path:       "/threads/thread-1/runs",
			wantStatus: http.StatusOK,
			wantKey:    "runId",
			wantValue:  "run-1",
		},
		{
			name:       "Retrieve run",
			method:     http.MethodGet,
			path:       "/threads/thread-1/runs/run-1",
			wantStatus: http.StatusOK,
			wantKey:    "status",
			wantValue:  "completed",
		},
		{
			name:       "Unknown route",
			method:     http.MethodDelete,
			path:       "/threads/thread-1",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doJSON(t, tt.method, base+tt.path, tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", status, tt.wantStatus)
			}
			if tt.wantKey == "" {
				return
			}
			got, ok := body[tt.wantKey]
			if !ok {
				t.Fatalf("body %v has no %q", body, tt.wantKey)
			}
			if tt.wantValue != nil && got != tt.wantValue {
				t.Errorf("%s = %v, want %v", tt.wantKey, got, tt.wantValue)
			}
		})
	}

	msg, instructions := tr.last()
	if msg.Role != models.RoleUser {
		t.Errorf("role forwarded = %q, want user", msg.Role)
	}
	if instructions != "default instructions" {
		t.Errorf("instructions forwarded = %q, want the default", instructions)
	}
}

func TestAPIListMessages(t *testing.T) {
	tr := &mockTransport{}
	srv := newAPIServer(t, tr, handlers.RateLimit{})
	base := srv.URL + "/api/assistants/threads/thread-1/messages"

	if status, _ := doJSON(t, http.MethodPost, base, `{"content":"Hello"}`); status != http.StatusOK {
		t.Fatalf("add message status = %d", status)
	}

	res, err := http.Get(base)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	var msgs []models.RemoteMessage
	if err := json.NewDecoder(res.Body).Decode(&msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "srv-1" || msgs[0].FirstText() != "Hello" {
		t.Errorf("messages = %+v, want srv-1 Hello", msgs)
	}
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "Assistant failure", err: errors.New("upstream down"), wantStatus: http.StatusInternalServerError},
		{name: "Unknown thread", err: fmt.Errorf("thread x: %w", services.ErrNotFound), wantStatus: http.StatusNotFound},
		{name: "Active run", err: fmt.Errorf("thread x: %w", services.ErrRunActive), wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newAPIServer(t, &mockTransport{err: tt.err}, handlers.RateLimit{})

			status, body := doJSON(t, http.MethodPost, srv.URL+"/api/assistants/threads", "")
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if msg, _ := body["error"].(string); !strings.Contains(msg, tt.err.Error()) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.err.Error())
			}
		})
	}
}

func TestAPIRateLimit(t *testing.T) {
	srv := newAPIServer(t, &mockTransport{}, handlers.RateLimit{RPS: 0.001, Burst: 1})
	url := srv.URL + "/api/assistants/threads"

	if status, _ := doJSON(t, http.MethodPost, url, ""); status != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", status)
	}
	status, body := doJSON(t, http.MethodPost, url, "")
	if status != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", status)
	}
	if body["error"] == nil {
		t.Error("rate limited response has no error message")
	}
}

func TestTurnThroughProxy(t *testing.T) {
	tr := &mockTransport{}
	srv := newAPIServer(t, tr, handlers.RateLimit{RPS: 1000, Burst: 1000})

	client := services.NewProxyClient(srv.URL+"/api/assistants", srv.Client(), discardLogger())
	store := transcript.NewStore()
	o := turn.NewOrchestrator(client, store, turn.Config{PollInterval: 5 * time.Millisecond}, discardLogger())

	ctx := context.Background()
	if _, err := o.OpenThread(ctx); err != nil {
		t.Fatalf("OpenThread() error = %v", err)
	}
	store.InsertOptimistic("temp-1", "Hello")
	if err := o.SubmitTurn(ctx, "Hello", "temp-1"); err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}

	want := []models.Message{
		{ID: "srv-1", Role: models.RoleUser, Text: "Hello"},
		{ID: "srv-2", Role: models.RoleAssistant, Text: "Hi there"},
	}
	if got := store.Messages(); !slices.Equal(got, want) {
		t.Errorf("store = %+v, want %+v", got, want)
	}
	if f := o.Flags(); f.InputDisabled || f.Thinking {
		t.Errorf("Flags() = %+v, want both false", f)
	}
}
