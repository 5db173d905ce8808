package services_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAssistantsServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/threads", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"id": "thread_1", "object": "thread"})
	})
	mux.HandleFunc("POST /v1/threads/{threadID}/messages", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role != "user" {
			http.Error(w, `{"error":{"message":"bad message"}}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"id": "msg_1", "object": "thread.message", "role": req.Role})
	})
	mux.HandleFunc("POST /v1/threads/{threadID}/runs", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AssistantID string `json:"assistant_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AssistantID != "asst_1" {
			http.Error(w, `{"error":{"message":"bad run"}}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"id": "run_1", "thread_id": r.PathValue("threadID"), "status": "queued"})
	})
	mux.HandleFunc("GET /v1/threads/{threadID}/runs/{runID}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"id":         r.PathValue("runID"),
			"thread_id":  r.PathValue("threadID"),
			"status":     "failed",
			"last_error": map[string]any{"code": "server_error", "message": "boom"},
		})
	})
	mux.HandleFunc("GET /v1/threads/{threadID}/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("order") != "desc" {
			http.Error(w, `{"error":{"message":"want desc"}}`, http.StatusBadRequest)
			return
		}
		text := func(v string) []map[string]any {
			return []map[string]any{{"type": "text", "text": map[string]any{"value": v, "annotations": []any{}}}}
		}
		writeJSON(w, map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "msg_3", "role": "assistant", "content": text("Hi there")},
				{"id": "msg_2", "role": "system", "content": text("ignored")},
				{"id": "msg_1", "role": "user", "content": text("Hello")},
			},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestOpenAITransport(t *testing.T) {
	srv := newAssistantsServer(t)
	o := services.NewOpenAI("sk-test", srv.URL+"/v1", "asst_1", discardLogger())
	ctx := context.Background()

	threadID, err := o.CreateThread(ctx)
	if err != nil || threadID != "thread_1" {
		t.Fatalf("CreateThread() = %q, %v", threadID, err)
	}

	msgID, err := o.AddMessage(ctx, threadID, models.NewMessage{Content: "Hello"})
	if err != nil || msgID != "msg_1" {
		t.Fatalf("AddMessage() = %q, %v", msgID, err)
	}

	runID, err := o.CreateRun(ctx, threadID, "be brief")
	if err != nil || runID != "run_1" {
		t.Fatalf("CreateRun() = %q, %v", runID, err)
	}

	run, err := o.RunStatus(ctx, threadID, runID)
	if err != nil {
		t.Fatalf("RunStatus() error = %v", err)
	}
	want := models.Run{ID: "run_1", ThreadID: "thread_1", Status: models.RunStatusFailed, LastError: "boom"}
	if run != want {
		t.Errorf("RunStatus() = %+v, want %+v", run, want)
	}

	msgs, err := o.ListMessages(ctx, threadID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if !slices.Equal(ids, []string{"msg_1", "msg_3"}) {
		t.Errorf("ListMessages() ids = %v, want [msg_1 msg_3]", ids)
	}
	if got := msgs[1].FirstText(); got != "Hi there" {
		t.Errorf("last message text = %q, want %q", got, "Hi there")
	}
}

func TestOpenAIRejectsUnknownRole(t *testing.T) {
	srv := newAssistantsServer(t)
	o := services.NewOpenAI("sk-test", srv.URL+"/v1", "asst_1", discardLogger())

	_, err := o.AddMessage(context.Background(), "thread_1", models.NewMessage{Role: "system", Content: "x"})
	if err == nil {
		t.Fatal("AddMessage() with unknown role should fail")
	}
}

func TestOpenAIServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"down","type":"server_error"}}`)
	}))
	defer srv.Close()

	o := services.NewOpenAI("sk-test", srv.URL+"/v1", "asst_1", discardLogger())
	if _, err := o.CreateThread(context.Background()); err == nil {
		t.Error("CreateThread() should fail on a 500 response")
	}
}
