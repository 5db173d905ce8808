package models_test

import (
	"errors"
	"testing"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    models.Role
		wantErr bool
	}{
		{name: "user", input: "user", want: models.RoleUser},
		{name: "assistant", input: "assistant", want: models.RoleAssistant},
		{name: "code", input: "code", want: models.RoleCode},
		{name: "mixed case and spaces", input: "  Assistant ", want: models.RoleAssistant},
		{name: "system is rejected", input: "system", wantErr: true},
		{name: "tool is rejected", input: "tool", wantErr: true},
		{name: "empty is rejected", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := models.ParseRole(tt.input)
			if tt.wantErr {
				if !errors.Is(err, models.ErrUnknownRole) {
					t.Fatalf("ParseRole(%q) error = %v, want ErrUnknownRole", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRole(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRemoteMessageFirstText(t *testing.T) {
	tests := []struct {
		name string
		msg  models.RemoteMessage
		want string
	}{
		{
			name: "text block",
			msg:  models.RemoteMessage{Content: models.TextContent("Hi there")},
			want: "Hi there",
		},
		{
			name: "no content",
			msg:  models.RemoteMessage{},
			want: "",
		},
		{
			name: "first block without text",
			msg: models.RemoteMessage{Content: []models.ContentBlock{
				{Type: "image_file"},
				{Type: "text", Text: &models.TextBlock{Value: "ignored"}},
			}},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.FirstText(); got != tt.want {
				t.Errorf("FirstText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunStatusIsPending(t *testing.T) {
	// A new run is reported as queued before it starts, so queued keeps the poll loop going.
	if !models.RunStatusQueued.IsPending() {
		t.Error("queued.IsPending() = false, a new run would end its turn before starting")
	}

	pending := []models.RunStatus{
		models.RunStatusRunning,
		models.RunStatusInProgress,
		models.RunStatusRequiresAction,
		models.RunStatusWaiting,
	}
	for _, s := range pending {
		if !s.IsPending() {
			t.Errorf("%q.IsPending() = false, want true", s)
		}
	}

	settled := []models.RunStatus{
		models.RunStatusCompleted,
		models.RunStatusFailed,
		models.RunStatusCancelled,
		models.RunStatusExpired,
		models.RunStatusIncomplete,
		models.RunStatus("something_new"),
	}
	for _, s := range settled {
		if s.IsPending() {
			t.Errorf("%q.IsPending() = true, want false", s)
		}
	}

	if !models.RunStatusCompleted.IsCompleted() {
		t.Error("completed.IsCompleted() = false")
	}
	if models.RunStatusFailed.IsCompleted() {
		t.Error("failed.IsCompleted() = true")
	}
}
