package models

// Request and response bodies of the proxy routes.

// CreateThreadResponse is returned by POST /threads.
type CreateThreadResponse struct {
	ThreadID string `json:"threadId"`
}

// AddMessageRequest is the body of POST /threads/{threadId}/messages. An empty role means user.
type AddMessageRequest struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// AddMessageResponse is returned by POST /threads/{threadId}/messages.
type AddMessageResponse struct {
	ID string `json:"id"`
}

// CreateRunRequest is the body of POST /threads/{threadId}/runs.
type CreateRunRequest struct {
	Instructions string `json:"instructions,omitempty"`
}

// CreateRunResponse is returned by POST /threads/{threadId}/runs.
type CreateRunResponse struct {
	RunID string `json:"runId"`
}

// ErrorResponse is the body of every failed proxy call.
type ErrorResponse struct {
	Error string `json:"error"`
}
