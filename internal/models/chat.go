package models

// Thread represents a conversation context owned by the assistant service. The client only keeps its
// identifier for the lifetime of a session.
type Thread struct {
	ID string `json:"id"`
}

// Run represents one assistant turn executed against a thread. It is only held for the lifetime of one
// poll loop.
type Run struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Status    RunStatus `json:"status"`
	LastError string    `json:"last_error,omitempty"`
}

// RunStatus is the lifecycle state of a run as reported by the assistant service.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusRunning        RunStatus = "running"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusWaiting        RunStatus = "waiting"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// IsPending reports whether the run is still being worked on and its status should be fetched again.
// Any status outside the pending set, unknown ones included, ends the poll loop.
func (s RunStatus) IsPending() bool {
	switch s {
	// Deviation: the documented poll contract treats only running, requires_action, waiting and
	// in_progress as pending, making queued terminal. Queued is polled on because the service reports
	// every new run as queued before it starts, and stopping there would end each turn without a reply.
	case RunStatusQueued:
		return true
	case RunStatusRunning, RunStatusInProgress, RunStatusRequiresAction, RunStatusWaiting:
		return true
	default:
		return false
	}
}

// IsCompleted reports whether the run finished successfully.
func (s RunStatus) IsCompleted() bool {
	return s == RunStatusCompleted
}
