// Package turn drives one conversation turn against an assistant service: it appends the user message to
// the thread, starts a run, polls the run until it settles and merges the reply into the message store.
//
// A turn never reports transport failures to its caller. Any failure ends the turn, releases the input
// gate and is logged; the user recovers by submitting again.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/transcript"
	"github.com/google/uuid"
)

// Transport is the assistant service as seen by the orchestrator. Any returned error is treated as a
// non-success response.
type Transport interface {
	CreateThread(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, threadID string, msg models.NewMessage) (string, error)
	CreateRun(ctx context.Context, threadID string, instructions string) (string, error)
	RunStatus(ctx context.Context, threadID, runID string) (models.Run, error)
	// ListMessages returns the messages of the thread, oldest first.
	ListMessages(ctx context.Context, threadID string) ([]models.RemoteMessage, error)
}

// Config tunes an Orchestrator.
type Config struct {
	// Instructions is sent with every run.
	Instructions string

	PollInterval time.Duration
	PollTimeout  time.Duration
	MaxPolls     int

	// Waiters overrides the poll cadence, nil means NewIntervalWaiter.
	Waiters WaiterFactory
}

// Flags are the UI flags a presentation layer binds its input to.
type Flags struct {
	InputDisabled bool
	Thinking      bool
}

// Snapshot is the observable state of a conversation.
type Snapshot struct {
	ThreadID string
	Messages []models.Message
	Flags    Flags
}

// Orchestrator executes turns for a single conversation. Only one turn runs at a time; a submission made
// while a turn is in flight is rejected with ErrTurnInFlight.
type Orchestrator struct {
	transport    Transport
	store        *transcript.Store
	poller       Poller
	instructions string

	gate gate

	mu        sync.RWMutex
	threadID  string
	observers []func(Snapshot)

	logger *slog.Logger
}

type outcome string

const (
	outcomeCompleted          outcome = "completed"
	outcomeNoReply            outcome = "no_reply"
	outcomeRunEnded           outcome = "run_ended"
	outcomeAddMessageFailed   outcome = "add_message_failed"
	outcomeCreateRunFailed    outcome = "create_run_failed"
	outcomePollFailed         outcome = "poll_failed"
	outcomeListMessagesFailed outcome = "list_messages_failed"
)

const errLoggerKey = "err"

var (
	// ErrEmptyInput is returned when the submitted text is blank.
	ErrEmptyInput = errors.New("message is empty")
	// ErrNoThread is returned when a turn is submitted before a thread is opened.
	ErrNoThread = errors.New("no thread is open")
	// ErrTurnInFlight is returned when a turn is submitted while another one holds the input gate.
	ErrTurnInFlight = errors.New("a turn is already in flight")
)

// NewOrchestrator creates an Orchestrator that mutates store and reaches the assistant service through
// transport.
func NewOrchestrator(transport Transport, store *transcript.Store, cfg Config, logger *slog.Logger) *Orchestrator {
	logger = logger.With(slog.String("module", "turn"))
	return &Orchestrator{
		transport: transport,
		store:     store,
		poller: Poller{
			Interval:    cfg.PollInterval,
			MaxAttempts: cfg.MaxPolls,
			Timeout:     cfg.PollTimeout,
			Waiters:     cfg.Waiters,
			logger:      logger,
		},
		instructions: cfg.Instructions,
		logger:       logger,
	}
}

// NewTemporaryID returns an id for an optimistic entry, distinct from any id the server assigns.
func NewTemporaryID() string {
	return "temp-" + uuid.New().String()
}

// ThreadID returns the id of the open thread, or an empty string.
func (o *Orchestrator) ThreadID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.threadID
}

// OpenThread creates a thread on the assistant service unless one is already open, and returns its id.
func (o *Orchestrator) OpenThread(ctx context.Context) (string, error) {
	if id := o.ThreadID(); id != "" {
		return id, nil
	}

	id, err := o.transport.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}

	o.mu.Lock()
	if o.threadID == "" {
		o.threadID = id
	}
	id = o.threadID
	o.mu.Unlock()

	o.logger.Info("Thread opened", slog.String("threadID", id))
	o.publish()
	return id, nil
}

// Resume continues an existing thread with previously held messages.
func (o *Orchestrator) Resume(threadID string, messages []models.Message) error {
	if !o.gate.acquire() {
		return ErrTurnInFlight
	}

	o.mu.Lock()
	o.threadID = threadID
	o.mu.Unlock()
	o.store.Restore(messages)

	o.gate.release()
	o.publish()
	return nil
}

// Reset forgets the open thread and empties the store. The next turn needs a new thread.
func (o *Orchestrator) Reset() error {
	if !o.gate.acquire() {
		return ErrTurnInFlight
	}

	o.mu.Lock()
	o.threadID = ""
	o.mu.Unlock()
	o.store.Reset()

	o.gate.release()
	o.publish()
	return nil
}

// Flags reports the current UI flags.
func (o *Orchestrator) Flags() Flags {
	busy := o.gate.inFlight()
	return Flags{
		InputDisabled: busy,
		Thinking:      busy,
	}
}

// Snapshot returns the observable state of the conversation.
func (o *Orchestrator) Snapshot() Snapshot {
	return Snapshot{
		ThreadID: o.ThreadID(),
		Messages: o.store.Messages(),
		Flags:    o.Flags(),
	}
}

// Subscribe registers fn to be called with a fresh Snapshot after every change of the store or the flags.
// fn runs on the goroutine executing the turn and must not block.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.observers = append(o.observers, fn)
}

func (o *Orchestrator) publish() {
	o.mu.RLock()
	observers := o.observers
	o.mu.RUnlock()

	if len(observers) == 0 {
		return
	}
	snap := o.Snapshot()
	for _, fn := range observers {
		fn(snap)
	}
}

// Submit trims text and runs a turn for it, showing it in the store under a temporary id until the
// server acknowledges it. It blocks until the turn reaches a terminal outcome.
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	t, err := o.begin(strings.TrimSpace(text), NewTemporaryID(), true)
	if err != nil {
		return err
	}
	o.finish(ctx, t)
	return nil
}

// Start is Submit without the wait: the gate is acquired before it returns, and the turn continues on its
// own goroutine. The returned channel is closed once the turn reaches a terminal outcome.
func (o *Orchestrator) Start(ctx context.Context, text string) (<-chan struct{}, error) {
	t, err := o.begin(strings.TrimSpace(text), NewTemporaryID(), true)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.finish(ctx, t)
	}()
	return done, nil
}

// SubmitTurn runs a turn for text, whose optimistic entry, if any, was stored under temporaryID. It blocks
// until the turn reaches a terminal outcome. The returned error only reports why the turn could not
// start; failures during the turn are absorbed.
func (o *Orchestrator) SubmitTurn(ctx context.Context, text, temporaryID string) error {
	t, err := o.begin(text, temporaryID, false)
	if err != nil {
		return err
	}
	o.finish(ctx, t)
	return nil
}

type pendingTurn struct {
	threadID string
	text     string
	tempID   string
	start    time.Time
}

func (o *Orchestrator) begin(text, tempID string, optimistic bool) (pendingTurn, error) {
	if strings.TrimSpace(text) == "" {
		return pendingTurn{}, ErrEmptyInput
	}
	threadID := o.ThreadID()
	if threadID == "" {
		return pendingTurn{}, ErrNoThread
	}
	if !o.gate.acquire() {
		return pendingTurn{}, ErrTurnInFlight
	}
	turnsInFlight.Inc()

	if optimistic {
		o.store.InsertOptimistic(tempID, text)
	}
	o.publish()

	return pendingTurn{
		threadID: threadID,
		text:     text,
		tempID:   tempID,
		start:    time.Now(),
	}, nil
}

func (o *Orchestrator) finish(ctx context.Context, t pendingTurn) {
	defer func() {
		o.gate.release()
		turnsInFlight.Dec()
		turnDuration.Observe(time.Since(t.start).Seconds())
		o.publish()
	}()

	out := o.runTurn(ctx, t.threadID, t.text, t.tempID)
	turnsTotal.WithLabelValues(string(out)).Inc()

	o.logger.Debug("Turn finished",
		slog.String("threadID", t.threadID),
		slog.String("outcome", string(out)),
		slog.Duration("elapsed", time.Since(t.start)))
}

func (o *Orchestrator) runTurn(ctx context.Context, threadID, text, tempID string) outcome {
	logger := o.logger.With(slog.String("threadID", threadID), slog.String("tempID", tempID))

	msgID, err := o.transport.AddMessage(ctx, threadID, models.NewMessage{
		Role:    models.RoleUser,
		Content: text,
	})
	if err != nil {
		logger.Error("Failed to add message",
			slog.String("stage", "add_message"),
			slog.String(errLoggerKey, err.Error()))
		return outcomeAddMessageFailed
	}

	o.store.Acknowledge(tempID, msgID, text)
	o.store.BeginReply()
	o.publish()

	runID, err := o.transport.CreateRun(ctx, threadID, o.instructions)
	if err != nil {
		logger.Error("Failed to create run",
			slog.String("stage", "create_run"),
			slog.String(errLoggerKey, err.Error()))
		o.dropReply()
		return outcomeCreateRunFailed
	}
	logger = logger.With(slog.String("runID", runID))

	run, err := o.poller.Poll(ctx, func(ctx context.Context) (models.Run, error) {
		return o.transport.RunStatus(ctx, threadID, runID)
	})
	if err != nil {
		logger.Error("Failed to poll run status",
			slog.String("stage", "poll"),
			slog.String(errLoggerKey, err.Error()))
		o.dropReply()
		return outcomePollFailed
	}

	if !run.Status.IsCompleted() {
		logger.Warn("Run ended without completing",
			slog.String("status", string(run.Status)),
			slog.String("lastError", run.LastError))
		return outcomeRunEnded
	}

	list, err := o.transport.ListMessages(ctx, threadID)
	if err != nil {
		logger.Error("Failed to list messages",
			slog.String("stage", "list_messages"),
			slog.String(errLoggerKey, err.Error()))
		o.dropReply()
		return outcomeListMessagesFailed
	}

	reply, ok := o.store.Reconcile(list)
	if !ok {
		logger.Warn("Run completed without a new assistant message")
		return outcomeNoReply
	}
	o.publish()

	logger.Debug("Reply merged", slog.String("messageID", reply.ID))
	return outcomeCompleted
}

func (o *Orchestrator) dropReply() {
	o.store.DropReply()
	o.publish()
}
