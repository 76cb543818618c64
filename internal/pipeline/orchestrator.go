package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kbju-tracker/internal/llm"
	"kbju-tracker/internal/models"
)

// ErrBusy rejects a new message while a prior one is still in flight.
var ErrBusy = errors.New("a message is already being processed")

// ErrEmptyMessage rejects blank input before anything is persisted.
var ErrEmptyMessage = errors.New("empty message")

// Orchestrator owns one message cycle: transcript append, gateway call,
// envelope parse, reconciliation, reply. Single-flight: the domain store is
// only ever written from one cycle at a time.
type Orchestrator struct {
	store      Store
	gateway    Gateway
	reconciler *Reconciler
	presenter  Presenter
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	inFlight bool
}

func NewOrchestrator(store Store, gateway Gateway, reconciler *Reconciler, presenter Presenter, logger *zap.Logger) *Orchestrator {
	if presenter == nil {
		presenter = NopPresenter{}
	}
	return &Orchestrator{
		store:      store,
		gateway:    gateway,
		reconciler: reconciler,
		presenter:  presenter,
		logger:     logger,
		now:        time.Now,
	}
}

// Result is the final reply of one message cycle.
type Result struct {
	Kind  ResultKind
	Reply string
}

// ProcessMessage runs the full pipeline for one user message. Gateway
// failures and reconciliation errors become user-visible error replies rather
// than returned errors; mutations applied before a failure are not rolled
// back. Returns ErrBusy while another message is in flight.
func (o *Orchestrator) ProcessMessage(ctx context.Context, content string) (*Result, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	o.inFlight = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
		o.setPhase(PhaseIdle, "")
	}()

	history, err := o.store.ChatHistory()
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	// The user message always enters the transcript, even if everything
	// after it fails.
	now := o.now()
	userMsg := models.ChatMessage{
		ID:        fmt.Sprintf("user-%d", now.UnixNano()),
		Role:      models.RoleUser,
		Content:   content,
		Timestamp: now,
	}
	placeholder := models.ChatMessage{
		ID:        fmt.Sprintf("assistant-%d", now.UnixNano()),
		Role:      models.RoleAssistant,
		Timestamp: now,
	}
	history = append(history, userMsg, placeholder)
	if err := o.store.SaveChatHistory(history); err != nil {
		return nil, fmt.Errorf("failed to save chat history: %w", err)
	}
	o.presenter.OnMessageAppended(userMsg)
	o.presenter.OnMessageAppended(placeholder)

	result := o.runPipeline(ctx, history, userMsg)

	history[len(history)-1].Content = result.Reply
	if err := o.store.SaveChatHistory(history); err != nil {
		return nil, fmt.Errorf("failed to save chat history: %w", err)
	}
	o.presenter.OnMessageReplaced(placeholder.ID, result.Reply)

	return result, nil
}

// RunExclusive runs fn under the same in-flight guard as ProcessMessage.
// Store writes that originate outside a message cycle (reset, audit entry
// deletion) go through here so they cannot interleave with one. Returns
// ErrBusy while a cycle or another exclusive section is running.
func (o *Orchestrator) RunExclusive(fn func() error) error {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return ErrBusy
	}
	o.inFlight = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	return fn()
}

func (o *Orchestrator) runPipeline(ctx context.Context, history []models.ChatMessage, userMsg models.ChatMessage) *Result {
	o.setPhase(PhaseExtracting, "Interpreting your message...")

	snap, err := o.snapshot()
	if err != nil {
		o.logger.Error("failed to build snapshot", zap.Error(err))
		return &Result{Kind: ResultGeneral, Reply: errorReply(err)}
	}

	raw, err := o.gateway.Send(ctx, history, snap)
	if err != nil {
		o.logger.Error("gateway call failed", zap.Error(err))
		return &Result{Kind: ResultGeneral, Reply: errorReply(err)}
	}

	o.setPhase(PhaseProcessing, "Processing the answer...")
	env := ParseEnvelope(raw)
	if env == nil {
		// Permissive degrade: the prose itself becomes the reply, no
		// state is touched.
		o.logger.Debug("no envelope in model output, using raw reply")
		return &Result{Kind: ResultGeneral, Reply: raw}
	}

	o.setPhase(PhaseSaving, "Saving...")
	outcome, err := o.reconciler.Apply(ctx, env, userMsg.ID)
	if err != nil {
		o.logger.Error("reconciliation failed", zap.String("action", string(env.Action)), zap.Error(err))
		// A PartialError may wrap a ValidationError, so it must be
		// checked first.
		var vErr *models.ValidationError
		var pErr *PartialError
		switch {
		case errors.As(err, &pErr):
			// Already-applied sub-steps stand; only report the failure.
			return &Result{
				Kind:  ResultEntryAdded,
				Reply: env.Response + fmt.Sprintf("\n\nPart of the entry could not be saved (%s step failed).", pErr.Step),
			}
		case errors.As(err, &vErr):
			return &Result{Kind: ResultGeneral, Reply: fmt.Sprintf("I couldn't save that: %v", vErr)}
		default:
			return &Result{Kind: ResultGeneral, Reply: errorReply(err)}
		}
	}

	return &Result{Kind: outcome.Kind, Reply: outcome.Response}
}

func (o *Orchestrator) snapshot() (llm.Snapshot, error) {
	profile, err := o.store.Profile()
	if err != nil {
		return llm.Snapshot{}, fmt.Errorf("failed to load profile: %w", err)
	}
	entries, err := o.store.Entries()
	if err != nil {
		return llm.Snapshot{}, fmt.Errorf("failed to load entries: %w", err)
	}
	goal, err := o.store.Goal()
	if err != nil {
		return llm.Snapshot{}, fmt.Errorf("failed to load goal: %w", err)
	}
	userCtx, err := o.store.Context()
	if err != nil {
		return llm.Snapshot{}, fmt.Errorf("failed to load context: %w", err)
	}
	return llm.Snapshot{
		Profile: profile,
		Entries: entries,
		Goal:    goal,
		Context: userCtx,
	}, nil
}

func (o *Orchestrator) setPhase(phase Phase, label string) {
	o.presenter.OnPhaseChange(phase, label)
}

func errorReply(err error) string {
	return fmt.Sprintf("Sorry, something went wrong while processing your message: %v", err)
}
