package pipeline

import (
	"context"

	"kbju-tracker/internal/llm"
	"kbju-tracker/internal/models"
)

// Store is the persistence interface the pipeline consumes. Implementations
// return nil (not an error) for aggregates that do not exist yet. Under the
// orchestrator's single-flight invariant the store never sees concurrent
// writers.
type Store interface {
	Profile() (*models.UserProfile, error)
	SetProfile(*models.UserProfile) error

	Entries() ([]models.DailyEntry, error)
	EntryByDate(date string) (*models.DailyEntry, error)
	SaveEntry(*models.DailyEntry) error
	DeleteEntry(id string) error

	Goal() (*models.KBJUGoal, error)
	SetGoal(*models.KBJUGoal) error

	Context() (*models.UserContext, error)
	SetContext(*models.UserContext) error

	ActivityLog() ([]models.ActivityLogEntry, error)
	AppendActivityLogEntry(*models.ActivityLogEntry) error
	DeleteActivityLogEntry(id string) error

	ChatHistory() ([]models.ChatMessage, error)
	SaveChatHistory([]models.ChatMessage) error

	// Reset clears every aggregate atomically from the pipeline's point of
	// view.
	Reset() error
}

// Gateway sends the conversation plus a snapshot-derived system instruction to
// the model and returns the raw reply text.
type Gateway interface {
	Send(ctx context.Context, conversation []models.ChatMessage, snap llm.Snapshot) (string, error)
}

// Estimator fills in nutrition values for meals the model extracted without
// them.
type Estimator interface {
	EstimateMeal(ctx context.Context, mealName string) (*llm.MealEstimate, error)
}

// Phase labels the pipeline's progress through one message cycle. Advisory
// only; not a concurrency domain.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseExtracting Phase = "extracting"
	PhaseProcessing Phase = "processing"
	PhaseSaving     Phase = "saving"
)

// Presenter receives transcript and phase updates for user feedback.
type Presenter interface {
	OnPhaseChange(phase Phase, label string)
	OnMessageAppended(msg models.ChatMessage)
	OnMessageReplaced(messageID, content string)
}

// NopPresenter discards all presentation callbacks.
type NopPresenter struct{}

func (NopPresenter) OnPhaseChange(Phase, string)          {}
func (NopPresenter) OnMessageAppended(models.ChatMessage) {}
func (NopPresenter) OnMessageReplaced(string, string)     {}
