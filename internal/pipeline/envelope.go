// Package pipeline contains the message-processing core: parsing the model's
// structured envelope, reconciling it into domain state mutations, the
// append-only audit trail and the conversation orchestrator that sequences
// them.
package pipeline

import (
	"kbju-tracker/internal/models"
)

// Action is the tag the model uses to classify one message. The parser
// guarantees downstream code only ever sees one of these values.
type Action string

const (
	ActionCreateProfile Action = "create_profile"
	ActionUpdateProfile Action = "update_profile"
	ActionAddEntry      Action = "add_entry"
	ActionUpdateGoal    Action = "update_goal"
	ActionShowStats     Action = "show_stats"
	ActionShowGoal      Action = "show_goal"
	ActionGeneral       Action = "general"
)

func validAction(a Action) bool {
	switch a {
	case ActionCreateProfile, ActionUpdateProfile, ActionAddEntry,
		ActionUpdateGoal, ActionShowStats, ActionShowGoal, ActionGeneral:
		return true
	}
	return false
}

// Envelope is the transient structured result of one model call. It lives for
// a single processing cycle and is never persisted.
type Envelope struct {
	Action   Action        `json:"action"`
	Data     *EnvelopeData `json:"data,omitempty"`
	Response string        `json:"response"`
}

// EnvelopeData carries the typed payload variants; the model populates only
// what the message actually contained. Pointer fields distinguish "absent"
// from zero.
type EnvelopeData struct {
	Profile    *ProfileData  `json:"profile,omitempty"`
	Meals      []MealData    `json:"meals,omitempty"`
	Weight     *float64      `json:"weight,omitempty"`
	Activity   *ActivityData `json:"activity,omitempty"`
	Goal       *GoalData     `json:"goal,omitempty"`
	Context    *ContextData  `json:"context,omitempty"`
	TargetDate string        `json:"targetDate,omitempty"`
}

type ProfileData struct {
	Height        *float64              `json:"height,omitempty"`
	Weight        *float64              `json:"weight,omitempty"`
	Age           *int                  `json:"age,omitempty"`
	Gender        *models.Gender        `json:"gender,omitempty"`
	ActivityLevel *models.ActivityLevel `json:"activityLevel,omitempty"`
	Goal          *models.GoalKind      `json:"goal,omitempty"`
	TargetWeight  *float64              `json:"targetWeight,omitempty"`
}

type MealData struct {
	Name     string   `json:"name"`
	Calories *float64 `json:"calories,omitempty"`
	Protein  *float64 `json:"protein,omitempty"`
	Fat      *float64 `json:"fat,omitempty"`
	Carbs    *float64 `json:"carbs,omitempty"`
}

type ActivityData struct {
	Type        models.ActivityType `json:"type"`
	Duration    *int                `json:"duration,omitempty"`
	Calories    *int                `json:"calories,omitempty"`
	Description string              `json:"description,omitempty"`
}

type GoalData struct {
	Calories *int `json:"calories,omitempty"`
	Protein  *int `json:"protein,omitempty"`
	Fat      *int `json:"fat,omitempty"`
	Carbs    *int `json:"carbs,omitempty"`
}

type ContextData struct {
	Name        string   `json:"name,omitempty"`
	Preferences []string `json:"preferences,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}
