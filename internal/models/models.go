package models

import (
	"encoding/json"
	"time"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

type ActivityLevel string

const (
	ActivitySedentary  ActivityLevel = "sedentary"
	ActivityLight      ActivityLevel = "light"
	ActivityModerate   ActivityLevel = "moderate"
	ActivityActive     ActivityLevel = "active"
	ActivityVeryActive ActivityLevel = "very_active"
)

type GoalKind string

const (
	GoalLose     GoalKind = "lose"
	GoalMaintain GoalKind = "maintain"
	GoalGain     GoalKind = "gain"
)

// UserProfile holds the biometric data the KBJU goal is derived from.
// TargetWeight is optional and does not participate in goal computation.
type UserProfile struct {
	Height        float64       `json:"height"`
	Weight        float64       `json:"weight"`
	Age           int           `json:"age"`
	Gender        Gender        `json:"gender"`
	ActivityLevel ActivityLevel `json:"activityLevel"`
	Goal          GoalKind      `json:"goal"`
	TargetWeight  *float64      `json:"targetWeight,omitempty"`
}

// KBJUGoal is the derived calorie/macro target, in kcal and grams.
type KBJUGoal struct {
	Calories int `json:"calories"`
	Protein  int `json:"protein"`
	Fat      int `json:"fat"`
	Carbs    int `json:"carbs"`
}

type Meal struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Fat      float64 `json:"fat"`
	Carbs    float64 `json:"carbs"`
}

type ActivityType string

const (
	ActivityWalking ActivityType = "walking"
	ActivityRunning ActivityType = "running"
	ActivityGym     ActivityType = "gym"
	ActivityCycling ActivityType = "cycling"
	ActivityOther   ActivityType = "other"
)

// Activity is a single physical activity recorded for a day. Calories is
// always concrete after reconciliation; Duration may be absent when the user
// stated calories directly.
type Activity struct {
	Type        ActivityType `json:"type"`
	Duration    *int         `json:"duration,omitempty"`
	Calories    *int         `json:"calories,omitempty"`
	Description string       `json:"description,omitempty"`
}

// DailyEntry aggregates everything recorded for one calendar date.
// Date is the unique key, formatted YYYY-MM-DD. Meals accumulate across
// messages; weight and activity are last-write-wins.
type DailyEntry struct {
	ID       string    `json:"id"`
	Date     string    `json:"date"`
	Meals    []Meal    `json:"meals"`
	Weight   *float64  `json:"weight,omitempty"`
	Activity *Activity `json:"activity,omitempty"`
}

// UserContext is free-text knowledge about the user that feeds the system
// prompt. Merges are additive/overwriting, never validated beyond
// non-emptiness.
type UserContext struct {
	Name        string    `json:"name,omitempty"`
	Preferences []string  `json:"preferences,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type AuditAction string

const (
	AuditProfileCreated   AuditAction = "profile_created"
	AuditProfileUpdated   AuditAction = "profile_updated"
	AuditMealAdded        AuditAction = "meal_added"
	AuditWeightRecorded   AuditAction = "weight_recorded"
	AuditActivityRecorded AuditAction = "activity_recorded"
	AuditGoalUpdated      AuditAction = "goal_updated"
	AuditContextUpdated   AuditAction = "context_updated"
)

// ActivityLogEntry is one immutable audit record. Created exactly once per
// accepted mutation and never altered afterwards, even when the state it
// describes is superseded.
type ActivityLogEntry struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Date        string          `json:"date"`
	ActionType  AuditAction     `json:"actionType"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data,omitempty"`
	MessageID   string          `json:"messageId,omitempty"`
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

type ChatMessage struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// Stats summarizes a span of daily entries.
type Stats struct {
	PeriodStart          string   `json:"periodStart"`
	PeriodEnd            string   `json:"periodEnd"`
	Days                 int      `json:"days"`
	AverageWeight        *float64 `json:"averageWeight,omitempty"`
	WeightChange         *float64 `json:"weightChange,omitempty"`
	TotalCalories        int      `json:"totalCalories"`
	TotalProtein         int      `json:"totalProtein"`
	TotalFat             int      `json:"totalFat"`
	TotalCarbs           int      `json:"totalCarbs"`
	AverageDailyCalories int      `json:"averageDailyCalories"`
	AverageDailyProtein  int      `json:"averageDailyProtein"`
	AverageDailyFat      int      `json:"averageDailyFat"`
	AverageDailyCarbs    int      `json:"averageDailyCarbs"`
}

// ValidGender reports whether g is one of the recognized gender tags.
func ValidGender(g Gender) bool {
	return g == GenderMale || g == GenderFemale
}

func ValidActivityLevel(a ActivityLevel) bool {
	switch a {
	case ActivitySedentary, ActivityLight, ActivityModerate, ActivityActive, ActivityVeryActive:
		return true
	}
	return false
}

func ValidGoalKind(g GoalKind) bool {
	return g == GoalLose || g == GoalMaintain || g == GoalGain
}

func ValidActivityType(t ActivityType) bool {
	switch t {
	case ActivityWalking, ActivityRunning, ActivityGym, ActivityCycling, ActivityOther:
		return true
	}
	return false
}
