package models

import (
	"fmt"
	"regexp"
)

// Plausible physiological ranges enforced at the store boundary.
const (
	MinHeight = 100
	MaxHeight = 250
	MinWeight = 30
	MaxWeight = 300
	MinAge    = 10
	MaxAge    = 120
)

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidationError rejects a single proposed mutation; prior state stays
// untouched when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func validationErrorf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func ValidateProfile(p *UserProfile) error {
	if p == nil {
		return validationErrorf("profile", "missing")
	}
	if p.Height < MinHeight || p.Height > MaxHeight {
		return validationErrorf("height", "%.1f cm outside %d-%d", p.Height, MinHeight, MaxHeight)
	}
	if p.Weight < MinWeight || p.Weight > MaxWeight {
		return validationErrorf("weight", "%.1f kg outside %d-%d", p.Weight, MinWeight, MaxWeight)
	}
	if p.Age < MinAge || p.Age > MaxAge {
		return validationErrorf("age", "%d outside %d-%d", p.Age, MinAge, MaxAge)
	}
	if !ValidGender(p.Gender) {
		return validationErrorf("gender", "unrecognized value %q", p.Gender)
	}
	if !ValidActivityLevel(p.ActivityLevel) {
		return validationErrorf("activityLevel", "unrecognized value %q", p.ActivityLevel)
	}
	if !ValidGoalKind(p.Goal) {
		return validationErrorf("goal", "unrecognized value %q", p.Goal)
	}
	if p.TargetWeight != nil && (*p.TargetWeight < MinWeight || *p.TargetWeight > MaxWeight) {
		return validationErrorf("targetWeight", "%.1f kg outside %d-%d", *p.TargetWeight, MinWeight, MaxWeight)
	}
	return nil
}

func ValidateEntry(e *DailyEntry) error {
	if e == nil {
		return validationErrorf("entry", "missing")
	}
	if !dateRe.MatchString(e.Date) {
		return validationErrorf("date", "%q is not YYYY-MM-DD", e.Date)
	}
	for _, m := range e.Meals {
		if m.Name == "" {
			return validationErrorf("meals", "meal with empty name")
		}
		if m.Calories < 0 || m.Protein < 0 || m.Fat < 0 || m.Carbs < 0 {
			return validationErrorf("meals", "negative nutrition value for %q", m.Name)
		}
	}
	if e.Weight != nil && (*e.Weight < MinWeight || *e.Weight > MaxWeight) {
		return validationErrorf("weight", "%.1f kg outside %d-%d", *e.Weight, MinWeight, MaxWeight)
	}
	if e.Activity != nil {
		if !ValidActivityType(e.Activity.Type) {
			return validationErrorf("activity", "unrecognized type %q", e.Activity.Type)
		}
		if e.Activity.Duration != nil && *e.Activity.Duration < 0 {
			return validationErrorf("activity", "negative duration")
		}
		if e.Activity.Calories != nil && *e.Activity.Calories < 0 {
			return validationErrorf("activity", "negative calories")
		}
	}
	return nil
}

func ValidateGoal(g *KBJUGoal) error {
	if g == nil {
		return validationErrorf("goal", "missing")
	}
	if g.Calories < 0 || g.Protein < 0 || g.Fat < 0 || g.Carbs < 0 {
		return validationErrorf("goal", "negative target value")
	}
	return nil
}
