package kbju

import (
	"math"
	"strings"

	"kbju-tracker/internal/models"
)

// Base MET by activity type; intensity keywords in the description select a
// detailed variant instead.
var metValues = map[models.ActivityType]float64{
	models.ActivityWalking: 3.0,
	models.ActivityRunning: 8.0,
	models.ActivityGym:     5.0,
	models.ActivityCycling: 6.0,
	models.ActivityOther:   4.0,
}

var metIntense = map[models.ActivityType]float64{
	models.ActivityWalking: 4.0,
	models.ActivityRunning: 12.0,
	models.ActivityCycling: 8.0,
	models.ActivityGym:     8.0,
}

var metLight = map[models.ActivityType]float64{
	models.ActivityWalking: 2.0,
	models.ActivityRunning: 8.0,
	models.ActivityCycling: 4.0,
	models.ActivityGym:     3.0,
}

var intenseKeywords = []string{"быстро", "быстрый", "интенсивно", "fast", "intense", "hard"}
var lightKeywords = []string{"медленно", "легко", "легкий", "slow", "easy", "light"}

// ActivityCalories estimates kcal burned: MET × weight(kg) × hours. When the
// activity already carries an explicit calorie figure it wins; without a
// duration there is nothing to estimate and the result is 0.
func ActivityCalories(a *models.Activity, userWeight float64) int {
	if a.Calories != nil {
		return *a.Calories
	}
	if a.Duration == nil || *a.Duration <= 0 {
		return 0
	}
	met := metValue(a)
	hours := float64(*a.Duration) / 60
	return int(math.Round(met * userWeight * hours))
}

func metValue(a *models.Activity) float64 {
	base, ok := metValues[a.Type]
	if !ok {
		base = metValues[models.ActivityOther]
	}
	if a.Description == "" {
		return base
	}
	desc := strings.ToLower(a.Description)
	if matchesAny(desc, intenseKeywords) {
		if v, ok := metIntense[a.Type]; ok {
			return v
		}
	}
	if matchesAny(desc, lightKeywords) {
		if v, ok := metLight[a.Type]; ok {
			return v
		}
	}
	return base
}

func matchesAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
