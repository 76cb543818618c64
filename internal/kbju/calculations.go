// Package kbju implements the calorie/macro arithmetic: BMR via
// Mifflin-St Jeor, TDEE from activity multipliers, goal-adjusted targets and
// daily/period aggregation over entries.
package kbju

import (
	"math"

	"kbju-tracker/internal/models"
)

// activityMultipliers maps activity level to its TDEE multiplier. Single
// source of truth, also consulted by profile validation.
var activityMultipliers = map[models.ActivityLevel]float64{
	models.ActivitySedentary:  1.2,
	models.ActivityLight:      1.375,
	models.ActivityModerate:   1.55,
	models.ActivityActive:     1.725,
	models.ActivityVeryActive: 1.9,
}

// BMR computes basal metabolic rate via Mifflin-St Jeor. The constant term
// differs by gender: +5 male, -161 female.
func BMR(p *models.UserProfile) float64 {
	base := 10*p.Weight + 6.25*p.Height - 5*float64(p.Age)
	if p.Gender == models.GenderMale {
		return base + 5
	}
	return base - 161
}

// TDEE is BMR scaled by the activity multiplier, rounded to whole kcal.
func TDEE(p *models.UserProfile) int {
	mult, ok := activityMultipliers[p.ActivityLevel]
	if !ok {
		mult = activityMultipliers[models.ActivitySedentary]
	}
	return int(math.Round(BMR(p) * mult))
}

// Goal derives the KBJU target from a profile: TDEE adjusted for the weight
// goal (-15% lose, +15% gain), then split 30% protein / 25% fat / remainder
// carbs at 4/9/4 kcal per gram.
func Goal(p *models.UserProfile) models.KBJUGoal {
	tdee := TDEE(p)
	calories := tdee
	switch p.Goal {
	case models.GoalLose:
		calories = int(math.Round(float64(tdee) * 0.85))
	case models.GoalGain:
		calories = int(math.Round(float64(tdee) * 1.15))
	}

	protein := int(math.Round(float64(calories) * 0.3 / 4))
	fat := int(math.Round(float64(calories) * 0.25 / 9))
	carbs := int(math.Round(float64(calories-protein*4-fat*9) / 4))

	return models.KBJUGoal{
		Calories: calories,
		Protein:  protein,
		Fat:      fat,
		Carbs:    carbs,
	}
}

// DailyTotals sums the meals of one entry into a KBJU tuple.
func DailyTotals(e *models.DailyEntry) models.KBJUGoal {
	var cal, prot, fat, carbs float64
	for _, m := range e.Meals {
		cal += m.Calories
		prot += m.Protein
		fat += m.Fat
		carbs += m.Carbs
	}
	return models.KBJUGoal{
		Calories: int(math.Round(cal)),
		Protein:  int(math.Round(prot)),
		Fat:      int(math.Round(fat)),
		Carbs:    int(math.Round(carbs)),
	}
}

// Stats aggregates entries into period totals and daily averages. Entries are
// assumed date-ordered, one per date. Weight change is last minus first
// recorded weight and needs at least two samples.
func Stats(entries []models.DailyEntry) models.Stats {
	if len(entries) == 0 {
		return models.Stats{}
	}

	stats := models.Stats{
		PeriodStart: entries[0].Date,
		PeriodEnd:   entries[len(entries)-1].Date,
		Days:        len(entries),
	}

	var weights []float64
	var cal, prot, fat, carbs int
	for i := range entries {
		daily := DailyTotals(&entries[i])
		cal += daily.Calories
		prot += daily.Protein
		fat += daily.Fat
		carbs += daily.Carbs
		if entries[i].Weight != nil {
			weights = append(weights, *entries[i].Weight)
		}
	}

	if len(weights) > 0 {
		sum := 0.0
		for _, w := range weights {
			sum += w
		}
		avg := sum / float64(len(weights))
		stats.AverageWeight = &avg
	}
	if len(weights) >= 2 {
		change := weights[len(weights)-1] - weights[0]
		stats.WeightChange = &change
	}

	days := len(entries)
	stats.TotalCalories = cal
	stats.TotalProtein = prot
	stats.TotalFat = fat
	stats.TotalCarbs = carbs
	stats.AverageDailyCalories = int(math.Round(float64(cal) / float64(days)))
	stats.AverageDailyProtein = int(math.Round(float64(prot) / float64(days)))
	stats.AverageDailyFat = int(math.Round(float64(fat) / float64(days)))
	stats.AverageDailyCarbs = int(math.Round(float64(carbs) / float64(days)))
	return stats
}
