package kbju

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbju-tracker/internal/models"
)

func baseProfile() *models.UserProfile {
	return &models.UserProfile{
		Height:        175,
		Weight:        70,
		Age:           25,
		Gender:        models.GenderMale,
		ActivityLevel: models.ActivitySedentary,
		Goal:          models.GoalMaintain,
	}
}

func TestBMR(t *testing.T) {
	p := baseProfile()
	assert.InDelta(t, 1773.75, BMR(p), 0.001)

	p.Gender = models.GenderFemale
	assert.InDelta(t, 1607.75, BMR(p), 0.001)
}

func TestTDEE(t *testing.T) {
	p := baseProfile()
	assert.Equal(t, 2129, TDEE(p))

	p.ActivityLevel = models.ActivityModerate
	moderate := 1773.75*1.55 + 0.5
	assert.Equal(t, int(moderate), TDEE(p))
}

func TestGoalMaintain(t *testing.T) {
	g := Goal(baseProfile())
	assert.Equal(t, 2129, g.Calories)
	assert.Equal(t, 160, g.Protein)
	assert.Equal(t, 59, g.Fat)
	assert.Equal(t, int(float64(2129-160*4-59*9)/4+0.5), g.Carbs)
}

func TestGoalAdjustments(t *testing.T) {
	p := baseProfile()

	p.Goal = models.GoalLose
	assert.Equal(t, 1810, Goal(p).Calories)

	p.Goal = models.GoalGain
	assert.Equal(t, 2448, Goal(p).Calories)
}

func TestDailyTotals(t *testing.T) {
	entry := &models.DailyEntry{
		Date: "2026-03-01",
		Meals: []models.Meal{
			{Name: "oatmeal", Calories: 300, Protein: 10, Fat: 6, Carbs: 54},
			{Name: "chicken", Calories: 220.4, Protein: 30.2, Fat: 9, Carbs: 1},
		},
	}
	totals := DailyTotals(entry)
	assert.Equal(t, 520, totals.Calories)
	assert.Equal(t, 40, totals.Protein)
	assert.Equal(t, 15, totals.Fat)
	assert.Equal(t, 55, totals.Carbs)
}

func TestStatsEmpty(t *testing.T) {
	assert.Equal(t, models.Stats{}, Stats(nil))
}

func TestStats(t *testing.T) {
	w1, w2 := 80.0, 79.0
	entries := []models.DailyEntry{
		{
			Date:   "2026-03-01",
			Weight: &w1,
			Meals:  []models.Meal{{Name: "a", Calories: 2000, Protein: 100, Fat: 60, Carbs: 200}},
		},
		{
			Date:  "2026-03-02",
			Meals: []models.Meal{{Name: "b", Calories: 1800, Protein: 120, Fat: 50, Carbs: 180}},
		},
		{
			Date:   "2026-03-03",
			Weight: &w2,
			Meals:  []models.Meal{{Name: "c", Calories: 2200, Protein: 110, Fat: 70, Carbs: 220}},
		},
	}

	stats := Stats(entries)
	assert.Equal(t, "2026-03-01", stats.PeriodStart)
	assert.Equal(t, "2026-03-03", stats.PeriodEnd)
	assert.Equal(t, 3, stats.Days)
	assert.Equal(t, 6000, stats.TotalCalories)
	assert.Equal(t, 2000, stats.AverageDailyCalories)
	assert.Equal(t, 110, stats.AverageDailyProtein)

	require.NotNil(t, stats.AverageWeight)
	assert.InDelta(t, 79.5, *stats.AverageWeight, 0.001)
	require.NotNil(t, stats.WeightChange)
	assert.InDelta(t, -1.0, *stats.WeightChange, 0.001)
}

func TestStatsSingleWeightSample(t *testing.T) {
	w := 80.0
	stats := Stats([]models.DailyEntry{{Date: "2026-03-01", Weight: &w}})
	require.NotNil(t, stats.AverageWeight)
	assert.Nil(t, stats.WeightChange)
}
