package commands

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbju-tracker/internal/models"
	"kbju-tracker/internal/storage"
)

func newTestProcessor(t *testing.T) (*Processor, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p := NewProcessor(store)
	p.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return p, store
}

func TestNonCommandPassesThrough(t *testing.T) {
	p, _ := newTestProcessor(t)

	reply, handled, err := p.Handle("I ate oatmeal")
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Empty(t, reply)
}

func TestHelp(t *testing.T) {
	p, _ := newTestProcessor(t)

	reply, handled, err := p.Handle("/help")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Contains(t, reply, "/profile")
	assert.Contains(t, reply, "/reset")
}

func TestUnknownCommand(t *testing.T) {
	p, _ := newTestProcessor(t)

	reply, handled, err := p.Handle("/frobnicate")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Contains(t, reply, "Unknown command /frobnicate")
}

func TestProfileCommand(t *testing.T) {
	p, store := newTestProcessor(t)

	reply, handled, err := p.Handle("/profile")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Contains(t, reply, "No profile yet")

	require.NoError(t, store.SetProfile(&models.UserProfile{
		Height: 175, Weight: 70.5, Age: 25,
		Gender: models.GenderMale, ActivityLevel: models.ActivitySedentary, Goal: models.GoalMaintain,
	}))

	reply, _, err = p.Handle("/profile")
	require.NoError(t, err)
	assert.Contains(t, reply, "Height: 175 cm")
	assert.Contains(t, reply, "Weight: 70.5 kg")
	assert.Contains(t, reply, "Goal: maintain")
}

func TestGoalCommand(t *testing.T) {
	p, store := newTestProcessor(t)

	reply, _, err := p.Handle("/goal")
	require.NoError(t, err)
	assert.Contains(t, reply, "No goal yet")

	require.NoError(t, store.SetGoal(&models.KBJUGoal{Calories: 2129, Protein: 160, Fat: 59, Carbs: 240}))
	reply, _, err = p.Handle("/goal")
	require.NoError(t, err)
	assert.Equal(t, "Daily goal: 2129 kcal, protein 160 g, fat 59 g, carbs 240 g", reply)
}

func TestTodayCommand(t *testing.T) {
	p, store := newTestProcessor(t)

	reply, _, err := p.Handle("/today")
	require.NoError(t, err)
	assert.Contains(t, reply, "Nothing recorded today")

	w := 70.0
	dur := 30
	cal := 280
	require.NoError(t, store.SaveEntry(&models.DailyEntry{
		ID:   "e1",
		Date: "2026-03-01",
		Meals: []models.Meal{
			{ID: "m1", Name: "oatmeal", Calories: 300, Protein: 10, Fat: 6, Carbs: 54},
		},
		Weight:   &w,
		Activity: &models.Activity{Type: models.ActivityRunning, Duration: &dur, Calories: &cal},
	}))

	reply, _, err = p.Handle("/today")
	require.NoError(t, err)
	assert.Contains(t, reply, "oatmeal: 300 kcal")
	assert.Contains(t, reply, "Total: 300 kcal")
	assert.Contains(t, reply, "Weight: 70 kg")
	assert.Contains(t, reply, "Activity: running (30 min) - 280 kcal")
}

func TestStatsCommand(t *testing.T) {
	p, store := newTestProcessor(t)

	reply, _, err := p.Handle("/stats")
	require.NoError(t, err)
	assert.Contains(t, reply, "No entries yet")

	require.NoError(t, store.SaveEntry(&models.DailyEntry{
		ID: "e1", Date: "2026-02-28",
		Meals: []models.Meal{{ID: "m1", Name: "a", Calories: 2000, Protein: 100, Fat: 60, Carbs: 200}},
	}))
	require.NoError(t, store.SaveEntry(&models.DailyEntry{
		ID: "e2", Date: "2026-03-01",
		Meals: []models.Meal{{ID: "m2", Name: "b", Calories: 1800, Protein: 120, Fat: 50, Carbs: 180}},
	}))

	reply, _, err = p.Handle("/stats")
	require.NoError(t, err)
	assert.Contains(t, reply, "2026-02-28 to 2026-03-01 (2 days)")
	assert.Contains(t, reply, "Average per day: 1900 kcal")
}

func TestActivityCommand(t *testing.T) {
	p, store := newTestProcessor(t)

	reply, _, err := p.Handle("/activity")
	require.NoError(t, err)
	assert.Contains(t, reply, "empty")

	require.NoError(t, store.AppendActivityLogEntry(&models.ActivityLogEntry{
		ID: "log-1", Timestamp: time.Now(), Date: "2026-03-01",
		ActionType: models.AuditMealAdded, Description: "Added food: oatmeal (300 ккал)",
	}))

	reply, _, err = p.Handle("/activity")
	require.NoError(t, err)
	assert.Contains(t, reply, "Added food: oatmeal (300 ккал)")
}

func TestResetConfirmation(t *testing.T) {
	p, store := newTestProcessor(t)

	require.NoError(t, store.SetGoal(&models.KBJUGoal{Calories: 2000}))

	reply, handled, err := p.Handle("/reset")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Contains(t, reply, "confirm")

	// Anything but "yes" cancels.
	reply, handled, err = p.Handle("no, keep it")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "Reset cancelled.", reply)

	goal, err := store.Goal()
	require.NoError(t, err)
	require.NotNil(t, goal)

	_, _, err = p.Handle("/reset")
	require.NoError(t, err)
	reply, handled, err = p.Handle("yes")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "All data has been deleted.", reply)

	goal, err = store.Goal()
	require.NoError(t, err)
	assert.Nil(t, goal)
}

func TestHandleConcurrent(t *testing.T) {
	p, store := newTestProcessor(t)

	require.NoError(t, store.SetGoal(&models.KBJUGoal{Calories: 2000}))

	// Concurrent /reset calls serialize on the processor mutex: each one
	// either arms the pending reset or cancels the previous one, and a bare
	// /reset never confirms, so the store survives.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, handled, err := p.Handle("/reset")
			assert.NoError(t, err)
			assert.True(t, handled)
		}()
	}
	wg.Wait()

	goal, err := store.Goal()
	require.NoError(t, err)
	require.NotNil(t, goal)
}
