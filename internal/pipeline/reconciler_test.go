package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kbju-tracker/internal/llm"
	"kbju-tracker/internal/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func newTestReconciler(store *memStore, est Estimator) *Reconciler {
	if est == nil {
		est = &fakeEstimator{}
	}
	audit := NewAuditLog(store)
	audit.now = func() time.Time { return testNow }
	r := NewReconciler(store, est, audit, zap.NewNop())
	r.now = func() time.Time { return testNow }
	return r
}

func seedProfile(store *memStore) *models.UserProfile {
	p := &models.UserProfile{
		Height:        175,
		Weight:        70,
		Age:           25,
		Gender:        models.GenderMale,
		ActivityLevel: models.ActivitySedentary,
		Goal:          models.GoalMaintain,
	}
	store.profile = p
	store.goal = &models.KBJUGoal{Calories: 2129, Protein: 160, Fat: 59, Carbs: 240}
	return p
}

func TestCreateProfileFull(t *testing.T) {
	store := newMemStore()
	r := newTestReconciler(store, nil)

	gender := models.GenderMale
	level := models.ActivitySedentary
	goal := models.GoalMaintain
	env := &Envelope{
		Action: ActionCreateProfile,
		Data: &EnvelopeData{Profile: &ProfileData{
			Height:        fptr(175),
			Weight:        fptr(70),
			Age:           iptr(25),
			Gender:        &gender,
			ActivityLevel: &level,
			Goal:          &goal,
		}},
		Response: "Profile created!",
	}

	outcome, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ResultProfileCreated, outcome.Kind)
	assert.Equal(t, "Profile created!", outcome.Response)

	require.NotNil(t, store.profile)
	assert.Equal(t, 25, store.profile.Age)

	require.NotNil(t, store.goal)
	assert.Equal(t, 2129, store.goal.Calories)
	assert.Equal(t, 160, store.goal.Protein)
	assert.Equal(t, 59, store.goal.Fat)

	require.Len(t, store.auditLog, 1)
	assert.Equal(t, models.AuditProfileCreated, store.auditLog[0].ActionType)
	assert.Equal(t, "msg-1", store.auditLog[0].MessageID)
}

func TestCreateProfilePartialUsesDefaults(t *testing.T) {
	store := newMemStore()
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action:   ActionCreateProfile,
		Data:     &EnvelopeData{Profile: &ProfileData{Weight: fptr(80)}},
		Response: "Done.",
	}

	outcome, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ResultProfileCreated, outcome.Kind)
	assert.Contains(t, outcome.Response, "Note: used default values for height, age, gender, activity level, goal")

	assert.Equal(t, 80.0, store.profile.Weight)
	assert.Equal(t, 175.0, store.profile.Height)
	assert.Equal(t, models.GenderMale, store.profile.Gender)
}

func TestCreateProfileIgnoredWhenExists(t *testing.T) {
	store := newMemStore()
	existing := seedProfile(store)
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action:   ActionCreateProfile,
		Data:     &EnvelopeData{Profile: &ProfileData{Weight: fptr(100)}},
		Response: "ok",
	}
	outcome, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ResultGeneral, outcome.Kind)
	assert.Equal(t, existing.Weight, store.profile.Weight)
	assert.Empty(t, store.auditLog)
}

func TestCreateProfileValidationRejected(t *testing.T) {
	store := newMemStore()
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action:   ActionCreateProfile,
		Data:     &EnvelopeData{Profile: &ProfileData{Height: fptr(400), Weight: fptr(70), Age: iptr(25)}},
		Response: "ok",
	}
	_, err := r.Apply(context.Background(), env, "msg-1")
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "height", vErr.Field)
	assert.Nil(t, store.profile)
	assert.Nil(t, store.goal)
	assert.Empty(t, store.auditLog)
}

func TestUpdateProfileIdempotent(t *testing.T) {
	store := newMemStore()
	seedProfile(store)
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action:   ActionUpdateProfile,
		Data:     &EnvelopeData{Profile: &ProfileData{Weight: fptr(70)}},
		Response: "Nothing new.",
	}
	outcome, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ResultGeneral, outcome.Kind)
	assert.Equal(t, "Nothing new.", outcome.Response)
	assert.Empty(t, store.auditLog)
}

func TestUpdateProfileRecomputesGoal(t *testing.T) {
	store := newMemStore()
	seedProfile(store)
	store.goal = &models.KBJUGoal{Calories: 1, Protein: 1, Fat: 1, Carbs: 1}
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action:   ActionUpdateProfile,
		Data:     &EnvelopeData{Profile: &ProfileData{Weight: fptr(72)}},
		Response: "Noted.",
	}
	outcome, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ResultProfileUpdated, outcome.Kind)
	assert.Contains(t, outcome.Response, "Updated: weight: 70 → 72.")

	assert.Equal(t, 72.0, store.profile.Weight)
	assert.NotEqual(t, 1, store.goal.Calories)

	require.Len(t, store.auditLog, 1)
	assert.Equal(t, models.AuditProfileUpdated, store.auditLog[0].ActionType)
	assert.Equal(t, "Updated profile: weight: 70 → 72", store.auditLog[0].Description)
}

func TestUpdateProfileTargetWeightAloneSkipsRecompute(t *testing.T) {
	store := newMemStore()
	seedProfile(store)
	frozen := *store.goal
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action:   ActionUpdateProfile,
		Data:     &EnvelopeData{Profile: &ProfileData{TargetWeight: fptr(65)}},
		Response: "Target set.",
	}
	outcome, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ResultProfileUpdated, outcome.Kind)

	require.NotNil(t, store.profile.TargetWeight)
	assert.Equal(t, 65.0, *store.profile.TargetWeight)
	assert.Equal(t, frozen, *store.goal)
}

func TestUpdateGoal(t *testing.T) {
	store := newMemStore()
	seedProfile(store)
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action:   ActionUpdateGoal,
		Data:     &EnvelopeData{Goal: &GoalData{Calories: iptr(1800)}},
		Response: "New target.",
	}
	outcome, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ResultGoalUpdated, outcome.Kind)
	assert.Equal(t, 1800, store.goal.Calories)
	assert.Equal(t, 160, store.goal.Protein)

	require.Len(t, store.auditLog, 1)
	assert.Contains(t, store.auditLog[0].Description, "1800 ккал")
}

func TestUpdateGoalWithoutStoredGoal(t *testing.T) {
	store := newMemStore()
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action:   ActionUpdateGoal,
		Data:     &EnvelopeData{Goal: &GoalData{Calories: iptr(1800)}},
		Response: "ok",
	}
	outcome, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ResultGeneral, outcome.Kind)
	assert.Nil(t, store.goal)
}

func TestAddEntryMealsAppend(t *testing.T) {
	store := newMemStore()
	seedProfile(store)
	store.entries["2026-03-01"] = &models.DailyEntry{
		ID:    "entry-0",
		Date:  "2026-03-01",
		Meals: []models.Meal{{ID: "m0", Name: "breakfast", Calories: 400}},
	}
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action: ActionAddEntry,
		Data: &EnvelopeData{Meals: []MealData{{
			Name:     "oatmeal",
			Calories: fptr(300),
			Protein:  fptr(10),
			Fat:      fptr(6),
			Carbs:    fptr(54),
		}}},
		Response: "Logged.",
	}
	outcome, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ResultEntryAdded, outcome.Kind)

	entry := store.entries["2026-03-01"]
	require.Len(t, entry.Meals, 2)
	assert.Equal(t, "breakfast", entry.Meals[0].Name)
	assert.Equal(t, "oatmeal", entry.Meals[1].Name)

	require.Len(t, store.auditLog, 1)
	assert.Equal(t, "Added food: oatmeal (300 ккал)", store.auditLog[0].Description)
}

func TestAddEntryEnrichesMissingFieldsOnly(t *testing.T) {
	store := newMemStore()
	seedProfile(store)
	est := &fakeEstimator{estimate: &llm.MealEstimate{Calories: 250, Protein: 12, Fat: 8, Carbs: 30}}
	r := newTestReconciler(store, est)

	env := &Envelope{
		Action: ActionAddEntry,
		Data: &EnvelopeData{Meals: []MealData{{
			Name:     "cottage cheese",
			Calories: fptr(180),
		}}},
		Response: "Logged.",
	}
	_, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)

	require.Equal(t, []string{"cottage cheese"}, est.asked)
	meal := store.entries["2026-03-01"].Meals[0]
	assert.Equal(t, 180.0, meal.Calories)
	assert.Equal(t, 12.0, meal.Protein)
	assert.Equal(t, 8.0, meal.Fat)
	assert.Equal(t, 30.0, meal.Carbs)
}

func TestAddEntryEstimatorFailureKeepsMeal(t *testing.T) {
	store := newMemStore()
	seedProfile(store)
	est := &fakeEstimator{err: errors.New("estimation endpoint down")}
	r := newTestReconciler(store, est)

	env := &Envelope{
		Action: ActionAddEntry,
		Data: &EnvelopeData{Meals: []MealData{{
			Name:     "oatmeal",
			Calories: fptr(300),
		}}},
		Response: "Logged.",
	}
	outcome, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ResultEntryAdded, outcome.Kind)

	// The meal survives with the extracted values; unestimated fields stay zero.
	require.Len(t, store.entries["2026-03-01"].Meals, 1)
	meal := store.entries["2026-03-01"].Meals[0]
	assert.Equal(t, 300.0, meal.Calories)
	assert.Zero(t, meal.Protein)
	assert.Zero(t, meal.Fat)
	assert.Zero(t, meal.Carbs)
	require.Len(t, store.auditLog, 1)
	assert.Equal(t, "Added food: oatmeal (300 ккал)", store.auditLog[0].Description)
}

func TestAddEntryFullySpecifiedSkipsEstimator(t *testing.T) {
	store := newMemStore()
	seedProfile(store)
	est := &fakeEstimator{}
	r := newTestReconciler(store, est)

	env := &Envelope{
		Action: ActionAddEntry,
		Data: &EnvelopeData{Meals: []MealData{{
			Name:     "egg",
			Calories: fptr(70),
			Protein:  fptr(6),
			Fat:      fptr(5),
			Carbs:    fptr(0.5),
		}}},
		Response: "Logged.",
	}
	_, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Empty(t, est.asked)
}

func TestAddEntryWeightAndActivity(t *testing.T) {
	store := newMemStore()
	seedProfile(store)
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action: ActionAddEntry,
		Data: &EnvelopeData{
			Weight: fptr(69.5),
			Activity: &ActivityData{
				Type:     models.ActivityRunning,
				Duration: iptr(30),
			},
		},
		Response: "Recorded.",
	}
	outcome, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ResultEntryAdded, outcome.Kind)

	entry := store.entries["2026-03-01"]
	require.NotNil(t, entry.Weight)
	assert.Equal(t, 69.5, *entry.Weight)
	require.NotNil(t, entry.Activity)
	require.NotNil(t, entry.Activity.Calories)
	assert.Equal(t, 280, *entry.Activity.Calories)

	require.Len(t, store.auditLog, 2)
	assert.Equal(t, "Recorded weight: 69.5 кг", store.auditLog[0].Description)
	assert.Equal(t, "Recorded activity: running (30 мин) - 280 ккал", store.auditLog[1].Description)
}

func TestAddEntryActivityFallbackWeight(t *testing.T) {
	store := newMemStore()
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action: ActionAddEntry,
		Data: &EnvelopeData{Activity: &ActivityData{
			Type:     models.ActivityWalking,
			Duration: iptr(60),
		}},
		Response: "Recorded.",
	}
	_, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)

	entry := store.entries["2026-03-01"]
	require.NotNil(t, entry.Activity.Calories)
	assert.Equal(t, 210, *entry.Activity.Calories)
}

func TestAddEntryPartialApplication(t *testing.T) {
	store := newMemStore()
	seedProfile(store)
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action: ActionAddEntry,
		Data: &EnvelopeData{
			Meals:  []MealData{{Name: "soup", Calories: fptr(200), Protein: fptr(8), Fat: fptr(7), Carbs: fptr(20)}},
			Weight: fptr(1000),
		},
		Response: "Saved.",
	}
	_, err := r.Apply(context.Background(), env, "msg-1")

	var pErr *PartialError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "weight", pErr.Step)

	// The meal sub-step already landed and stays.
	entry := store.entries["2026-03-01"]
	require.NotNil(t, entry)
	require.Len(t, entry.Meals, 1)
	assert.Nil(t, entry.Weight)
	require.Len(t, store.auditLog, 1)
	assert.Equal(t, models.AuditMealAdded, store.auditLog[0].ActionType)
}

func TestAddEntryTargetDate(t *testing.T) {
	store := newMemStore()
	seedProfile(store)
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action: ActionAddEntry,
		Data: &EnvelopeData{
			Weight:     fptr(70),
			TargetDate: "2026-02-27",
		},
		Response: "Backdated.",
	}
	_, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Contains(t, store.entries, "2026-02-27")
}

func TestAddEntryMalformedTargetDateFallsBackToToday(t *testing.T) {
	store := newMemStore()
	seedProfile(store)
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action: ActionAddEntry,
		Data: &EnvelopeData{
			Weight:     fptr(70),
			TargetDate: "yesterday",
		},
		Response: "ok",
	}
	_, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Contains(t, store.entries, "2026-03-01")
}

func TestAddEntryEmptyPayloadIsNoop(t *testing.T) {
	store := newMemStore()
	r := newTestReconciler(store, nil)

	env := &Envelope{Action: ActionAddEntry, Data: &EnvelopeData{}, Response: "Nothing to save."}
	outcome, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ResultGeneral, outcome.Kind)
	assert.Empty(t, store.entries)
	assert.Empty(t, store.auditLog)
}

func TestContextMergedOnAnyAction(t *testing.T) {
	store := newMemStore()
	store.userCtx = &models.UserContext{Name: "Anna", Preferences: []string{"no sugar"}}
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action: ActionGeneral,
		Data: &EnvelopeData{Context: &ContextData{
			Preferences: []string{"no sugar", "vegetarian"},
			Notes:       "training for a marathon",
		}},
		Response: "Got it.",
	}
	outcome, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ResultGeneral, outcome.Kind)

	require.NotNil(t, store.userCtx)
	assert.Equal(t, "Anna", store.userCtx.Name)
	assert.Equal(t, []string{"no sugar", "vegetarian"}, store.userCtx.Preferences)
	assert.Equal(t, "training for a marathon", store.userCtx.Notes)
	assert.Equal(t, testNow, store.userCtx.LastUpdated)

	require.Len(t, store.auditLog, 1)
	assert.Equal(t, models.AuditContextUpdated, store.auditLog[0].ActionType)
}

func TestContextUnchangedSkipsAudit(t *testing.T) {
	store := newMemStore()
	store.userCtx = &models.UserContext{Name: "Anna"}
	r := newTestReconciler(store, nil)

	env := &Envelope{
		Action:   ActionGeneral,
		Data:     &EnvelopeData{Context: &ContextData{Name: "Anna"}},
		Response: "Hi.",
	}
	_, err := r.Apply(context.Background(), env, "msg-1")
	require.NoError(t, err)
	assert.Empty(t, store.auditLog)
}

func TestShowActionsPassThrough(t *testing.T) {
	store := newMemStore()
	r := newTestReconciler(store, nil)

	for action, kind := range map[Action]ResultKind{
		ActionShowStats: ResultStatsShown,
		ActionShowGoal:  ResultGoalShown,
		ActionGeneral:   ResultGeneral,
	} {
		outcome, err := r.Apply(context.Background(), &Envelope{Action: action, Response: "text"}, "msg-1")
		require.NoError(t, err)
		assert.Equal(t, kind, outcome.Kind)
		assert.Equal(t, "text", outcome.Response)
	}
	assert.Empty(t, store.auditLog)
}
