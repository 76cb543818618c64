package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"kbju-tracker/internal/kbju"
	"kbju-tracker/internal/models"
)

// Defaults used when create_profile arrives with partial data.
const (
	defaultHeight        = 175
	defaultWeight        = 70
	defaultAge           = 25
	defaultGender        = models.GenderMale
	defaultActivityLevel = models.ActivitySedentary
	defaultGoalKind      = models.GoalMaintain

	// Fallback body weight for MET math when no profile exists yet.
	fallbackActivityWeight = 70
)

// ResultKind classifies what one envelope ended up doing.
type ResultKind string

const (
	ResultProfileCreated ResultKind = "profile_created"
	ResultProfileUpdated ResultKind = "profile_updated"
	ResultGoalUpdated    ResultKind = "goal_updated"
	ResultEntryAdded     ResultKind = "entry_added"
	ResultStatsShown     ResultKind = "stats_shown"
	ResultGoalShown      ResultKind = "goal_shown"
	ResultGeneral        ResultKind = "general"
)

// Outcome is what the reconciler hands back to the orchestrator: the reply to
// show and how the envelope was classified.
type Outcome struct {
	Kind     ResultKind
	Response string
}

// PartialError reports a failure after some sub-mutations of an add_entry were
// already persisted. The applied state and its audit entries stand; nothing is
// rolled back.
type PartialError struct {
	Step string
	Err  error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("entry partially applied, %s step failed: %v", e.Step, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Reconciler turns one parsed envelope into zero or more store mutations plus
// matching audit entries. Delta computation is pure; persistence happens in a
// thin applier walking the computed deltas in order.
type Reconciler struct {
	store     Store
	estimator Estimator
	audit     *AuditLog
	logger    *zap.Logger
	now       func() time.Time
}

func NewReconciler(store Store, estimator Estimator, audit *AuditLog, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		estimator: estimator,
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

// Apply dispatches on the envelope action. Context fields are merged
// independently of the action tag afterwards.
func (r *Reconciler) Apply(ctx context.Context, env *Envelope, messageID string) (*Outcome, error) {
	var (
		outcome *Outcome
		err     error
	)
	switch env.Action {
	case ActionCreateProfile:
		outcome, err = r.createProfile(env, messageID)
	case ActionUpdateProfile:
		outcome, err = r.updateProfile(env, messageID)
	case ActionAddEntry:
		outcome, err = r.addEntry(ctx, env, messageID)
	case ActionUpdateGoal:
		outcome, err = r.updateGoal(env, messageID)
	case ActionShowStats:
		outcome = &Outcome{Kind: ResultStatsShown, Response: env.Response}
	case ActionShowGoal:
		outcome = &Outcome{Kind: ResultGoalShown, Response: env.Response}
	case ActionGeneral:
		outcome = &Outcome{Kind: ResultGeneral, Response: env.Response}
	}
	if err != nil {
		return outcome, err
	}

	if mergeErr := r.mergeContext(env, messageID); mergeErr != nil {
		r.logger.Warn("context merge failed", zap.Error(mergeErr))
	}
	return outcome, nil
}

// createProfile is only valid while no profile exists; otherwise the envelope
// is ignored. Missing fields take fixed defaults and the KBJU goal is derived
// immediately.
func (r *Reconciler) createProfile(env *Envelope, messageID string) (*Outcome, error) {
	existing, err := r.store.Profile()
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if existing != nil || env.Data == nil || env.Data.Profile == nil {
		return &Outcome{Kind: ResultGeneral, Response: env.Response}, nil
	}

	profile, defaulted := buildProfile(env.Data.Profile)
	if err := models.ValidateProfile(profile); err != nil {
		return nil, err
	}
	if err := r.store.SetProfile(profile); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	goal := kbju.Goal(profile)
	if err := r.store.SetGoal(&goal); err != nil {
		return nil, fmt.Errorf("failed to save goal: %w", err)
	}

	desc := fmt.Sprintf("Created profile: age %d, height %s cm, weight %s kg, goal: %s",
		profile.Age, formatNumber(profile.Height), formatNumber(profile.Weight), profile.Goal)
	if _, err := r.audit.Add(models.AuditProfileCreated, desc,
		map[string]interface{}{"profile": profile, "goal": goal}, messageID); err != nil {
		return nil, err
	}

	response := env.Response
	if len(defaulted) > 0 {
		response += fmt.Sprintf("\n\nNote: used default values for %s; you can correct them any time.",
			strings.Join(defaulted, ", "))
	}
	return &Outcome{Kind: ResultProfileCreated, Response: response}, nil
}

// updateProfile applies only the fields that actually differ. No changed
// fields means no mutation and no audit entry; a repeat of the same envelope
// is a pure no-op.
func (r *Reconciler) updateProfile(env *Envelope, messageID string) (*Outcome, error) {
	current, err := r.store.Profile()
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if current == nil || env.Data == nil || env.Data.Profile == nil {
		return &Outcome{Kind: ResultGeneral, Response: env.Response}, nil
	}

	updated, changes, recompute := diffProfile(env.Data.Profile, current)
	if len(changes) == 0 {
		return &Outcome{Kind: ResultGeneral, Response: env.Response}, nil
	}

	if err := models.ValidateProfile(updated); err != nil {
		return nil, err
	}
	if err := r.store.SetProfile(updated); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	if recompute {
		goal := kbju.Goal(updated)
		if err := r.store.SetGoal(&goal); err != nil {
			return nil, fmt.Errorf("failed to save goal: %w", err)
		}
	}

	changeList := strings.Join(changes, ", ")
	if _, err := r.audit.Add(models.AuditProfileUpdated, "Updated profile: "+changeList,
		map[string]interface{}{"profile": updated}, messageID); err != nil {
		return nil, err
	}

	return &Outcome{
		Kind:     ResultProfileUpdated,
		Response: env.Response + "\n\nUpdated: " + changeList + ".",
	}, nil
}

// updateGoal overwrites the stored goal with explicit user targets;
// unspecified fields retain their prior values.
func (r *Reconciler) updateGoal(env *Envelope, messageID string) (*Outcome, error) {
	current, err := r.store.Goal()
	if err != nil {
		return nil, fmt.Errorf("failed to load goal: %w", err)
	}
	if current == nil || env.Data == nil || env.Data.Goal == nil {
		return &Outcome{Kind: ResultGeneral, Response: env.Response}, nil
	}

	updated, changes := diffGoal(env.Data.Goal, current)
	if len(changes) == 0 {
		return &Outcome{Kind: ResultGeneral, Response: env.Response}, nil
	}

	if err := models.ValidateGoal(updated); err != nil {
		return nil, err
	}
	if err := r.store.SetGoal(updated); err != nil {
		return nil, fmt.Errorf("failed to save goal: %w", err)
	}

	desc := fmt.Sprintf("Updated KBJU targets: %d ккал, protein %d г, fat %d г, carbs %d г",
		updated.Calories, updated.Protein, updated.Fat, updated.Carbs)
	if _, err := r.audit.Add(models.AuditGoalUpdated, desc,
		map[string]interface{}{"goal": updated}, messageID); err != nil {
		return nil, err
	}

	return &Outcome{
		Kind:     ResultGoalUpdated,
		Response: env.Response + "\n\nUpdated targets: " + strings.Join(changes, ", ") + ".",
	}, nil
}

// addEntry merges meals/weight/activity into the day's entry. Meals append,
// weight and activity are last-write-wins. Each populated component is applied
// and audited as its own sub-step; a later sub-step's failure leaves earlier
// ones persisted (PartialError).
func (r *Reconciler) addEntry(ctx context.Context, env *Envelope, messageID string) (*Outcome, error) {
	if env.Data == nil {
		return &Outcome{Kind: ResultGeneral, Response: env.Response}, nil
	}
	data := env.Data

	hasMeals := len(data.Meals) > 0
	hasWeight := data.Weight != nil
	hasActivity := data.Activity != nil
	if !hasMeals && !hasWeight && !hasActivity {
		return &Outcome{Kind: ResultGeneral, Response: env.Response}, nil
	}

	date := resolveDate(data.TargetDate, r.now())

	// A failure only counts as partial once an earlier sub-step has been
	// persisted; a first-step failure is an ordinary rejection.
	applied := false
	fail := func(step string, err error) error {
		if applied {
			return &PartialError{Step: step, Err: err}
		}
		return err
	}

	if hasMeals {
		if err := r.applyMeals(ctx, date, data.Meals, messageID); err != nil {
			return nil, fail("meals", err)
		}
		applied = true
	}
	if hasWeight {
		if err := r.applyWeight(date, *data.Weight, messageID); err != nil {
			return nil, fail("weight", err)
		}
		applied = true
	}
	if hasActivity {
		if err := r.applyActivity(date, data.Activity, messageID); err != nil {
			return nil, fail("activity", err)
		}
		applied = true
	}

	return &Outcome{Kind: ResultEntryAdded, Response: env.Response}, nil
}

func (r *Reconciler) applyMeals(ctx context.Context, date string, mealData []MealData, messageID string) error {
	meals, err := r.enrichMeals(ctx, mealData)
	if err != nil {
		return err
	}

	entry, err := r.entryForDate(date)
	if err != nil {
		return err
	}
	entry.Meals = append(entry.Meals, meals...)
	if err := models.ValidateEntry(entry); err != nil {
		return err
	}
	if err := r.store.SaveEntry(entry); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}

	names := make([]string, len(meals))
	total := 0.0
	for i, m := range meals {
		names[i] = m.Name
		total += m.Calories
	}
	desc := fmt.Sprintf("Added food: %s (%d ккал)", strings.Join(names, ", "), int(total+0.5))
	_, err = r.audit.Add(models.AuditMealAdded, desc, map[string]interface{}{"meals": meals}, messageID)
	return err
}

func (r *Reconciler) applyWeight(date string, weight float64, messageID string) error {
	entry, err := r.entryForDate(date)
	if err != nil {
		return err
	}
	entry.Weight = &weight
	if err := models.ValidateEntry(entry); err != nil {
		return err
	}
	if err := r.store.SaveEntry(entry); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}

	desc := fmt.Sprintf("Recorded weight: %s кг", formatNumber(weight))
	_, err = r.audit.Add(models.AuditWeightRecorded, desc, map[string]interface{}{"weight": weight}, messageID)
	return err
}

func (r *Reconciler) applyActivity(date string, data *ActivityData, messageID string) error {
	profile, err := r.store.Profile()
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}
	userWeight := float64(fallbackActivityWeight)
	if profile != nil {
		userWeight = profile.Weight
	}

	probe := models.Activity{
		Type:        data.Type,
		Duration:    data.Duration,
		Calories:    data.Calories,
		Description: data.Description,
	}
	calories := kbju.ActivityCalories(&probe, userWeight)
	activity := &models.Activity{
		Type:        data.Type,
		Duration:    data.Duration,
		Calories:    &calories,
		Description: data.Description,
	}

	entry, err := r.entryForDate(date)
	if err != nil {
		return err
	}
	entry.Activity = activity
	if err := models.ValidateEntry(entry); err != nil {
		return err
	}
	if err := r.store.SaveEntry(entry); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}

	desc := "Recorded activity: " + string(activity.Type)
	if activity.Duration != nil {
		desc += fmt.Sprintf(" (%d мин)", *activity.Duration)
	}
	desc += fmt.Sprintf(" - %d ккал", calories)
	_, err = r.audit.Add(models.AuditActivityRecorded, desc, map[string]interface{}{"activity": activity}, messageID)
	return err
}

// enrichMeals fills missing nutrition fields from the estimator; values the
// model already supplied are kept as-is. Estimator failures degrade the same
// way an unparseable estimate does.
func (r *Reconciler) enrichMeals(ctx context.Context, mealData []MealData) ([]models.Meal, error) {
	base := r.now().UnixNano()
	meals := make([]models.Meal, 0, len(mealData))
	for i, m := range mealData {
		meal := models.Meal{
			ID:       fmt.Sprintf("meal-%d-%d", base, i),
			Name:     m.Name,
			Calories: orZero(m.Calories),
			Protein:  orZero(m.Protein),
			Fat:      orZero(m.Fat),
			Carbs:    orZero(m.Carbs),
		}
		if m.Calories == nil || m.Protein == nil || m.Fat == nil || m.Carbs == nil {
			est, err := r.estimator.EstimateMeal(ctx, m.Name)
			if err != nil {
				// An estimation outage must never drop the meal. Keep the
				// extracted values; missing fields stay zero.
				r.logger.Warn("meal estimation failed, saving as extracted",
					zap.String("meal", m.Name), zap.Error(err))
				est = nil
			}
			if est != nil {
				if m.Calories == nil {
					meal.Calories = est.Calories
				}
				if m.Protein == nil {
					meal.Protein = est.Protein
				}
				if m.Fat == nil {
					meal.Fat = est.Fat
				}
				if m.Carbs == nil {
					meal.Carbs = est.Carbs
				}
			}
		}
		meals = append(meals, meal)
	}
	return meals, nil
}

// mergeContext is applied for every envelope carrying context fields,
// regardless of action. Name and notes overwrite, preferences accumulate.
func (r *Reconciler) mergeContext(env *Envelope, messageID string) error {
	if env.Data == nil || env.Data.Context == nil {
		return nil
	}
	current, err := r.store.Context()
	if err != nil {
		return fmt.Errorf("failed to load context: %w", err)
	}

	updated, changes := mergeContextData(current, env.Data.Context, r.now())
	if len(changes) == 0 {
		return nil
	}
	if err := r.store.SetContext(updated); err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	_, err = r.audit.Add(models.AuditContextUpdated, "Updated context: "+strings.Join(changes, ", "),
		map[string]interface{}{"context": env.Data.Context}, messageID)
	return err
}

func (r *Reconciler) entryForDate(date string) (*models.DailyEntry, error) {
	entry, err := r.store.EntryByDate(date)
	if err != nil {
		return nil, fmt.Errorf("failed to load entry for %s: %w", date, err)
	}
	if entry == nil {
		entry = &models.DailyEntry{
			ID:   fmt.Sprintf("entry-%d", r.now().UnixNano()),
			Date: date,
		}
	}
	return entry, nil
}

// --- pure delta helpers ---

func buildProfile(data *ProfileData) (*models.UserProfile, []string) {
	profile := &models.UserProfile{
		Height:        defaultHeight,
		Weight:        defaultWeight,
		Age:           defaultAge,
		Gender:        defaultGender,
		ActivityLevel: defaultActivityLevel,
		Goal:          defaultGoalKind,
		TargetWeight:  data.TargetWeight,
	}

	var defaulted []string
	if data.Height != nil {
		profile.Height = *data.Height
	} else {
		defaulted = append(defaulted, "height")
	}
	if data.Weight != nil {
		profile.Weight = *data.Weight
	} else {
		defaulted = append(defaulted, "weight")
	}
	if data.Age != nil {
		profile.Age = *data.Age
	} else {
		defaulted = append(defaulted, "age")
	}
	if data.Gender != nil {
		profile.Gender = *data.Gender
	} else {
		defaulted = append(defaulted, "gender")
	}
	if data.ActivityLevel != nil {
		profile.ActivityLevel = *data.ActivityLevel
	} else {
		defaulted = append(defaulted, "activity level")
	}
	if data.Goal != nil {
		profile.Goal = *data.Goal
	} else {
		defaulted = append(defaulted, "goal")
	}
	return profile, defaulted
}

// diffProfile returns the updated profile, the human-readable change list
// ("field: old → new") and whether the KBJU goal must be recomputed. Only
// fields present in the envelope and different from the stored value count as
// changed; targetWeight alone never triggers a recompute.
func diffProfile(data *ProfileData, current *models.UserProfile) (*models.UserProfile, []string, bool) {
	updated := *current
	var changes []string
	recompute := false

	if data.Height != nil && *data.Height != current.Height {
		changes = append(changes, fmt.Sprintf("height: %s → %s", formatNumber(current.Height), formatNumber(*data.Height)))
		updated.Height = *data.Height
		recompute = true
	}
	if data.Weight != nil && *data.Weight != current.Weight {
		changes = append(changes, fmt.Sprintf("weight: %s → %s", formatNumber(current.Weight), formatNumber(*data.Weight)))
		updated.Weight = *data.Weight
		recompute = true
	}
	if data.Age != nil && *data.Age != current.Age {
		changes = append(changes, fmt.Sprintf("age: %d → %d", current.Age, *data.Age))
		updated.Age = *data.Age
		recompute = true
	}
	if data.Gender != nil && *data.Gender != current.Gender {
		changes = append(changes, fmt.Sprintf("gender: %s → %s", current.Gender, *data.Gender))
		updated.Gender = *data.Gender
		recompute = true
	}
	if data.ActivityLevel != nil && *data.ActivityLevel != current.ActivityLevel {
		changes = append(changes, fmt.Sprintf("activity: %s → %s", current.ActivityLevel, *data.ActivityLevel))
		updated.ActivityLevel = *data.ActivityLevel
		recompute = true
	}
	if data.Goal != nil && *data.Goal != current.Goal {
		changes = append(changes, fmt.Sprintf("goal: %s → %s", current.Goal, *data.Goal))
		updated.Goal = *data.Goal
		recompute = true
	}
	if data.TargetWeight != nil && (current.TargetWeight == nil || *data.TargetWeight != *current.TargetWeight) {
		old := "unset"
		if current.TargetWeight != nil {
			old = formatNumber(*current.TargetWeight)
		}
		changes = append(changes, fmt.Sprintf("target weight: %s → %s", old, formatNumber(*data.TargetWeight)))
		tw := *data.TargetWeight
		updated.TargetWeight = &tw
	}

	return &updated, changes, recompute
}

func diffGoal(data *GoalData, current *models.KBJUGoal) (*models.KBJUGoal, []string) {
	updated := *current
	var changes []string

	if data.Calories != nil && *data.Calories != current.Calories {
		changes = append(changes, fmt.Sprintf("calories: %d → %d ккал", current.Calories, *data.Calories))
		updated.Calories = *data.Calories
	}
	if data.Protein != nil && *data.Protein != current.Protein {
		changes = append(changes, fmt.Sprintf("protein: %d → %d г", current.Protein, *data.Protein))
		updated.Protein = *data.Protein
	}
	if data.Fat != nil && *data.Fat != current.Fat {
		changes = append(changes, fmt.Sprintf("fat: %d → %d г", current.Fat, *data.Fat))
		updated.Fat = *data.Fat
	}
	if data.Carbs != nil && *data.Carbs != current.Carbs {
		changes = append(changes, fmt.Sprintf("carbs: %d → %d г", current.Carbs, *data.Carbs))
		updated.Carbs = *data.Carbs
	}

	return &updated, changes
}

func mergeContextData(current *models.UserContext, data *ContextData, now time.Time) (*models.UserContext, []string) {
	updated := models.UserContext{}
	if current != nil {
		updated = *current
		updated.Preferences = append([]string(nil), current.Preferences...)
	}

	var changes []string
	if data.Name != "" && data.Name != updated.Name {
		updated.Name = data.Name
		changes = append(changes, "name: "+data.Name)
	}
	if len(data.Preferences) > 0 {
		seen := make(map[string]bool, len(updated.Preferences))
		for _, p := range updated.Preferences {
			seen[p] = true
		}
		var added []string
		for _, p := range data.Preferences {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			updated.Preferences = append(updated.Preferences, p)
			added = append(added, p)
		}
		if len(added) > 0 {
			changes = append(changes, "preferences: "+strings.Join(added, ", "))
		}
	}
	if data.Notes != "" && data.Notes != updated.Notes {
		updated.Notes = data.Notes
		changes = append(changes, "notes: "+data.Notes)
	}

	if len(changes) > 0 {
		updated.LastUpdated = now
	}
	return &updated, changes
}

// resolveDate accepts an explicit well-formed target date, otherwise today.
func resolveDate(target string, now time.Time) string {
	if target != "" {
		if _, err := time.Parse("2006-01-02", target); err == nil {
			return target
		}
	}
	return now.Format("2006-01-02")
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
