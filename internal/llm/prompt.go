package llm

import (
	"fmt"
	"strings"

	"kbju-tracker/internal/kbju"
)

// recentEntryLimit bounds how many daily entries are inlined into the system
// prompt; older ones only inflate the context window.
const recentEntryLimit = 7

const envelopeContract = `You are a nutrition and activity tracking assistant. The user describes meals,
weight, workouts and goals in free-form language; you interpret each message
against their accumulated state.

ALWAYS answer with a single JSON object, optionally surrounded by a short
conversational remark:
{
  "action": "create_profile" | "update_profile" | "add_entry" | "update_goal" | "show_stats" | "show_goal" | "general",
  "data": {
    "profile": {"height": number, "weight": number, "age": number, "gender": "male"|"female", "activityLevel": "sedentary"|"light"|"moderate"|"active"|"very_active", "goal": "lose"|"maintain"|"gain", "targetWeight": number},
    "meals": [{"name": string, "calories": number, "protein": number, "fat": number, "carbs": number}],
    "weight": number,
    "activity": {"type": "walking"|"running"|"gym"|"cycling"|"other", "duration": number, "calories": number, "description": string},
    "goal": {"calories": number, "protein": number, "fat": number, "carbs": number},
    "context": {"name": string, "preferences": [string], "notes": string},
    "targetDate": "YYYY-MM-DD"
  },
  "response": "the reply shown to the user"
}

Rules:
- Omit every data field you did not extract from the message; never invent values.
- "create_profile" only when no profile exists yet and the message carries biometric data.
- "update_profile" when the user states a changed biometric value.
- "add_entry" for food eaten, a weight measurement or a physical activity; use
  "targetDate" only when the user names a day other than today.
- "update_goal" when the user states explicit calorie or macro targets.
- "show_stats" / "show_goal" for progress or target questions; "general" otherwise.
- Meal nutrition values you are unsure about may be omitted; they are estimated separately.
- Record the user's name, food preferences or notable constraints in "context" whenever mentioned.
- "response" is always present, friendly and concise.`

// SystemPrompt renders the envelope contract plus the user's current state so
// extraction is context-aware.
func SystemPrompt(snap Snapshot) string {
	parts := []string{envelopeContract}
	if state := formatSnapshot(snap); state != "" {
		parts = append(parts, "Current user state:\n\n"+state)
	} else {
		parts = append(parts, "Current user state: no profile yet. Encourage the user to share age, weight, height and goal.")
	}
	return strings.Join(parts, "\n\n")
}

func formatSnapshot(snap Snapshot) string {
	var parts []string

	if snap.Profile != nil {
		p := snap.Profile
		profile := fmt.Sprintf(`User profile:
- Height: %.0f cm
- Weight: %.1f kg
- Age: %d
- Gender: %s
- Activity level: %s
- Goal: %s`, p.Height, p.Weight, p.Age, p.Gender, p.ActivityLevel, p.Goal)
		if p.TargetWeight != nil {
			profile += fmt.Sprintf("\n- Target weight: %.1f kg", *p.TargetWeight)
		}
		parts = append(parts, profile)
	}

	if snap.Goal != nil {
		g := snap.Goal
		parts = append(parts, fmt.Sprintf(`KBJU targets:
- Calories: %d kcal
- Protein: %d g
- Fat: %d g
- Carbs: %d g`, g.Calories, g.Protein, g.Fat, g.Carbs))
	}

	if snap.Context != nil {
		var lines []string
		if snap.Context.Name != "" {
			lines = append(lines, "- Name: "+snap.Context.Name)
		}
		if len(snap.Context.Preferences) > 0 {
			lines = append(lines, "- Preferences: "+strings.Join(snap.Context.Preferences, ", "))
		}
		if snap.Context.Notes != "" {
			lines = append(lines, "- Notes: "+snap.Context.Notes)
		}
		if len(lines) > 0 {
			parts = append(parts, "About the user:\n"+strings.Join(lines, "\n"))
		}
	}

	if len(snap.Entries) > 0 {
		recent := snap.Entries
		if len(recent) > recentEntryLimit {
			recent = recent[len(recent)-recentEntryLimit:]
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Recent entries (%d of %d):", len(recent), len(snap.Entries))
		for i := range recent {
			e := &recent[i]
			daily := kbju.DailyTotals(e)
			fmt.Fprintf(&sb, "\n%s: %d kcal, protein %d g, fat %d g, carbs %d g",
				e.Date, daily.Calories, daily.Protein, daily.Fat, daily.Carbs)
			if e.Weight != nil {
				fmt.Fprintf(&sb, ", weight %.1f kg", *e.Weight)
			}
			if e.Activity != nil && e.Activity.Calories != nil {
				fmt.Fprintf(&sb, ", activity %d kcal", *e.Activity.Calories)
			}
		}
		parts = append(parts, sb.String())
	}

	return strings.Join(parts, "\n\n")
}
