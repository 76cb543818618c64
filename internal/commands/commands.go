// Package commands answers slash commands from local state without calling
// the language model.
package commands

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"kbju-tracker/internal/kbju"
	"kbju-tracker/internal/pipeline"
)

const helpText = `Available commands:
/help - show this message
/profile - show your profile
/goal - show your daily KBJU goal
/today - show today's entry
/stats - show period statistics
/activity - show recent audit log entries
/reset - delete all stored data (asks for confirmation)`

// Processor resolves slash commands against the store. A /reset stays pending
// until the next message confirms or cancels it. Safe for concurrent use; the
// mutex covers the pending-reset state and the store write it guards.
type Processor struct {
	store pipeline.Store
	now   func() time.Time

	mu           sync.Mutex
	pendingReset bool
}

func NewProcessor(store pipeline.Store) *Processor {
	return &Processor{store: store, now: time.Now}
}

// Handle answers text if it is a command or a pending reset confirmation.
// The second return value reports whether the message was consumed; when it
// is false the message should go through the regular pipeline.
func (p *Processor) Handle(text string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	trimmed := strings.TrimSpace(text)

	if p.pendingReset {
		p.pendingReset = false
		if strings.EqualFold(trimmed, "yes") {
			if err := p.store.Reset(); err != nil {
				return "", true, fmt.Errorf("reset data: %w", err)
			}
			return "All data has been deleted.", true, nil
		}
		return "Reset cancelled.", true, nil
	}

	if !strings.HasPrefix(trimmed, "/") {
		return "", false, nil
	}

	cmd := strings.ToLower(strings.Fields(trimmed)[0])
	switch cmd {
	case "/help":
		return helpText, true, nil
	case "/profile":
		return p.profileReply()
	case "/goal":
		return p.goalReply()
	case "/today":
		return p.todayReply()
	case "/stats":
		return p.statsReply()
	case "/activity":
		return p.activityReply()
	case "/reset":
		p.pendingReset = true
		return "This will delete all your data. Reply \"yes\" to confirm.", true, nil
	default:
		return fmt.Sprintf("Unknown command %s. Type /help for the list.", cmd), true, nil
	}
}

func (p *Processor) profileReply() (string, bool, error) {
	profile, err := p.store.Profile()
	if err != nil {
		return "", true, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		return "No profile yet. Tell me your height, weight, age and goal to create one.", true, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your profile:\n")
	fmt.Fprintf(&b, "Height: %s cm\n", formatFloat(profile.Height))
	fmt.Fprintf(&b, "Weight: %s kg\n", formatFloat(profile.Weight))
	fmt.Fprintf(&b, "Age: %d\n", profile.Age)
	fmt.Fprintf(&b, "Gender: %s\n", profile.Gender)
	fmt.Fprintf(&b, "Activity level: %s\n", profile.ActivityLevel)
	fmt.Fprintf(&b, "Goal: %s", profile.Goal)
	if profile.TargetWeight != nil {
		fmt.Fprintf(&b, "\nTarget weight: %s kg", formatFloat(*profile.TargetWeight))
	}
	return b.String(), true, nil
}

func (p *Processor) goalReply() (string, bool, error) {
	goal, err := p.store.Goal()
	if err != nil {
		return "", true, fmt.Errorf("load goal: %w", err)
	}
	if goal == nil {
		return "No goal yet. Create a profile first and I will compute one.", true, nil
	}
	return fmt.Sprintf("Daily goal: %d kcal, protein %d g, fat %d g, carbs %d g",
		goal.Calories, goal.Protein, goal.Fat, goal.Carbs), true, nil
}

func (p *Processor) todayReply() (string, bool, error) {
	today := p.now().Format("2006-01-02")
	entry, err := p.store.EntryByDate(today)
	if err != nil {
		return "", true, fmt.Errorf("load entry: %w", err)
	}
	if entry == nil {
		return "Nothing recorded today yet.", true, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Today (%s):\n", today)
	if len(entry.Meals) > 0 {
		totals := kbju.DailyTotals(entry)
		fmt.Fprintf(&b, "Meals:\n")
		for _, m := range entry.Meals {
			fmt.Fprintf(&b, "  - %s: %s kcal (P %s / F %s / C %s)\n",
				m.Name, formatFloat(m.Calories), formatFloat(m.Protein), formatFloat(m.Fat), formatFloat(m.Carbs))
		}
		fmt.Fprintf(&b, "Total: %d kcal, protein %d g, fat %d g, carbs %d g\n",
			totals.Calories, totals.Protein, totals.Fat, totals.Carbs)
	} else {
		fmt.Fprintf(&b, "No meals recorded.\n")
	}
	if entry.Weight != nil {
		fmt.Fprintf(&b, "Weight: %s kg\n", formatFloat(*entry.Weight))
	}
	if entry.Activity != nil {
		fmt.Fprintf(&b, "Activity: %s", entry.Activity.Type)
		if entry.Activity.Duration != nil {
			fmt.Fprintf(&b, " (%d min)", *entry.Activity.Duration)
		}
		if entry.Activity.Calories != nil {
			fmt.Fprintf(&b, " - %d kcal", *entry.Activity.Calories)
		}
		fmt.Fprintf(&b, "\n")
	}
	return strings.TrimRight(b.String(), "\n"), true, nil
}

func (p *Processor) statsReply() (string, bool, error) {
	entries, err := p.store.Entries()
	if err != nil {
		return "", true, fmt.Errorf("load entries: %w", err)
	}
	if len(entries) == 0 {
		return "No entries yet, nothing to summarize.", true, nil
	}

	stats := kbju.Stats(entries)
	var b strings.Builder
	fmt.Fprintf(&b, "Stats for %s to %s (%d days):\n", stats.PeriodStart, stats.PeriodEnd, stats.Days)
	fmt.Fprintf(&b, "Average per day: %d kcal, protein %d g, fat %d g, carbs %d g\n",
		stats.AverageDailyCalories, stats.AverageDailyProtein, stats.AverageDailyFat, stats.AverageDailyCarbs)
	if stats.AverageWeight != nil {
		fmt.Fprintf(&b, "Average weight: %s kg\n", formatFloat(*stats.AverageWeight))
	}
	if stats.WeightChange != nil {
		fmt.Fprintf(&b, "Weight change: %+.1f kg\n", *stats.WeightChange)
	}
	return strings.TrimRight(b.String(), "\n"), true, nil
}

func (p *Processor) activityReply() (string, bool, error) {
	log, err := p.store.ActivityLog()
	if err != nil {
		return "", true, fmt.Errorf("load activity log: %w", err)
	}
	if len(log) == 0 {
		return "The activity log is empty.", true, nil
	}

	const limit = 10
	if len(log) > limit {
		log = log[:limit]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent activity:\n")
	for _, e := range log {
		fmt.Fprintf(&b, "  %s  %s\n", e.Date, e.Description)
	}
	return strings.TrimRight(b.String(), "\n"), true, nil
}

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.1f", v), "0"), ".")
}
