package pipeline

import (
	"context"
	"errors"
	"sort"

	"kbju-tracker/internal/llm"
	"kbju-tracker/internal/models"
)

// memStore is an in-memory Store for pipeline tests. Individual operations
// can be failed on demand to exercise partial-application paths.
type memStore struct {
	profile  *models.UserProfile
	goal     *models.KBJUGoal
	entries  map[string]*models.DailyEntry
	userCtx  *models.UserContext
	auditLog []models.ActivityLogEntry
	history  []models.ChatMessage

	failSaveEntry bool
	failSetGoal   bool
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*models.DailyEntry)}
}

var errInjected = errors.New("injected store failure")

func (s *memStore) Profile() (*models.UserProfile, error) { return s.profile, nil }

func (s *memStore) SetProfile(p *models.UserProfile) error {
	cp := *p
	s.profile = &cp
	return nil
}

func (s *memStore) Entries() ([]models.DailyEntry, error) {
	dates := make([]string, 0, len(s.entries))
	for d := range s.entries {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	out := make([]models.DailyEntry, 0, len(dates))
	for _, d := range dates {
		out = append(out, *s.entries[d])
	}
	return out, nil
}

func (s *memStore) EntryByDate(date string) (*models.DailyEntry, error) {
	e, ok := s.entries[date]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *memStore) SaveEntry(e *models.DailyEntry) error {
	if s.failSaveEntry {
		return errInjected
	}
	cp := *e
	s.entries[e.Date] = &cp
	return nil
}

func (s *memStore) DeleteEntry(id string) error {
	for d, e := range s.entries {
		if e.ID == id {
			delete(s.entries, d)
		}
	}
	return nil
}

func (s *memStore) Goal() (*models.KBJUGoal, error) { return s.goal, nil }

func (s *memStore) SetGoal(g *models.KBJUGoal) error {
	if s.failSetGoal {
		return errInjected
	}
	cp := *g
	s.goal = &cp
	return nil
}

func (s *memStore) Context() (*models.UserContext, error) { return s.userCtx, nil }

func (s *memStore) SetContext(c *models.UserContext) error {
	cp := *c
	s.userCtx = &cp
	return nil
}

func (s *memStore) ActivityLog() ([]models.ActivityLogEntry, error) {
	out := make([]models.ActivityLogEntry, len(s.auditLog))
	copy(out, s.auditLog)
	return out, nil
}

func (s *memStore) AppendActivityLogEntry(e *models.ActivityLogEntry) error {
	s.auditLog = append(s.auditLog, *e)
	return nil
}

func (s *memStore) DeleteActivityLogEntry(id string) error {
	for i, e := range s.auditLog {
		if e.ID == id {
			s.auditLog = append(s.auditLog[:i], s.auditLog[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memStore) ChatHistory() ([]models.ChatMessage, error) {
	out := make([]models.ChatMessage, len(s.history))
	copy(out, s.history)
	return out, nil
}

func (s *memStore) SaveChatHistory(msgs []models.ChatMessage) error {
	s.history = make([]models.ChatMessage, len(msgs))
	copy(s.history, msgs)
	return nil
}

func (s *memStore) Reset() error {
	s.profile = nil
	s.goal = nil
	s.entries = make(map[string]*models.DailyEntry)
	s.userCtx = nil
	s.auditLog = nil
	s.history = nil
	return nil
}

// fakeEstimator returns a fixed estimate and records what it was asked about.
type fakeEstimator struct {
	estimate *llm.MealEstimate
	err      error
	asked    []string
}

func (f *fakeEstimator) EstimateMeal(_ context.Context, mealName string) (*llm.MealEstimate, error) {
	f.asked = append(f.asked, mealName)
	return f.estimate, f.err
}

// fakeGateway returns canned model output.
type fakeGateway struct {
	reply string
	err   error
	calls int
}

func (f *fakeGateway) Send(context.Context, []models.ChatMessage, llm.Snapshot) (string, error) {
	f.calls++
	return f.reply, f.err
}
