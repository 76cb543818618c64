package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kbju-tracker/internal/models"
)

// AuditLog appends immutable audit records to the store. Entries are written
// atomically with the mutation they describe and never altered afterwards;
// deletion is a distinct user-facing operation outside the pipeline.
type AuditLog struct {
	store Store
	now   func() time.Time
}

func NewAuditLog(store Store) *AuditLog {
	return &AuditLog{store: store, now: time.Now}
}

// Add writes one audit entry. The id carries a nanosecond timestamp prefix so
// ordering survives any store that sorts lexicographically.
func (l *AuditLog) Add(action models.AuditAction, description string, snapshot interface{}, messageID string) (*models.ActivityLogEntry, error) {
	now := l.now()

	var data json.RawMessage
	if snapshot != nil {
		raw, err := json.Marshal(snapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal audit snapshot: %w", err)
		}
		data = raw
	}

	entry := &models.ActivityLogEntry{
		ID:          fmt.Sprintf("log-%d-%s", now.UnixNano(), uuid.NewString()[:8]),
		Timestamp:   now,
		Date:        now.Format("2006-01-02"),
		ActionType:  action,
		Description: description,
		Data:        data,
		MessageID:   messageID,
	}
	if err := l.store.AppendActivityLogEntry(entry); err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return entry, nil
}
