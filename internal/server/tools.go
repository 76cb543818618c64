package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"go.uber.org/zap"

	"kbju-tracker/internal/kbju"
	"kbju-tracker/internal/models"
	"kbju-tracker/internal/pipeline"
)

type SendMessageParams struct {
	Text string `json:"text" description:"The user's chat message"`
}

type GetStatsParams struct {
	StartDate string `json:"start_date,omitempty" description:"Start date for the period (YYYY-MM-DD)"`
	EndDate   string `json:"end_date,omitempty" description:"End date for the period (YYYY-MM-DD)"`
}

type GetActivityLogParams struct {
	Limit int `json:"limit,omitempty" description:"Maximum number of log entries to return"`
}

type DeleteActivityEntryParams struct {
	ID string `json:"id" description:"Identifier of the audit log entry to delete"`
}

type ResetDataParams struct {
	Confirm bool `json:"confirm" description:"Must be true to actually delete everything"`
}

// extractParams unpacks the request arguments into a typed parameter struct.
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return fmt.Errorf("failed to unmarshal parameters: %w", err)
	}
	return nil
}

// handleSendMessage routes slash commands locally and everything else through
// the conversation pipeline.
func (s *TrackerServer) handleSendMessage(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params SendMessageParams
	if err := extractParams(req, &params); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if params.Text == "" {
		return nil, fmt.Errorf("message text is required")
	}

	// Commands run under the message-cycle guard so a /reset confirmation
	// cannot wipe the store while a message is being reconciled.
	var reply string
	var handled bool
	err := s.orchestrator.RunExclusive(func() error {
		var handleErr error
		reply, handled, handleErr = s.commands.Handle(params.Text)
		return handleErr
	})
	if err != nil {
		return nil, err
	}
	if handled {
		return s.createJSONResponse(map[string]interface{}{
			"reply":  reply,
			"kind":   "command",
			"source": "local",
		})
	}

	result, err := s.orchestrator.ProcessMessage(ctx, params.Text)
	if err != nil {
		return nil, err
	}

	return s.createJSONResponse(map[string]interface{}{
		"reply": result.Reply,
		"kind":  string(result.Kind),
	})
}

func (s *TrackerServer) handleGetProfile(req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	profile, err := s.storage.Profile()
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		return s.createJSONResponse(map[string]interface{}{"profile": nil})
	}
	return s.createJSONResponse(map[string]interface{}{"profile": profile})
}

func (s *TrackerServer) handleGetGoal(req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	goal, err := s.storage.Goal()
	if err != nil {
		return nil, fmt.Errorf("failed to load goal: %w", err)
	}
	if goal == nil {
		return s.createJSONResponse(map[string]interface{}{"goal": nil})
	}
	return s.createJSONResponse(map[string]interface{}{"goal": goal})
}

func (s *TrackerServer) handleGetToday(req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	today := time.Now().Format("2006-01-02")
	entry, err := s.storage.EntryByDate(today)
	if err != nil {
		return nil, fmt.Errorf("failed to load entry: %w", err)
	}
	if entry == nil {
		return s.createJSONResponse(map[string]interface{}{"date": today, "entry": nil})
	}
	totals := kbju.DailyTotals(entry)
	return s.createJSONResponse(map[string]interface{}{
		"date":   today,
		"entry":  entry,
		"totals": totals,
	})
}

func (s *TrackerServer) handleGetStats(req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params GetStatsParams
	if err := extractParams(req, &params); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	entries, err := s.storage.Entries()
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	filtered := entries[:0:0]
	for _, e := range entries {
		if params.StartDate != "" && e.Date < params.StartDate {
			continue
		}
		if params.EndDate != "" && e.Date > params.EndDate {
			continue
		}
		filtered = append(filtered, e)
	}

	return s.createJSONResponse(kbju.Stats(filtered))
}

func (s *TrackerServer) handleGetActivityLog(req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params GetActivityLogParams
	if err := extractParams(req, &params); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if params.Limit <= 0 {
		params.Limit = 50
	}

	log, err := s.storage.ActivityLog()
	if err != nil {
		return nil, fmt.Errorf("failed to load activity log: %w", err)
	}
	if len(log) > params.Limit {
		log = log[:params.Limit]
	}
	if log == nil {
		log = []models.ActivityLogEntry{}
	}
	return s.createJSONResponse(log)
}

func (s *TrackerServer) handleDeleteActivityEntry(req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params DeleteActivityEntryParams
	if err := extractParams(req, &params); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if params.ID == "" {
		return nil, fmt.Errorf("entry id is required")
	}

	err := s.orchestrator.RunExclusive(func() error {
		return s.storage.DeleteActivityLogEntry(params.ID)
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrBusy) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to delete activity log entry: %w", err)
	}
	return s.createJSONResponse(map[string]interface{}{"deleted": params.ID})
}

// handleResetData wipes all stored state. Destructive, so it refuses to act
// without the confirm flag.
func (s *TrackerServer) handleResetData(req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ResetDataParams
	if err := extractParams(req, &params); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if !params.Confirm {
		return s.createJSONResponse(map[string]interface{}{
			"reset":   false,
			"message": "Pass confirm=true to delete all stored data.",
		})
	}

	err := s.orchestrator.RunExclusive(func() error {
		return s.storage.Reset()
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrBusy) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to reset data: %w", err)
	}
	s.logger.Info("all data reset")
	return s.createJSONResponse(map[string]interface{}{"reset": true})
}

func (s *TrackerServer) registerTools() error {
	tools := map[string]bool{
		"send_message":          true,
		"get_profile":           true,
		"get_goal":              true,
		"get_today":             true,
		"get_stats":             true,
		"get_activity_log":      true,
		"delete_activity_entry": true,
		"reset_data":            true,
	}

	for name := range tools {
		s.logger.Debug("registered tool", zap.String("name", name))
	}
	return nil
}
