// Package server exposes the tracker as MCP tools over HTTP. Tool calls are
// routed by name; send_message feeds the conversation pipeline, the rest read
// or mutate stored state directly.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/ThinkInAIXYZ/go-mcp/server"
	"go.uber.org/zap"

	"kbju-tracker/internal/commands"
	"kbju-tracker/internal/config"
	"kbju-tracker/internal/llm"
	"kbju-tracker/internal/pipeline"
	"kbju-tracker/internal/storage"
)

type TrackerServer struct {
	server       *server.Server
	httpServer   *http.Server
	storage      *storage.SQLiteStorage
	orchestrator *pipeline.Orchestrator
	commands     *commands.Processor
	logger       *zap.Logger
	config       *config.Config
}

func New(cfg *config.Config, logger *zap.Logger) (*TrackerServer, error) {
	stor, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	client := llm.NewClient(llm.Config{
		APIURL:     cfg.LLM.APIURL,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		MaxRetries: cfg.LLM.MaxRetries,
		RetryDelay: cfg.LLM.RetryDelay,
		Timeout:    cfg.LLM.Timeout,
	}, logger)

	audit := pipeline.NewAuditLog(stor)
	reconciler := pipeline.NewReconciler(stor, client, audit, logger)
	orchestrator := pipeline.NewOrchestrator(stor, client, reconciler, nil, logger)

	ts := &TrackerServer{
		storage:      stor,
		orchestrator: orchestrator,
		commands:     commands.NewProcessor(stor),
		logger:       logger,
		config:       cfg,
	}

	mcpServer, err := server.NewServer(
		nil,
		server.WithServerInfo(protocol.Implementation{
			Name:    "kbju-tracker",
			Version: "1.0.0",
		}),
	)
	if err != nil {
		stor.Close()
		return nil, fmt.Errorf("failed to create MCP server: %w", err)
	}
	ts.server = mcpServer

	if err := ts.registerTools(); err != nil {
		stor.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", ts.handleHTTP)
	ts.httpServer = &http.Server{
		Addr:    cfg.Addr(),
		Handler: mux,
	}

	return ts, nil
}

func (s *TrackerServer) handleHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request protocol.CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	var result *protocol.CallToolResult
	var err error

	switch request.Name {
	case "send_message":
		result, err = s.handleSendMessage(r.Context(), &request)
	case "get_profile":
		result, err = s.handleGetProfile(&request)
	case "get_goal":
		result, err = s.handleGetGoal(&request)
	case "get_today":
		result, err = s.handleGetToday(&request)
	case "get_stats":
		result, err = s.handleGetStats(&request)
	case "get_activity_log":
		result, err = s.handleGetActivityLog(&request)
	case "delete_activity_entry":
		result, err = s.handleDeleteActivityEntry(&request)
	case "reset_data":
		result, err = s.handleResetData(&request)
	default:
		http.Error(w, fmt.Sprintf("Unknown tool: %s", request.Name), http.StatusNotFound)
		return
	}

	if errors.Is(err, pipeline.ErrBusy) {
		http.Error(w, "A message is already being processed", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *TrackerServer) Start(ctx context.Context) error {
	s.logger.Info("starting tracker server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *TrackerServer) Stop() error {
	if s.storage != nil {
		s.storage.Close()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(context.Background())
	}
	return nil
}

func (s *TrackerServer) createJSONResponse(data interface{}) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}
