// Package llm talks to an OpenRouter-style chat completions endpoint. It owns
// the system prompt built from the current domain snapshot, bounded retry with
// a fixed delay, and the secondary meal nutrition estimation call.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"kbju-tracker/internal/models"
)

const (
	defaultModel  = "openai/gpt-4o-mini"
	defaultAPIURL = "https://openrouter.ai/api/v1/chat/completions"

	// High temperature keeps conversational replies varied; extraction
	// robustness comes from the envelope contract, not determinism.
	chatTemperature = 0.9

	defaultMaxRetries = 3
	defaultRetryDelay = 1000 * time.Millisecond
	defaultTimeout    = 60 * time.Second
)

// TransportError is the terminal network/HTTP failure after all retries are
// exhausted. It is surfaced to the user and never retried further upstream.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm transport failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Snapshot is the read-only view of domain state the system prompt is built
// from.
type Snapshot struct {
	Profile *models.UserProfile
	Entries []models.DailyEntry
	Goal    *models.KBJUGoal
	Context *models.UserContext
}

type Config struct {
	APIURL     string
	APIKey     string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

type Client struct {
	httpClient *http.Client
	config     Config
	logger     *zap.Logger

	// sleep is swapped out in tests to avoid real delays.
	sleep func(time.Duration)
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logger,
		sleep:  time.Sleep,
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Send issues one chat completion over the full conversation with a system
// instruction synthesized from snap prepended. The identical request is
// resubmitted on failure, up to MaxRetries attempts with a fixed delay in
// between; exhaustion yields a *TransportError.
func (c *Client) Send(ctx context.Context, conversation []models.ChatMessage, snap Snapshot) (string, error) {
	messages := make([]wireMessage, 0, len(conversation)+1)
	messages = append(messages, wireMessage{
		Role:    string(models.RoleSystem),
		Content: SystemPrompt(snap),
	})
	for _, m := range conversation {
		// Skip the empty assistant placeholder the orchestrator appends
		// before the reply is known.
		if m.Role == models.RoleAssistant && m.Content == "" {
			continue
		}
		messages = append(messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return c.completeWithRetry(ctx, messages)
}

func (c *Client) completeWithRetry(ctx context.Context, messages []wireMessage) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		content, err := c.complete(ctx, messages)
		if err == nil {
			return content, nil
		}
		lastErr = err
		c.logger.Warn("llm call failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", c.config.MaxRetries),
			zap.Error(err))
		if attempt < c.config.MaxRetries {
			c.sleep(c.config.RetryDelay)
		}
	}
	return "", &TransportError{Attempts: c.config.MaxRetries, Err: lastErr}
}

func (c *Client) complete(ctx context.Context, messages []wireMessage) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		Temperature: chatTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return "", fmt.Errorf("request failed with status %d and unreadable body: %v", resp.StatusCode, readErr)
		}
		var errResp errorResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("response contained no choices")
	}
	return chatResp.Choices[0].Message.Content, nil
}
