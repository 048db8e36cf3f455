// Package llm provides the optional schema-change summarizer backed by an
// OpenAI-compatible endpoint.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Summarizer produces a short natural-language note about a schema change.
// Implementations must be safe for concurrent use.
type Summarizer interface {
	SummarizeSchemaChange(ctx context.Context, workspaceName string, added, removed []string) (string, error)
}

// Client is a Summarizer backed by an OpenAI-compatible chat endpoint.
type Client struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// Config holds configuration for creating an insight client.
type Config struct {
	BaseURL string // e.g. "https://api.openai.com/v1"
	Model   string // e.g. "gpt-4o-mini"
	APIKey  string // Optional for local endpoints
}

// NewClient creates a new summarizer client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		logger: logger.Named("llm"),
	}, nil
}

var _ Summarizer = (*Client)(nil)

const systemMessage = "You are a data monitoring assistant. Given a list of added and removed columns in a dataset, write one short sentence explaining the likely impact for the dataset's owner. Be concrete and do not speculate beyond the column names."

// SummarizeSchemaChange asks the model for a one-sentence note about the
// column delta. Failures are returned to the caller, which treats the
// summary as best-effort.
func (c *Client) SummarizeSchemaChange(ctx context.Context, workspaceName string, added, removed []string) (string, error) {
	prompt := fmt.Sprintf(
		"Dataset %q changed between refreshes.\nAdded columns: %s\nRemoved columns: %s",
		workspaceName, formatColumns(added), formatColumns(removed))

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
		MaxTokens:   120,
	})
	if err != nil {
		c.logger.Warn("summarizer request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", fmt.Errorf("summarize schema change: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarizer returned no choices")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.Debug("summarizer response",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("summary_len", len(summary)))
	return summary, nil
}

func formatColumns(cols []string) string {
	if len(cols) == 0 {
		return "(none)"
	}
	return strings.Join(cols, ", ")
}
