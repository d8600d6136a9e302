// Package llm provides a chat-completion client for the language model provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// SystemPrompt frames every completion.
const SystemPrompt = "You are a professional stock-tracking assistant."

// Request is one completion call.
type Request struct {
	Prompt string
	// JSONMode asks the provider to return a single JSON object.
	JSONMode bool
}

// Completer turns a prompt into model output.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client is an OpenAI-compatible Completer.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient creates a new LLM client.
func NewClient(apiKey, model, baseURL string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("llm api key is required")
	}
	if model == "" {
		return nil, errors.New("llm model is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		api:   openai.NewClientWithConfig(cfg),
		model: model,
	}, nil
}

// Complete sends the prompt with the fixed system message and returns the
// trimmed content of the first choice.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	chat := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.JSONMode {
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, chat)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
