// Package openai implements llm.Provider over the OpenAI-compatible chat
// completions protocol. Works with any endpoint that speaks it (litellm,
// Ollama, Azure, vLLM, etc.).
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cludelabs/clude/internal/llm"
	openailib "github.com/sashabaranov/go-openai"
)

// Client implements llm.Provider. Retry and timeout policy live in the
// llm.Chat chokepoint, not here: the client performs exactly one HTTP call
// per CallLLM invocation.
type Client struct {
	client *openailib.Client
	config *Config
}

// NewClient creates an OpenAI-compatible client.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clientConfig := openailib.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Timeout: time.Duration(config.HTTPTimeout) * time.Second,
	}

	return &Client{
		client: openailib.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// NewClientFromEnv creates a client using environment variables.
func NewClientFromEnv() (*Client, error) {
	config, err := NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	return NewClient(config)
}

// GetConfig returns the client's configuration.
func (c *Client) GetConfig() *Config { return c.config }

// CallLLM implements llm.Provider.
func (c *Client) CallLLM(ctx context.Context, messages []llm.Message, maxTokens int) (llm.Message, error) {
	if len(messages) == 0 {
		return llm.Message{}, fmt.Errorf("no messages to send")
	}

	req := openailib.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: convertMessages(messages),
	}
	if c.config.Temperature != nil {
		req.Temperature = *c.config.Temperature
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return llm.Message{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Message{}, fmt.Errorf("no choices returned")
	}

	return llm.Message{
		Role:    llm.RoleAssistant,
		Content: resp.Choices[0].Message.Content,
	}, nil
}

// convertMessages maps the internal message model onto the wire format.
// Multi-part messages become MultiContent entries; media parts travel as
// base64 data URLs.
func convertMessages(messages []llm.Message) []openailib.ChatCompletionMessage {
	out := make([]openailib.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		if len(msg.Parts) == 0 {
			out[i] = openailib.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
			continue
		}
		parts := make([]openailib.ChatMessagePart, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			if p.MediaType == "" {
				parts = append(parts, openailib.ChatMessagePart{
					Type: openailib.ChatMessagePartTypeText,
					Text: p.Text,
				})
				continue
			}
			parts = append(parts, openailib.ChatMessagePart{
				Type: openailib.ChatMessagePartTypeImageURL,
				ImageURL: &openailib.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", p.MediaType, p.Data),
				},
			})
		}
		out[i] = openailib.ChatCompletionMessage{Role: msg.Role, MultiContent: parts}
	}
	return out
}
