package provider

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/codeloom-ai/codeloom/pkg/types"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// AnthropicAdapter implements Adapter for the Anthropic messages schema.
//
// Anthropic models "system" as a top-level field rather than a message role,
// and tool results as tool_result content blocks inside user messages; Prepare
// performs both relocations. The messages API streams in its own event
// vocabulary rather than chat-completions SSE, so SupportsStreaming reports
// false and the engine falls back to one-shot calls.
type AnthropicAdapter struct {
	config *AnthropicConfig
	models []types.Model
}

// AnthropicConfig holds configuration for the Anthropic adapter.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewAnthropicAdapter creates a new Anthropic adapter.
func NewAnthropicAdapter(config *AnthropicConfig) (*AnthropicAdapter, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	config.APIKey = apiKey

	if config.Model == "" {
		config.Model = "claude-sonnet-4-20250514"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 8192
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultAnthropicBaseURL
	}

	return &AnthropicAdapter{config: config, models: anthropicModels()}, nil
}

// ID returns the provider identifier.
func (a *AnthropicAdapter) ID() string { return "anthropic" }

// Name returns the human-readable provider name.
func (a *AnthropicAdapter) Name() string { return "Anthropic" }

// Models returns the provider's model catalog.
func (a *AnthropicAdapter) Models() []types.Model { return a.models }

// SupportsStreaming reports false: the messages API does not speak
// chat-completions SSE.
func (a *AnthropicAdapter) SupportsStreaming() bool { return false }

// anthropicContent is one content block of a messages-API message.
type anthropicContent struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Stream      bool               `json:"stream"`
}

// Prepare maps a conversation onto the messages-API request schema.
func (a *AnthropicAdapter) Prepare(req *Request) (*RequestDescriptor, error) {
	model := req.Options.Model
	if model == "" {
		model = a.config.Model
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.config.MaxTokens
	}

	body := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Options.Temperature,
		Stream:      false,
	}

	var system []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case types.RoleSystem:
			system = append(system, msg.Content)

		case types.RoleTool:
			body.Messages = append(body.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case types.RoleAssistant:
			m := anthropicMessage{Role: "assistant"}
			if msg.Content != "" {
				m.Content = append(m.Content, anthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				m.Content = append(m.Content, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			if len(m.Content) == 0 {
				continue
			}
			body.Messages = append(body.Messages, m)

		default:
			body.Messages = append(body.Messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: msg.Content}},
			})
		}
	}
	body.System = strings.Join(system, "\n\n")

	for _, tool := range req.Options.Tools {
		body.Tools = append(body.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	return &RequestDescriptor{
		URL: strings.TrimSuffix(a.config.BaseURL, "/") + "/v1/messages",
		Headers: map[string]string{
			"Content-Type":      "application/json",
			"x-api-key":         a.config.APIKey,
			"anthropic-version": anthropicVersion,
		},
		Body: data,
	}, nil
}

type anthropicResponse struct {
	Type    string             `json:"type"`
	Content []anthropicContent `json:"content"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Parse decodes a complete messages-API response body.
func (a *AnthropicAdapter) Parse(body []byte) (*Result, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("undecodable response: %w", err)
	}

	if resp.Error != nil {
		return nil, &APIError{
			Provider: a.ID(),
			Type:     resp.Error.Type,
			Message:  resp.Error.Message,
		}
	}

	if resp.Type != "message" || len(resp.Content) == 0 {
		return nil, fmt.Errorf("undecodable response: unexpected type %q", resp.Type)
	}

	result := &Result{}
	index := 0
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Text += block.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, types.ToolCall{
				Index:     index,
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
			index++
		}
	}
	return result, nil
}

// anthropicModels returns the Anthropic model catalog.
func anthropicModels() []types.Model {
	return []types.Model{
		{
			ID:              "claude-sonnet-4-20250514",
			Name:            "Claude Sonnet 4",
			ProviderID:      "anthropic",
			ContextLength:   200000,
			MaxOutputTokens: 64000,
			SupportsTools:   true,
			SupportsVision:  true,
			InputPrice:      3.0,
			OutputPrice:     15.0,
		},
		{
			ID:              "claude-opus-4-20250514",
			Name:            "Claude Opus 4",
			ProviderID:      "anthropic",
			ContextLength:   200000,
			MaxOutputTokens: 32000,
			SupportsTools:   true,
			SupportsVision:  true,
			InputPrice:      15.0,
			OutputPrice:     75.0,
		},
		{
			ID:              "claude-3-5-haiku-20241022",
			Name:            "Claude 3.5 Haiku",
			ProviderID:      "anthropic",
			ContextLength:   200000,
			MaxOutputTokens: 8192,
			SupportsTools:   true,
			InputPrice:      0.8,
			OutputPrice:     4.0,
		},
	}
}
