package provider

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/codeloom-ai/codeloom/pkg/types"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIAdapter implements Adapter for the OpenAI chat-completions schema.
// It also serves OpenAI-compatible backends under a different ID and base URL.
type OpenAIAdapter struct {
	config *OpenAIConfig
	models []types.Model
}

// OpenAIConfig holds configuration for the OpenAI adapter.
type OpenAIConfig struct {
	// ID is the provider identifier. If empty, defaults to "openai".
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(config *OpenAIConfig) (*OpenAIAdapter, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	config.APIKey = apiKey

	if config.Model == "" {
		config.Model = "gpt-4o"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultOpenAIBaseURL
	}

	return &OpenAIAdapter{config: config, models: openAIModels()}, nil
}

// ID returns the provider identifier.
func (a *OpenAIAdapter) ID() string {
	if a.config.ID != "" {
		return a.config.ID
	}
	return "openai"
}

// Name returns the human-readable provider name.
func (a *OpenAIAdapter) Name() string { return "OpenAI" }

// Models returns the provider's model catalog.
func (a *OpenAIAdapter) Models() []types.Model { return a.models }

// SupportsStreaming reports true: the backend speaks SSE chat-completions.
func (a *OpenAIAdapter) SupportsStreaming() bool { return true }

// openAIMessage is the wire form of a chat message.
type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Tools          []openAITool    `json:"tools,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
	Stream bool `json:"stream"`
}

// Prepare maps a conversation onto the chat-completions request schema.
func (a *OpenAIAdapter) Prepare(req *Request) (*RequestDescriptor, error) {
	model := req.Options.Model
	if model == "" {
		model = a.config.Model
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.config.MaxTokens
	}

	body := openAIRequest{
		Model:       model,
		Messages:    make([]openAIMessage, 0, len(req.Messages)),
		Temperature: req.Options.Temperature,
		MaxTokens:   maxTokens,
		Stream:      req.Options.Stream,
	}

	for _, msg := range req.Messages {
		m := openAIMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		body.Messages = append(body.Messages, m)
	}

	for _, tool := range req.Options.Tools {
		body.Tools = append(body.Tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	if req.Options.ResponseFormat != "" {
		body.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: string(req.Options.ResponseFormat)}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	return &RequestDescriptor{
		URL: strings.TrimSuffix(a.config.BaseURL, "/") + "/chat/completions",
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + a.config.APIKey,
		},
		Body: data,
	}, nil
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Parse decodes a complete chat-completions response body.
func (a *OpenAIAdapter) Parse(body []byte) (*Result, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("undecodable response: %w", err)
	}

	if resp.Error != nil {
		return nil, &APIError{
			Provider: a.ID(),
			Type:     resp.Error.Type,
			Code:     fmt.Sprintf("%v", resp.Error.Code),
			Message:  resp.Error.Message,
		}
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("undecodable response: no choices")
	}

	msg := resp.Choices[0].Message
	result := &Result{Text: msg.Content}
	for i, tc := range msg.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, types.ToolCall{
			Index:     i,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// openAIModels returns the OpenAI model catalog.
func openAIModels() []types.Model {
	return []types.Model{
		{
			ID:              "gpt-4o",
			Name:            "GPT-4o",
			ProviderID:      "openai",
			ContextLength:   128000,
			MaxOutputTokens: 16384,
			SupportsTools:   true,
			SupportsVision:  true,
			InputPrice:      2.5,
			OutputPrice:     10.0,
		},
		{
			ID:              "gpt-4o-mini",
			Name:            "GPT-4o Mini",
			ProviderID:      "openai",
			ContextLength:   128000,
			MaxOutputTokens: 16384,
			SupportsTools:   true,
			SupportsVision:  true,
			InputPrice:      0.15,
			OutputPrice:     0.6,
		},
		{
			ID:              "o1",
			Name:            "O1",
			ProviderID:      "openai",
			ContextLength:   200000,
			MaxOutputTokens: 100000,
			SupportsTools:   true,
			InputPrice:      15.0,
			OutputPrice:     60.0,
		},
	}
}
