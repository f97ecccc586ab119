package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codeloom-ai/codeloom/pkg/types"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaAdapter implements Adapter for a local Ollama server. Ollama needs no
// credentials; SupportsStreaming reports false because its chat endpoint
// streams newline-delimited JSON, not SSE, so the engine uses one-shot calls.
type OllamaAdapter struct {
	config *OllamaConfig
	models []types.Model
}

// OllamaConfig holds configuration for the Ollama adapter.
type OllamaConfig struct {
	BaseURL string
	Model   string
}

// NewOllamaAdapter creates a new Ollama adapter.
func NewOllamaAdapter(config *OllamaConfig) (*OllamaAdapter, error) {
	if config.BaseURL == "" {
		config.BaseURL = defaultOllamaBaseURL
	}
	if config.Model == "" {
		config.Model = "llama3.1"
	}
	return &OllamaAdapter{
		config: config,
		models: []types.Model{{
			ID:         config.Model,
			Name:       config.Model,
			ProviderID: "ollama",
		}},
	}, nil
}

// ID returns the provider identifier.
func (a *OllamaAdapter) ID() string { return "ollama" }

// Name returns the human-readable provider name.
func (a *OllamaAdapter) Name() string { return "Ollama" }

// Models returns the provider's model catalog.
func (a *OllamaAdapter) Models() []types.Model { return a.models }

// SupportsStreaming reports false: the engine falls back to one-shot calls.
func (a *OllamaAdapter) SupportsStreaming() bool { return false }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Options  struct {
		Temperature float64 `json:"temperature,omitempty"`
		NumPredict  int     `json:"num_predict,omitempty"`
	} `json:"options"`
	Stream bool `json:"stream"`
}

// Prepare maps a conversation onto the Ollama chat request schema. Tool
// messages are flattened to user text since Ollama has no tool role.
func (a *OllamaAdapter) Prepare(req *Request) (*RequestDescriptor, error) {
	model := req.Options.Model
	if model == "" {
		model = a.config.Model
	}

	body := ollamaRequest{Model: model, Stream: false}
	body.Options.Temperature = req.Options.Temperature
	body.Options.NumPredict = req.Options.MaxTokens

	for _, msg := range req.Messages {
		role := string(msg.Role)
		content := msg.Content
		if msg.Role == types.RoleTool {
			role = "user"
			content = fmt.Sprintf("Tool result (%s): %s", msg.ToolCallID, msg.Content)
		}
		body.Messages = append(body.Messages, ollamaMessage{Role: role, Content: content})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	return &RequestDescriptor{
		URL: strings.TrimSuffix(a.config.BaseURL, "/") + "/api/chat",
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: data,
	}, nil
}

type ollamaResponse struct {
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

// Parse decodes a complete Ollama chat response body.
func (a *OllamaAdapter) Parse(body []byte) (*Result, error) {
	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("undecodable response: %w", err)
	}

	if resp.Error != "" {
		return nil, &APIError{Provider: a.ID(), Message: resp.Error}
	}
	if resp.Message == nil {
		return nil, fmt.Errorf("undecodable response: missing message")
	}
	return &Result{Text: resp.Message.Content}, nil
}
