package types

import "encoding/json"

// Role identifies the sender of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation. Order within a conversation is
// semantically significant and must be preserved.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCallID correlates a role="tool" message with the assistant tool
	// call it answers.
	ToolCallID string `json:"toolCallId,omitempty"`

	// ToolCalls carries the finalized tool calls an assistant message
	// requested, if any.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// SystemMessage builds a system message.
func SystemMessage(text string) Message { return Message{Role: RoleSystem, Content: text} }

// UserMessage builds a user message.
func UserMessage(text string) Message { return Message{Role: RoleUser, Content: text} }

// AssistantMessage builds an assistant message.
func AssistantMessage(text string) Message { return Message{Role: RoleAssistant, Content: text} }

// ToolMessage builds a tool-result message correlated by call ID.
func ToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Content: content}
}

// ToolDefinition declares a callable capability to the model. It is owned by
// the caller and read-only to the engine.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// ToolCall is a model-issued request to execute a tool. During streaming the
// Arguments field is accumulated from partial fragments keyed by Index and is
// only guaranteed to be valid JSON once the turn ends.
type ToolCall struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ResponseFormat constrains the shape of model output.
type ResponseFormat string

const (
	ResponseFormatJSONObject ResponseFormat = "json_object"
	ResponseFormatJSONSchema ResponseFormat = "json_schema"
)

// Options configures a single request. Any field that affects model output is
// part of the engine's cache key.
type Options struct {
	Provider       string           `json:"provider,omitempty"`
	Model          string           `json:"model,omitempty"`
	Temperature    float64          `json:"temperature,omitempty"`
	MaxTokens      int              `json:"maxTokens,omitempty"`
	ResponseFormat ResponseFormat   `json:"responseFormat,omitempty"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	Stream         bool             `json:"stream,omitempty"`
}
