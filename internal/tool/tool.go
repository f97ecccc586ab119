// Package tool provides the registry of caller-supplied tools the model can
// invoke during a session. The engine does not ship tool implementations;
// callers register them by name.
package tool

import (
	"context"
	"encoding/json"

	"github.com/codeloom-ai/codeloom/pkg/types"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	// ID returns the tool identifier the model calls it by.
	ID() string

	// Description returns the tool description shown to the model.
	Description() string

	// Parameters returns the JSON Schema for the tool's input.
	Parameters() json.RawMessage

	// Execute runs the tool with already-validated JSON input.
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Result is the output of one tool execution. It is JSON-encoded and fed back
// into the conversation as a role="tool" message.
type Result struct {
	Title  string `json:"title,omitempty"`
	Output string `json:"output"`
}

// FuncTool adapts a plain function into a Tool.
type FuncTool struct {
	id          string
	description string
	parameters  json.RawMessage
	execute     func(ctx context.Context, input json.RawMessage) (*Result, error)
}

// NewFuncTool creates a tool backed by a function.
func NewFuncTool(id, description string, params json.RawMessage, execute func(context.Context, json.RawMessage) (*Result, error)) *FuncTool {
	return &FuncTool{id: id, description: description, parameters: params, execute: execute}
}

func (t *FuncTool) ID() string                  { return t.id }
func (t *FuncTool) Description() string         { return t.description }
func (t *FuncTool) Parameters() json.RawMessage { return t.parameters }

func (t *FuncTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	return t.execute(ctx, input)
}

// Definition returns the tool's wire-facing declaration.
func Definition(t Tool) types.ToolDefinition {
	return types.ToolDefinition{
		Name:        t.ID(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}
