// Package provider maps the engine's universal message model onto
// backend-specific wire schemas.
//
// An Adapter is a pure function over its inputs plus read-only configuration:
// Prepare builds the HTTP request descriptor for a conversation, Parse decodes
// a complete (non-streaming) response body. Adapters self-describe streaming
// support through SupportsStreaming; the engine falls back to a one-shot call
// for adapters that report false.
package provider

import (
	"fmt"

	"github.com/codeloom-ai/codeloom/pkg/types"
)

// Request is the adapter input: an ordered conversation plus per-request
// options. Both are read-only to the adapter.
type Request struct {
	Messages []types.Message
	Options  types.Options
}

// RequestDescriptor is the adapter's sole output: everything the transport
// needs to perform the HTTP exchange. It is opaque to all other components.
type RequestDescriptor struct {
	URL     string
	Headers map[string]string
	Body    []byte
}

// Result is a decoded model response.
type Result struct {
	Text      string
	ToolCalls []types.ToolCall
}

// Adapter converts between the universal model and one backend's wire schema.
type Adapter interface {
	// ID returns the provider identifier (e.g. "openai").
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Models returns the provider's model catalog.
	Models() []types.Model

	// SupportsStreaming reports whether the backend speaks the SSE
	// chat-completions streaming format.
	SupportsStreaming() bool

	// Prepare maps a conversation onto the backend's request schema.
	Prepare(req *Request) (*RequestDescriptor, error)

	// Parse decodes a complete response body. It returns *APIError for a
	// well-formed provider error payload and a wrapped decode error for an
	// undecodable one.
	Parse(body []byte) (*Result, error)
}

// APIError is a well-formed error payload reported by the backend itself.
type APIError struct {
	Provider string
	Type     string
	Code     string
	Message  string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
