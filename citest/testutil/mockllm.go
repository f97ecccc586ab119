// Package testutil provides shared helpers for the integration suites.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockLLMServer mimics an OpenAI-compatible chat-completions backend. It
// answers a small set of canned prompts, requests tool calls when the prompt
// asks for something a registered tool covers, and produces a final answer
// once a tool result appears in the conversation.
type MockLLMServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []MockRequest
	delay    time.Duration
}

// MockRequest records one incoming request for verification.
type MockRequest struct {
	Timestamp time.Time
	Path      string
	Stream    bool
	Body      map[string]interface{}
}

// NewMockLLMServer starts the mock backend.
func NewMockLLMServer() *MockLLMServer {
	m := &MockLLMServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the mock server's base URL.
func (m *MockLLMServer) URL() string { return m.server.URL }

// Close shuts the mock server down.
func (m *MockLLMServer) Close() { m.server.Close() }

// SetDelay makes every subsequent request block for d before responding, for
// concurrency and timeout tests.
func (m *MockLLMServer) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Requests returns a copy of all recorded requests.
func (m *MockLLMServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns the number of requests that reached the backend.
func (m *MockLLMServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockLLMServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req map[string]interface{}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	stream, _ := req["stream"].(bool)

	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{
		Timestamp: time.Now(),
		Path:      r.URL.Path,
		Stream:    stream,
		Body:      req,
	})
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	response := m.generateResponse(req)
	if stream {
		m.writeStreamingResponse(w, response)
	} else {
		m.writeResponse(w, response)
	}
}

type mockResponse struct {
	content   string
	toolCalls []mockToolCall
}

type mockToolCall struct {
	id        string
	name      string
	arguments string
}

// generateResponse decides the model's next turn from the conversation shape.
func (m *MockLLMServer) generateResponse(req map[string]interface{}) *mockResponse {
	messages, _ := req["messages"].([]interface{})

	// A tool result in the tail means the tool loop already ran: answer.
	if lastRole(messages) == "tool" {
		return &mockResponse{content: "The weather in NYC is sunny."}
	}

	prompt := strings.ToLower(lastUserContent(messages))
	tools := toolNames(req)

	if containsTool(tools, "get_weather") && strings.Contains(prompt, "weather") {
		return &mockResponse{
			content: "Let me check the weather.",
			toolCalls: []mockToolCall{{
				id:        "call_weather_001",
				name:      "get_weather",
				arguments: `{"city":"NYC"}`,
			}},
		}
	}

	switch {
	case strings.Contains(prompt, "2+2") || strings.Contains(prompt, "2 + 2"):
		return &mockResponse{content: "4"}
	case strings.Contains(prompt, "hello"):
		return &mockResponse{content: "Hello! How can I help you today?"}
	default:
		return &mockResponse{content: "I understand your request."}
	}
}

func lastRole(messages []interface{}) string {
	if len(messages) == 0 {
		return ""
	}
	msg, ok := messages[len(messages)-1].(map[string]interface{})
	if !ok {
		return ""
	}
	role, _ := msg["role"].(string)
	return role
}

func lastUserContent(messages []interface{}) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]interface{})
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role == "user" {
			content, _ := msg["content"].(string)
			return content
		}
	}
	return ""
}

func toolNames(req map[string]interface{}) []string {
	var names []string
	tools, _ := req["tools"].([]interface{})
	for _, t := range tools {
		entry, ok := t.(map[string]interface{})
		if !ok {
			continue
		}
		fn, ok := entry["function"].(map[string]interface{})
		if !ok {
			continue
		}
		if name, ok := fn["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names
}

func containsTool(tools []string, name string) bool {
	for _, t := range tools {
		if t == name {
			return true
		}
	}
	return false
}

// writeResponse writes a complete chat-completions body.
func (m *MockLLMServer) writeResponse(w http.ResponseWriter, resp *mockResponse) {
	message := map[string]interface{}{
		"role":    "assistant",
		"content": resp.content,
	}
	finishReason := "stop"

	if len(resp.toolCalls) > 0 {
		finishReason = "tool_calls"
		calls := make([]map[string]interface{}, len(resp.toolCalls))
		for i, tc := range resp.toolCalls {
			calls[i] = map[string]interface{}{
				"id":   tc.id,
				"type": "function",
				"function": map[string]interface{}{
					"name":      tc.name,
					"arguments": tc.arguments,
				},
			}
		}
		message["tool_calls"] = calls
	}

	response := map[string]interface{}{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "mock-model",
		"choices": []map[string]interface{}{
			{"index": 0, "message": message, "finish_reason": finishReason},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// writeStreamingResponse writes the response as SSE. Content streams word by
// word; tool-call arguments stream in fragments so clients must reassemble
// them by index.
func (m *MockLLMServer) writeStreamingResponse(w http.ResponseWriter, resp *mockResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	writeFrame := func(payload map[string]interface{}) {
		data, _ := json.Marshal(payload)
		w.Write([]byte("data: " + string(data) + "\n\n"))
		flusher.Flush()
	}
	deltaFrame := func(delta map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   "mock-model",
			"choices": []map[string]interface{}{
				{"index": 0, "delta": delta},
			},
		}
	}

	words := strings.Fields(resp.content)
	for i, word := range words {
		content := word
		if i < len(words)-1 {
			content += " "
		}
		writeFrame(deltaFrame(map[string]interface{}{"content": content}))
	}

	for index, tc := range resp.toolCalls {
		// First fragment carries id and name, the rest carry argument pieces.
		writeFrame(deltaFrame(map[string]interface{}{
			"tool_calls": []map[string]interface{}{{
				"index":    index,
				"id":       tc.id,
				"function": map[string]interface{}{"name": tc.name, "arguments": ""},
			}},
		}))
		half := len(tc.arguments) / 2
		for _, piece := range []string{tc.arguments[:half], tc.arguments[half:]} {
			if piece == "" {
				continue
			}
			writeFrame(deltaFrame(map[string]interface{}{
				"tool_calls": []map[string]interface{}{{
					"index":    index,
					"function": map[string]interface{}{"arguments": piece},
				}},
			}))
		}
	}

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}
