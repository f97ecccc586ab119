package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/codeloom-ai/codeloom/internal/engine"
	"github.com/codeloom-ai/codeloom/internal/event"
	"github.com/codeloom-ai/codeloom/internal/logging"
	"github.com/codeloom-ai/codeloom/internal/provider"
	"github.com/codeloom-ai/codeloom/internal/tool"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

// State is the session's position in the tool-calling machine.
type State string

const (
	StateAwaitingTurn   State = "awaiting_turn"
	StateStreamingModel State = "streaming_model"
	StateExecutingTools State = "executing_tools"
	StateFinished       State = "finished"
)

// Requester is the slice of the engine the session needs. *engine.Engine
// satisfies it.
type Requester interface {
	RequestStream(ctx context.Context, messages []types.Message, opts types.Options,
		onChunk engine.ChunkHandler, onComplete engine.CompleteHandler)
}

// FinishHandler receives the terminal outcome of one Send call, exactly once.
type FinishHandler func(text string, err error)

// ChatSession drives a multi-turn agentic exchange: it streams one model turn
// at a time, executes requested tools through the registry, folds results
// back into the conversation, and loops until the model stops requesting
// tools or the iteration cap is hit.
//
// The loop is an explicit state machine driven by a goroutine, not recursive
// callbacks, so each transition is independently observable and stack usage
// stays flat regardless of turn count.
type ChatSession struct {
	id            string
	engine        Requester
	tools         *tool.Registry
	opts          types.Options
	bus           *event.Bus
	maxIterations int

	mu         sync.Mutex
	state      State
	messages   []types.Message
	iterations int
}

// New creates a session. maxIterations is a required, explicit parameter;
// non-positive values are rejected rather than defaulted.
func New(eng Requester, tools *tool.Registry, opts types.Options, maxIterations int, bus *event.Bus) (*ChatSession, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if maxIterations <= 0 {
		return nil, fmt.Errorf("maxIterations must be positive, got %d", maxIterations)
	}
	if tools == nil {
		tools = tool.NewRegistry()
	}
	return &ChatSession{
		id:            ulid.Make().String(),
		engine:        eng,
		tools:         tools,
		opts:          opts,
		bus:           bus,
		maxIterations: maxIterations,
		state:         StateAwaitingTurn,
	}, nil
}

// ID returns the session identifier.
func (s *ChatSession) ID() string { return s.id }

// State returns the current machine state.
func (s *ChatSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Iterations returns the number of tool-executing turns completed so far.
func (s *ChatSession) Iterations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iterations
}

// Messages returns a copy of the conversation so far.
func (s *ChatSession) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// SetSystemPrompt seeds the conversation with a system message. It only takes
// effect before the first Send.
func (s *ChatSession) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 && prompt != "" {
		s.messages = append(s.messages, types.SystemMessage(prompt))
	}
}

// Send appends a user message and runs the agentic loop until the model
// produces a final answer, the iteration cap is hit, or a request fails.
// Content deltas stream to onChunk; onFinish fires exactly once.
func (s *ChatSession) Send(ctx context.Context, userText string, onChunk engine.ChunkHandler, onFinish FinishHandler) {
	s.mu.Lock()
	if s.state == StateStreamingModel || s.state == StateExecutingTools {
		s.mu.Unlock()
		onFinish("", fmt.Errorf("session busy: state %s", s.state))
		return
	}
	s.state = StateStreamingModel
	s.iterations = 0
	s.messages = append(s.messages, types.UserMessage(userText))
	s.mu.Unlock()

	go s.loop(ctx, onChunk, onFinish)
}

// loop runs one model turn per pass and transitions the machine explicitly.
func (s *ChatSession) loop(ctx context.Context, onChunk engine.ChunkHandler, onFinish FinishHandler) {
	for {
		result, err := s.streamTurn(ctx, onChunk)
		if err != nil {
			s.finish(onFinish, "", err)
			return
		}

		if len(result.ToolCalls) == 0 {
			s.mu.Lock()
			s.messages = append(s.messages, types.AssistantMessage(result.Text))
			s.mu.Unlock()
			s.finish(onFinish, result.Text, nil)
			return
		}

		s.setState(StateExecutingTools)

		calls := finalizeCalls(result.ToolCalls)
		s.mu.Lock()
		s.messages = append(s.messages, types.Message{
			Role:      types.RoleAssistant,
			Content:   result.Text,
			ToolCalls: calls,
		})
		s.mu.Unlock()

		for _, call := range calls {
			content := s.executeTool(ctx, call)
			s.mu.Lock()
			s.messages = append(s.messages, types.ToolMessage(call.ID, content))
			s.mu.Unlock()
		}

		s.mu.Lock()
		s.iterations++
		capped := s.iterations >= s.maxIterations
		s.mu.Unlock()

		if capped {
			s.finish(onFinish, "", engine.NewError(engine.ErrKindIterationLimit, "",
				fmt.Sprintf("tool iteration limit reached (%d)", s.maxIterations), nil))
			return
		}

		s.setState(StateAwaitingTurn)
		// Next turn starts immediately, no user input required.
		s.setState(StateStreamingModel)
	}
}

// streamTurn issues one streaming request with the full history and the
// registered tool definitions, blocking until the turn completes.
func (s *ChatSession) streamTurn(ctx context.Context, onChunk engine.ChunkHandler) (*provider.Result, error) {
	opts := s.opts
	opts.Tools = s.tools.Definitions()
	opts.Stream = true

	type turnResult struct {
		result *provider.Result
		err    error
	}
	done := make(chan turnResult, 1)

	s.engine.RequestStream(ctx, s.Messages(), opts, onChunk, func(result *provider.Result, err error) {
		done <- turnResult{result: result, err: err}
	})

	t := <-done
	return t.result, t.err
}

// executeTool runs one tool call and returns the JSON-encoded result content.
// Failures never abort the session: a parse failure, unknown tool, or tool
// error becomes a structured payload the model can react to next turn.
func (s *ChatSession) executeTool(ctx context.Context, call types.ToolCall) string {
	var input json.RawMessage
	if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
		return s.toolFailure(call, fmt.Sprintf("invalid tool arguments: %v", err))
	}

	t, ok := s.tools.Get(call.Name)
	if !ok {
		return s.toolFailure(call, fmt.Sprintf("unknown tool: %s", call.Name))
	}

	result, err := t.Execute(ctx, input)
	if err != nil {
		return s.toolFailure(call, err.Error())
	}

	content, err := json.Marshal(result)
	if err != nil {
		return s.toolFailure(call, fmt.Sprintf("tool returned unencodable result: %v", err))
	}

	logging.Debug().Str("session_id", s.id).Str("tool", call.Name).Msg("tool executed")
	s.publish(event.Event{Type: event.ToolExecuted, Data: event.ToolData{
		SessionID: s.id, ToolCallID: call.ID, Name: call.Name,
	}})
	return string(content)
}

func (s *ChatSession) toolFailure(call types.ToolCall, message string) string {
	logging.Warn().Str("session_id", s.id).Str("tool", call.Name).Str("error", message).Msg("tool failed")
	s.publish(event.Event{Type: event.ToolExecuted, Data: event.ToolData{
		SessionID: s.id, ToolCallID: call.ID, Name: call.Name, Error: message,
	}})
	payload, _ := json.Marshal(map[string]string{"error": message})
	return string(payload)
}

// finish is the single terminal transition for one Send call.
func (s *ChatSession) finish(onFinish FinishHandler, text string, err error) {
	s.mu.Lock()
	s.state = StateFinished
	iterations := s.iterations
	s.mu.Unlock()

	data := event.SessionData{SessionID: s.id, Iterations: iterations}
	if err != nil {
		data.Error = err.Error()
	}
	s.publish(event.Event{Type: event.SessionFinished, Data: data})

	onFinish(text, err)
}

func (s *ChatSession) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *ChatSession) publish(ev event.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

// finalizeCalls assigns IDs to tool calls that streamed without one so
// results can be correlated.
func finalizeCalls(calls []types.ToolCall) []types.ToolCall {
	out := make([]types.ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = "call_" + ulid.Make().String()
		}
		if out[i].Arguments == "" {
			out[i].Arguments = "{}"
		}
	}
	return out
}
