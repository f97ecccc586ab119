package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeloom-ai/codeloom/internal/engine"
	"github.com/codeloom-ai/codeloom/internal/provider"
	"github.com/codeloom-ai/codeloom/internal/tool"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

// scriptedTurn is one model turn the fake requester plays back.
type scriptedTurn struct {
	chunks []string
	result *provider.Result
	err    error
}

// fakeRequester plays back scripted turns and records the messages each turn
// was asked with.
type fakeRequester struct {
	mu       sync.Mutex
	turns    []scriptedTurn
	seen     [][]types.Message
	optsSeen []types.Options
}

func (f *fakeRequester) RequestStream(ctx context.Context, messages []types.Message, opts types.Options,
	onChunk engine.ChunkHandler, onComplete engine.CompleteHandler) {
	f.mu.Lock()
	f.seen = append(f.seen, messages)
	f.optsSeen = append(f.optsSeen, opts)
	var turn scriptedTurn
	if len(f.turns) > 0 {
		turn = f.turns[0]
		f.turns = f.turns[1:]
	} else {
		turn = scriptedTurn{result: &provider.Result{Text: "done"}}
	}
	f.mu.Unlock()

	for _, c := range turn.chunks {
		if onChunk != nil {
			onChunk(c)
		}
	}
	onComplete(turn.result, turn.err)
}

// repeatingRequester always answers with the same tool call, never a final
// answer.
type repeatingRequester struct {
	mu    sync.Mutex
	turns int
}

func (f *repeatingRequester) RequestStream(ctx context.Context, messages []types.Message, opts types.Options,
	onChunk engine.ChunkHandler, onComplete engine.CompleteHandler) {
	f.mu.Lock()
	f.turns++
	f.mu.Unlock()
	onComplete(&provider.Result{
		ToolCalls: []types.ToolCall{{ID: "call_x", Name: "noop", Arguments: "{}"}},
	}, nil)
}

func (f *repeatingRequester) turnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.turns
}

func noopTool() tool.Tool {
	return tool.NewFuncTool("noop", "does nothing", json.RawMessage(`{"type":"object"}`),
		func(ctx context.Context, input json.RawMessage) (*tool.Result, error) {
			return &tool.Result{Output: "noop done"}, nil
		})
}

func waitFinish(t *testing.T, sess *ChatSession, ctx context.Context, text string) (string, error) {
	t.Helper()
	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	sess.Send(ctx, text, nil, func(finalText string, err error) {
		done <- outcome{text: finalText, err: err}
	})
	select {
	case o := <-done:
		return o.text, o.err
	case <-time.After(5 * time.Second):
		t.Fatal("session never finished")
		return "", nil
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil, types.Options{}, 5, nil)
	assert.Error(t, err)

	_, err = New(&fakeRequester{}, nil, types.Options{}, 0, nil)
	assert.Error(t, err)

	sess, err := New(&fakeRequester{}, nil, types.Options{}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingTurn, sess.State())
	assert.NotEmpty(t, sess.ID())
}

func TestSendFinalAnswerNoTools(t *testing.T) {
	req := &fakeRequester{turns: []scriptedTurn{
		{chunks: []string{"four", "!"}, result: &provider.Result{Text: "four!"}},
	}}
	sess, err := New(req, nil, types.Options{}, 5, nil)
	require.NoError(t, err)

	text, err := waitFinish(t, sess, context.Background(), "what is 2+2")
	require.NoError(t, err)
	assert.Equal(t, "four!", text)
	assert.Equal(t, StateFinished, sess.State())
	assert.Equal(t, 0, sess.Iterations())

	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "four!", msgs[1].Content)
}

func TestSendStreamsChunks(t *testing.T) {
	req := &fakeRequester{turns: []scriptedTurn{
		{chunks: []string{"Hel", "lo"}, result: &provider.Result{Text: "Hello"}},
	}}
	sess, err := New(req, nil, types.Options{}, 5, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var chunks []string
	done := make(chan struct{})
	sess.Send(context.Background(), "hi",
		func(delta string) {
			mu.Lock()
			chunks = append(chunks, delta)
			mu.Unlock()
		},
		func(text string, err error) { close(done) })
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
}

func TestToolCallLoop(t *testing.T) {
	req := &fakeRequester{turns: []scriptedTurn{
		{result: &provider.Result{
			Text:      "checking",
			ToolCalls: []types.ToolCall{{ID: "call_1", Name: "noop", Arguments: "{}"}},
		}},
		{result: &provider.Result{Text: "all done"}},
	}}

	tools := tool.NewRegistry()
	tools.Register(noopTool())

	sess, err := New(req, tools, types.Options{}, 5, nil)
	require.NoError(t, err)

	text, err := waitFinish(t, sess, context.Background(), "do the thing")
	require.NoError(t, err)
	assert.Equal(t, "all done", text)
	assert.Equal(t, 1, sess.Iterations())

	// user, assistant(tool_calls), tool result, assistant(final)
	msgs := sess.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, types.RoleUser, msgs[0].Role)

	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[1].ToolCalls[0].ID)

	assert.Equal(t, types.RoleTool, msgs[2].Role)
	assert.Equal(t, "call_1", msgs[2].ToolCallID)
	var result tool.Result
	require.NoError(t, json.Unmarshal([]byte(msgs[2].Content), &result))
	assert.Equal(t, "noop done", result.Output)

	assert.Equal(t, types.RoleAssistant, msgs[3].Role)

	// The second turn must have seen the tool result.
	require.Len(t, req.seen, 2)
	assert.Len(t, req.seen[1], 3)
}

func TestToolDefinitionsSentEachTurn(t *testing.T) {
	req := &fakeRequester{turns: []scriptedTurn{
		{result: &provider.Result{Text: "hi"}},
	}}

	tools := tool.NewRegistry()
	tools.Register(noopTool())

	sess, err := New(req, tools, types.Options{}, 5, nil)
	require.NoError(t, err)
	_, err = waitFinish(t, sess, context.Background(), "hello")
	require.NoError(t, err)

	require.Len(t, req.optsSeen, 1)
	opts := req.optsSeen[0]
	assert.True(t, opts.Stream)
	require.Len(t, opts.Tools, 1)
	assert.Equal(t, "noop", opts.Tools[0].Name)
}

func TestUnknownToolFedBackAsError(t *testing.T) {
	req := &fakeRequester{turns: []scriptedTurn{
		{result: &provider.Result{
			ToolCalls: []types.ToolCall{{ID: "call_1", Name: "no_such_tool", Arguments: "{}"}},
		}},
		{result: &provider.Result{Text: "recovered"}},
	}}

	sess, err := New(req, tool.NewRegistry(), types.Options{}, 5, nil)
	require.NoError(t, err)

	text, err := waitFinish(t, sess, context.Background(), "go")
	require.NoError(t, err, "a failing tool must not abort the session")
	assert.Equal(t, "recovered", text)

	msgs := sess.Messages()
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(msgs[2].Content), &payload))
	assert.Contains(t, payload["error"], "unknown tool")
}

func TestInvalidToolArgumentsFedBackAsError(t *testing.T) {
	req := &fakeRequester{turns: []scriptedTurn{
		{result: &provider.Result{
			ToolCalls: []types.ToolCall{{ID: "call_1", Name: "noop", Arguments: "{broken"}},
		}},
		{result: &provider.Result{Text: "recovered"}},
	}}

	tools := tool.NewRegistry()
	tools.Register(noopTool())

	sess, err := New(req, tools, types.Options{}, 5, nil)
	require.NoError(t, err)

	_, err = waitFinish(t, sess, context.Background(), "go")
	require.NoError(t, err)

	msgs := sess.Messages()
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(msgs[2].Content), &payload))
	assert.Contains(t, payload["error"], "invalid tool arguments")
}

func TestToolExecuteErrorFedBack(t *testing.T) {
	failing := tool.NewFuncTool("boom", "always fails", json.RawMessage(`{"type":"object"}`),
		func(ctx context.Context, input json.RawMessage) (*tool.Result, error) {
			return nil, errors.New("disk on fire")
		})

	req := &fakeRequester{turns: []scriptedTurn{
		{result: &provider.Result{
			ToolCalls: []types.ToolCall{{ID: "call_1", Name: "boom", Arguments: "{}"}},
		}},
		{result: &provider.Result{Text: "noted"}},
	}}

	tools := tool.NewRegistry()
	tools.Register(failing)

	sess, err := New(req, tools, types.Options{}, 5, nil)
	require.NoError(t, err)

	text, err := waitFinish(t, sess, context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "noted", text)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(sess.Messages()[2].Content), &payload))
	assert.Equal(t, "disk on fire", payload["error"])
}

func TestIterationLimit(t *testing.T) {
	req := &repeatingRequester{}
	tools := tool.NewRegistry()
	tools.Register(noopTool())

	const limit = 3
	sess, err := New(req, tools, types.Options{}, limit, nil)
	require.NoError(t, err)

	var finishes int
	type outcome struct {
		err error
	}
	done := make(chan outcome, 2)
	sess.Send(context.Background(), "loop forever", nil, func(text string, err error) {
		finishes++
		done <- outcome{err: err}
	})

	o := <-done
	require.Error(t, o.err)
	assert.True(t, errors.Is(o.err, engine.ErrIterationLimit), "got %v", o.err)
	assert.Equal(t, limit, sess.Iterations())
	assert.Equal(t, limit, req.turnCount(), "exactly maxIterations model turns")
	assert.Equal(t, StateFinished, sess.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, finishes, "onFinish fires exactly once")
}

func TestRequestErrorFinishesOnce(t *testing.T) {
	req := &fakeRequester{turns: []scriptedTurn{
		{err: engine.NewError(engine.ErrKindTimeout, "openai", "request timed out", nil)},
	}}
	sess, err := New(req, nil, types.Options{}, 5, nil)
	require.NoError(t, err)

	_, err = waitFinish(t, sess, context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrTimeout))
	assert.Equal(t, StateFinished, sess.State())
}

func TestBusySessionRejectsConcurrentSend(t *testing.T) {
	block := make(chan struct{})
	req := &blockingRequester{block: block}

	sess, err := New(req, nil, types.Options{}, 5, nil)
	require.NoError(t, err)

	first := make(chan error, 1)
	sess.Send(context.Background(), "one", nil, func(text string, err error) { first <- err })

	// The session is mid-turn; a second Send must be rejected immediately.
	var busyErr error
	sess.Send(context.Background(), "two", nil, func(text string, err error) { busyErr = err })
	require.Error(t, busyErr)
	assert.Contains(t, busyErr.Error(), "session busy")

	close(block)
	assert.NoError(t, <-first)
}

// blockingRequester holds the turn open until released.
type blockingRequester struct {
	block chan struct{}
}

func (f *blockingRequester) RequestStream(ctx context.Context, messages []types.Message, opts types.Options,
	onChunk engine.ChunkHandler, onComplete engine.CompleteHandler) {
	go func() {
		<-f.block
		onComplete(&provider.Result{Text: "released"}, nil)
	}()
}

func TestSystemPromptOnlyBeforeFirstSend(t *testing.T) {
	req := &fakeRequester{turns: []scriptedTurn{
		{result: &provider.Result{Text: "ok"}},
	}}
	sess, err := New(req, nil, types.Options{}, 5, nil)
	require.NoError(t, err)

	sess.SetSystemPrompt("be terse")
	_, err = waitFinish(t, sess, context.Background(), "hi")
	require.NoError(t, err)

	msgs := sess.Messages()
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Equal(t, "be terse", msgs[0].Content)

	// Too late now.
	sess.SetSystemPrompt("be verbose")
	count := 0
	for _, m := range sess.Messages() {
		if m.Role == types.RoleSystem {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestToolCallsWithoutIDsGetAssigned(t *testing.T) {
	req := &fakeRequester{turns: []scriptedTurn{
		{result: &provider.Result{
			ToolCalls: []types.ToolCall{{Name: "noop", Arguments: ""}},
		}},
		{result: &provider.Result{Text: "done"}},
	}}

	tools := tool.NewRegistry()
	tools.Register(noopTool())

	sess, err := New(req, tools, types.Options{}, 5, nil)
	require.NoError(t, err)

	_, err = waitFinish(t, sess, context.Background(), "go")
	require.NoError(t, err)

	msgs := sess.Messages()
	require.Len(t, msgs[1].ToolCalls, 1)
	call := msgs[1].ToolCalls[0]
	assert.NotEmpty(t, call.ID, "streamed call without an id gets one assigned")
	assert.Equal(t, "{}", call.Arguments, "empty arguments default to an empty object")
	assert.Equal(t, call.ID, msgs[2].ToolCallID, "tool result correlates to the assigned id")
}

func TestMultipleToolCallsExecuteInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) tool.Tool {
		return tool.NewFuncTool(name, name, json.RawMessage(`{"type":"object"}`),
			func(ctx context.Context, input json.RawMessage) (*tool.Result, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return &tool.Result{Output: name}, nil
			})
	}

	req := &fakeRequester{turns: []scriptedTurn{
		{result: &provider.Result{
			ToolCalls: []types.ToolCall{
				{ID: "call_a", Name: "first", Arguments: "{}"},
				{ID: "call_b", Name: "second", Arguments: "{}"},
			},
		}},
		{result: &provider.Result{Text: fmt.Sprintf("ran %d tools", 2)}},
	}}

	tools := tool.NewRegistry()
	tools.Register(record("first"))
	tools.Register(record("second"))

	sess, err := New(req, tools, types.Options{}, 5, nil)
	require.NoError(t, err)

	_, err = waitFinish(t, sess, context.Background(), "go")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}
