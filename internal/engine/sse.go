package engine

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/codeloom-ai/codeloom/internal/provider"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

// doneSentinel terminates a chat-completions SSE stream.
const doneSentinel = "[DONE]"

// sseChunk is one decoded streaming payload.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string   `json:"finish_reason"`
		Error        *sseError `json:"error"`
	} `json:"choices"`
	Error *sseError `json:"error"`
}

type sseError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// toolCallAccum builds one tool call incrementally. Fragments for the same
// index append to name and arguments; they never overwrite.
type toolCallAccum struct {
	index int
	id    string
	name  strings.Builder
	args  strings.Builder
}

// sseParser incrementally decodes a chat-completions SSE byte stream. Partial
// network reads are carried over, so frames reassemble correctly no matter
// where the read boundary falls.
type sseParser struct {
	provider string
	onChunk  func(delta string)

	carry []byte
	text  strings.Builder
	calls []*toolCallAccum

	done bool
	err  error
}

func newSSEParser(providerID string, onChunk func(delta string)) *sseParser {
	return &sseParser{provider: providerID, onChunk: onChunk}
}

// Feed consumes the next network read. It processes every complete frame in
// the buffer and keeps the remainder for the next call. Once the parser is
// done (normal termination or terminal error), further bytes are ignored.
func (p *sseParser) Feed(data []byte) {
	if p.done {
		return
	}
	p.carry = append(p.carry, data...)

	for !p.done {
		frame, rest, ok := cutFrame(p.carry)
		if !ok {
			return
		}
		p.carry = rest
		p.handleFrame(frame)
	}
}

// cutFrame extracts one complete frame, delimited by a blank line.
func cutFrame(buf []byte) (frame, rest []byte, ok bool) {
	idx := bytes.Index(buf, []byte("\n\n"))
	sep := 2
	if crlf := bytes.Index(buf, []byte("\r\n\r\n")); crlf != -1 && (idx == -1 || crlf < idx) {
		idx, sep = crlf, 4
	}
	if idx == -1 {
		return nil, buf, false
	}
	return buf[:idx], buf[idx+sep:], true
}

func (p *sseParser) handleFrame(frame []byte) {
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := strings.TrimSpace(string(line[len("data:"):]))
		if payload == "" {
			continue
		}
		if payload == doneSentinel {
			p.done = true
			return
		}
		p.handlePayload(payload)
		if p.done {
			return
		}
	}
}

func (p *sseParser) handlePayload(payload string) {
	var chunk sseChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		p.fail(NewError(ErrKindParse, p.provider, "malformed stream payload", err))
		return
	}

	if chunk.Error != nil {
		p.fail(NewError(ErrKindProvider, p.provider, chunk.Error.Message, nil))
		return
	}

	for _, choice := range chunk.Choices {
		if choice.Error != nil {
			p.fail(NewError(ErrKindProvider, p.provider, choice.Error.Message, nil))
			return
		}

		if choice.Delta.Content != "" {
			p.text.WriteString(choice.Delta.Content)
			if p.onChunk != nil {
				p.onChunk(choice.Delta.Content)
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			acc := p.accumulator(tc.Index)
			if tc.ID != "" {
				acc.id = tc.ID
			}
			acc.name.WriteString(tc.Function.Name)
			acc.args.WriteString(tc.Function.Arguments)
		}
	}
}

// accumulator returns the tool-call accumulator for index, creating it on
// first sight.
func (p *sseParser) accumulator(index int) *toolCallAccum {
	for _, acc := range p.calls {
		if acc.index == index {
			return acc
		}
	}
	acc := &toolCallAccum{index: index}
	p.calls = append(p.calls, acc)
	return acc
}

func (p *sseParser) fail(err error) {
	p.err = err
	p.done = true
}

// Done reports whether the stream reached a terminal state.
func (p *sseParser) Done() bool { return p.done }

// Err returns the terminal error, if any.
func (p *sseParser) Err() error { return p.err }

// Result finalizes the accumulated text and tool calls.
func (p *sseParser) Result() *provider.Result {
	res := &provider.Result{Text: p.text.String()}
	for _, acc := range p.calls {
		res.ToolCalls = append(res.ToolCalls, types.ToolCall{
			Index:     acc.index,
			ID:        acc.id,
			Name:      acc.name.String(),
			Arguments: acc.args.String(),
		})
	}
	return res
}
