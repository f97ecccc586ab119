package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/codeloom-ai/codeloom/internal/event"
	"github.com/codeloom-ai/codeloom/internal/provider"
)

// doOneShot performs a single blocking POST and decodes the full body.
func (e *Engine) doOneShot(ctx context.Context, adapter provider.Adapter, desc *provider.RequestDescriptor) (*provider.Result, error) {
	resp, err := e.post(ctx, desc, false)
	if err != nil {
		return nil, NewError(ErrKindNetwork, adapter.ID(), "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(ErrKindNetwork, adapter.ID(), "failed to read response", err)
	}

	result, parseErr := adapter.Parse(body)
	if parseErr != nil {
		return nil, e.classify(adapter.ID(), resp.StatusCode, parseErr)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewError(ErrKindNetwork, adapter.ID(), fmt.Sprintf("http %d", resp.StatusCode), nil)
	}
	return result, nil
}

// doStream performs one long-lived POST and incrementally decodes the
// response body as server-sent events. Chunks are forwarded the moment they
// decode; nothing is buffered for batching.
func (e *Engine) doStream(ctx context.Context, id string, entry *queueEntry, desc *provider.RequestDescriptor) (*provider.Result, error) {
	adapterID := entry.adapter.ID()

	resp, err := e.post(ctx, desc, true)
	if err != nil {
		return nil, NewError(ErrKindNetwork, adapterID, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if _, parseErr := entry.adapter.Parse(body); parseErr != nil {
			return nil, e.classify(adapterID, resp.StatusCode, parseErr)
		}
		return nil, NewError(ErrKindNetwork, adapterID, fmt.Sprintf("http %d", resp.StatusCode), nil)
	}

	parser := newSSEParser(adapterID, func(delta string) {
		// Callbacks racing a timeout or cancel-all observe inactive and stop.
		if !e.isActive(id) {
			return
		}
		if entry.onChunk != nil {
			entry.onChunk(delta)
		}
		e.publish(event.Event{Type: event.StreamDelta, Data: event.DeltaData{
			RequestID: id, Content: delta,
		}})
	})

	buf := make([]byte, 4096)
	for !parser.Done() {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			parser.Feed(buf[:n])
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			if !parser.Done() {
				return nil, NewError(ErrKindNetwork, adapterID, "stream read failed", readErr)
			}
			break
		}
	}

	if parseErr := parser.Err(); parseErr != nil {
		return nil, parseErr
	}
	return parser.Result(), nil
}

// post issues the HTTP exchange described by the adapter's descriptor.
func (e *Engine) post(ctx context.Context, desc *provider.RequestDescriptor, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, desc.URL, bytes.NewReader(desc.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range desc.Headers {
		req.Header.Set(k, v)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return e.client.Do(req)
}

// classify maps an adapter parse failure onto the error taxonomy: a
// well-formed provider error payload versus an undecodable body.
func (e *Engine) classify(providerID string, status int, err error) *Error {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return NewError(ErrKindProvider, providerID, apiErr.Message, apiErr)
	}
	if status != http.StatusOK {
		return NewError(ErrKindNetwork, providerID, fmt.Sprintf("http %d", status), err)
	}
	return NewError(ErrKindParse, providerID, "malformed response", err)
}
