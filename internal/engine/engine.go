package engine

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/codeloom-ai/codeloom/internal/event"
	"github.com/codeloom-ai/codeloom/internal/logging"
	"github.com/codeloom-ai/codeloom/internal/provider"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

// Callback receives the result of a one-shot request.
type Callback func(text string, err error)

// ChunkHandler receives incremental content deltas during streaming.
type ChunkHandler func(delta string)

// CompleteHandler receives the terminal result of a streaming request.
type CompleteHandler func(result *provider.Result, err error)

// queueEntry is a request waiting for in-flight capacity. Entries are
// consumed strictly FIFO.
type queueEntry struct {
	// ctx is the submitter's context, held until dispatch.
	ctx context.Context

	adapter  provider.Adapter
	messages []types.Message
	opts     types.Options

	// stream marks requestStream entries; their results bypass the cache.
	stream   bool
	cacheKey string

	onChunk  ChunkHandler
	complete CompleteHandler
}

// requestState tracks one in-flight request. active flips true to false
// exactly once, by whichever of network completion, timeout, or cancel-all
// fires first; the losers observe inactive and become no-ops.
type requestState struct {
	id     string
	entry  *queueEntry
	active bool
	cancel context.CancelFunc
	timer  *time.Timer
}

// Engine dispatches requests to provider backends. It bounds the number of
// in-flight requests, queues excess FIFO, memoizes one-shot responses, and
// owns per-request timeouts. All mutable state lives on the instance so
// independent engines can coexist (one per process or per test).
type Engine struct {
	registry *provider.Registry
	client   *http.Client
	cache    *responseCache
	bus      *event.Bus
	cfg      types.EngineConfig

	mu       sync.Mutex
	inflight map[string]*requestState
	queue    []*queueEntry
}

// New creates an engine over the given provider registry. bus may be nil.
func New(registry *provider.Registry, cfg types.EngineConfig, bus *event.Bus) *Engine {
	defaults := types.DefaultEngineConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = defaults.RequestTimeoutSeconds
	}
	if cfg.CacheTTLSeconds < 0 {
		cfg.CacheTTLSeconds = 0
	}

	return &Engine{
		registry: registry,
		client:   &http.Client{},
		cache:    newResponseCache(cfg.CacheTTL()),
		bus:      bus,
		cfg:      cfg,
		inflight: make(map[string]*requestState),
	}
}

// Request issues a one-shot request. The callback fires exactly once: from
// the cache with no network access on a TTL hit, otherwise when the request
// completes, times out, or is canceled. It never blocks the caller on
// capacity; excess requests queue FIFO.
func (e *Engine) Request(ctx context.Context, messages []types.Message, opts types.Options, cb Callback) {
	adapter, err := e.adapterFor(opts)
	if err != nil {
		cb("", NewError(ErrKindConfig, opts.Provider, "no usable provider", err))
		return
	}

	key := cacheKey(adapter.ID(), messages, opts)
	if text, ok := e.cache.get(key); ok {
		logging.Debug().Str("provider", adapter.ID()).Msg("cache hit")
		e.publish(event.Event{Type: event.RequestCompleted, Data: event.RequestData{
			Provider: adapter.ID(), Model: opts.Model, Cached: true,
		}})
		cb(text, nil)
		return
	}

	entry := &queueEntry{
		ctx:      ctx,
		adapter:  adapter,
		messages: messages,
		opts:     opts,
		cacheKey: key,
		complete: func(result *provider.Result, err error) {
			if err != nil {
				cb("", err)
				return
			}
			e.cache.put(key, result.Text)
			cb(result.Text, nil)
		},
	}
	e.admit(entry)
}

// RequestStream issues a streaming request. Content deltas are forwarded to
// onChunk as they arrive; onComplete fires exactly once with the accumulated
// result or a terminal error. Streaming results are never cached. Adapters
// without streaming support fall back to one-shot: the full result arrives as
// a single chunk followed by completion.
func (e *Engine) RequestStream(ctx context.Context, messages []types.Message, opts types.Options, onChunk ChunkHandler, onComplete CompleteHandler) {
	adapter, err := e.adapterFor(opts)
	if err != nil {
		onComplete(nil, NewError(ErrKindConfig, opts.Provider, "no usable provider", err))
		return
	}

	entry := &queueEntry{
		ctx:      ctx,
		adapter:  adapter,
		messages: messages,
		opts:     opts,
		stream:   true,
		onChunk:  onChunk,
		complete: onComplete,
	}
	e.admit(entry)
}

// CancelAll terminates every active transport and discards the queue. Every
// outstanding callback fires at most once with a cancellation error.
func (e *Engine) CancelAll() {
	e.mu.Lock()
	var canceled []*queueEntry
	for id, state := range e.inflight {
		if !state.active {
			continue
		}
		state.active = false
		state.timer.Stop()
		state.cancel()
		canceled = append(canceled, state.entry)
		delete(e.inflight, id)
	}
	queued := e.queue
	e.queue = nil
	e.mu.Unlock()

	logging.Info().
		Int("inflight", len(canceled)).
		Int("queued", len(queued)).
		Msg("cancel all requests")

	for _, entry := range append(canceled, queued...) {
		e.publish(event.Event{Type: event.RequestCanceled, Data: event.RequestData{
			Provider: entry.adapter.ID(), Model: entry.opts.Model, Stream: entry.stream,
		}})
		entry.complete(nil, NewError(ErrKindCanceled, entry.adapter.ID(), "request canceled", nil))
	}
}

// InFlight returns the number of dispatched, uncompleted requests.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

// QueueLen returns the number of requests waiting for capacity.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// PurgeCache drops all cached responses.
func (e *Engine) PurgeCache() { e.cache.purge() }

// adapterFor resolves the adapter for a request, falling back to the
// registry's default provider when none is named.
func (e *Engine) adapterFor(opts types.Options) (provider.Adapter, error) {
	providerID := opts.Provider
	if providerID == "" {
		model, err := e.registry.DefaultModel()
		if err != nil {
			return nil, err
		}
		providerID = model.ProviderID
	}
	return e.registry.Get(providerID)
}

// admit dispatches the entry if capacity allows, otherwise queues it. A full
// queue is a soft condition: the request waits, it is never rejected.
func (e *Engine) admit(entry *queueEntry) {
	e.mu.Lock()
	if len(e.inflight) < e.cfg.MaxConcurrent {
		id := e.dispatchLocked(entry)
		e.mu.Unlock()
		e.publishStarted(id, entry)
		return
	}
	e.queue = append(e.queue, entry)
	queueLen := len(e.queue)
	e.mu.Unlock()

	logging.Debug().
		Str("provider", entry.adapter.ID()).
		Int("queue_len", queueLen).
		Msg("request queued")
	e.publish(event.Event{Type: event.RequestQueued, Data: event.RequestData{
		Provider: entry.adapter.ID(), Model: entry.opts.Model, Stream: entry.stream, QueueLen: queueLen,
	}})
}

// dispatchLocked starts the entry's transport. Caller holds e.mu.
func (e *Engine) dispatchLocked(entry *queueEntry) string {
	id := ulid.Make().String()

	ctx := entry.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	reqCtx, cancel := context.WithCancel(ctx)

	state := &requestState{
		id:     id,
		entry:  entry,
		active: true,
		cancel: cancel,
	}
	state.timer = time.AfterFunc(e.cfg.RequestTimeout(), func() { e.expire(id) })
	e.inflight[id] = state

	go e.run(reqCtx, id, entry)
	return id
}

// run performs the network exchange for one dispatched request.
func (e *Engine) run(ctx context.Context, id string, entry *queueEntry) {
	streaming := entry.stream && entry.adapter.SupportsStreaming()

	opts := entry.opts
	opts.Stream = streaming

	desc, err := entry.adapter.Prepare(&provider.Request{Messages: entry.messages, Options: opts})
	if err != nil {
		e.settle(id, nil, NewError(ErrKindConfig, entry.adapter.ID(), "failed to build request", err))
		return
	}

	var result *provider.Result
	if streaming {
		result, err = e.doStream(ctx, id, entry, desc)
	} else {
		result, err = e.doOneShot(ctx, entry.adapter, desc)
	}
	e.settle(id, result, err)
}

// settle consumes the request's active flag. Whichever of network completion,
// timeout, or cancel-all gets here first delivers the callback; later
// arrivals are no-ops.
func (e *Engine) settle(id string, result *provider.Result, err error) {
	entry, won := e.finish(id)
	if !won {
		return
	}

	if err != nil {
		logging.Error().Err(err).Str("request_id", id).Str("provider", entry.adapter.ID()).Msg("request failed")
		e.publish(event.Event{Type: event.RequestFailed, Data: event.RequestData{
			RequestID: id, Provider: entry.adapter.ID(), Model: entry.opts.Model, Error: err.Error(),
		}})
		entry.complete(nil, err)
		return
	}

	logging.Debug().Str("request_id", id).Str("provider", entry.adapter.ID()).Msg("request completed")
	e.publish(event.Event{Type: event.RequestCompleted, Data: event.RequestData{
		RequestID: id, Provider: entry.adapter.ID(), Model: entry.opts.Model, Stream: entry.stream,
	}})

	// One-shot fallback for streaming callers: the whole text arrives as a
	// single chunk before completion.
	if entry.stream && !entry.adapter.SupportsStreaming() && entry.onChunk != nil && result.Text != "" {
		entry.onChunk(result.Text)
	}
	entry.complete(result, nil)
}

// expire fires when a request's deadline elapses before network completion.
func (e *Engine) expire(id string) {
	entry, won := e.finish(id)
	if !won {
		return
	}

	logging.Warn().Str("request_id", id).Str("provider", entry.adapter.ID()).Msg("request timed out")
	err := NewError(ErrKindTimeout, entry.adapter.ID(), "request timed out", nil)
	e.publish(event.Event{Type: event.RequestFailed, Data: event.RequestData{
		RequestID: id, Provider: entry.adapter.ID(), Model: entry.opts.Model, Error: err.Error(),
	}})
	entry.complete(nil, err)
}

// finish flips the request inactive and frees its capacity. Completion of any
// in-flight request is the only path that starts queued entries, preserving
// FIFO fairness.
func (e *Engine) finish(id string) (*queueEntry, bool) {
	e.mu.Lock()
	state, ok := e.inflight[id]
	if !ok || !state.active {
		e.mu.Unlock()
		return nil, false
	}
	state.active = false
	state.timer.Stop()
	state.cancel()
	delete(e.inflight, id)

	type started struct {
		id    string
		entry *queueEntry
	}
	var dispatched []started
	for len(e.queue) > 0 && len(e.inflight) < e.cfg.MaxConcurrent {
		next := e.queue[0]
		e.queue = e.queue[1:]
		dispatched = append(dispatched, started{id: e.dispatchLocked(next), entry: next})
	}
	e.mu.Unlock()

	for _, d := range dispatched {
		e.publishStarted(d.id, d.entry)
	}
	return state.entry, true
}

// isActive reports whether the request still owns its callback.
func (e *Engine) isActive(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.inflight[id]
	return ok && state.active
}

func (e *Engine) publishStarted(id string, entry *queueEntry) {
	logging.Debug().
		Str("request_id", id).
		Str("provider", entry.adapter.ID()).
		Bool("stream", entry.stream).
		Msg("request dispatched")
	e.publish(event.Event{Type: event.RequestStarted, Data: event.RequestData{
		RequestID: id, Provider: entry.adapter.ID(), Model: entry.opts.Model, Stream: entry.stream,
	}})
}

func (e *Engine) publish(ev event.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
