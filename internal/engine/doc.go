// Package engine dispatches requests to LLM provider backends.
//
// The Engine bounds how many requests are in flight at once, queues excess
// requests FIFO, memoizes one-shot responses in a TTL cache, and owns
// per-request timeouts. Streaming requests decode the chat-completions SSE
// wire format incrementally; adapters that do not stream fall back to a
// one-shot call delivered as a single chunk.
//
// There is no retry or backoff anywhere in the engine: a failed request is
// terminal for its caller, and a queued request is naturally attempted once
// when capacity frees. This is intentional.
package engine
