// Package session implements the tool-calling conversation loop.
//
// A ChatSession wraps the engine's streaming entry point in a bounded state
// machine:
//
//	AWAITING_TURN -> STREAMING_MODEL -> {FINISHED | EXECUTING_TOOLS}
//	EXECUTING_TOOLS -> AWAITING_TURN (loop)
//
// Each Send call appends a user message and streams model turns until the
// model answers without requesting tools, a request fails, or the configured
// iteration cap is reached. Tool failures are folded back into the
// conversation as structured results rather than aborting the session, so the
// model can react to them. The iteration cap is the only error that belongs
// to the session itself rather than to a single network call.
package session
