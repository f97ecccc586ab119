package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine errors into a stable taxonomy.
type ErrorKind string

const (
	// ErrKindConfig marks missing or unusable configuration (e.g. no API key).
	ErrKindConfig ErrorKind = "config"
	// ErrKindNetwork marks connection or transport failures.
	ErrKindNetwork ErrorKind = "network"
	// ErrKindParse marks malformed or unexpectedly-shaped payloads.
	ErrKindParse ErrorKind = "parse"
	// ErrKindProvider marks a well-formed error payload from the backend.
	ErrKindProvider ErrorKind = "provider"
	// ErrKindTimeout marks a request whose deadline expired before completion.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindCanceled marks a request torn down by CancelAll.
	ErrKindCanceled ErrorKind = "canceled"
	// ErrKindTool marks a tool that threw or returned non-JSON. It is never
	// escalated to a session failure; it is fed back to the model as a
	// structured result.
	ErrKindTool ErrorKind = "tool"
	// ErrKindIterationLimit marks a tool-calling session that hit its
	// configured iteration cap. It is the only error owned by the session
	// rather than a single network call.
	ErrKindIterationLimit ErrorKind = "iteration_limit"
)

// Error is the engine's typed error container. Every error that reaches a
// caller carries a kind from the taxonomy and a human-readable message.
type Error struct {
	Kind     ErrorKind
	Provider string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports kind equality so callers can match with errors.Is against a
// bare-kind sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// NewError builds an engine error of the given kind.
func NewError(kind ErrorKind, provider, message string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Cause: cause}
}

// Sentinels for errors.Is matching.
var (
	ErrTimeout        = &Error{Kind: ErrKindTimeout, Message: "request timed out"}
	ErrCanceled       = &Error{Kind: ErrKindCanceled, Message: "request canceled"}
	ErrIterationLimit = &Error{Kind: ErrKindIterationLimit, Message: "tool iteration limit reached"}
)

// KindOf returns the taxonomy kind of err, or ErrKindNetwork for plain
// transport errors that never got classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindNetwork
}
