package tools

import "errors"

var (
	// ErrToolAlreadyRegistered is returned when a tool name collides.
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	// ErrToolNotFound is returned by Invoke for an unknown tool name.
	ErrToolNotFound = errors.New("tool not found")

	// ErrNoInvocationContext is returned when a tool is invoked outside
	// a stage's ambient invocation context.
	ErrNoInvocationContext = errors.New("no invocation context: tool called outside a pipeline stage")

	// ErrNoResult is returned when a tool executes but produces no
	// usable output.
	ErrNoResult = errors.New("tool returned no result")
)
