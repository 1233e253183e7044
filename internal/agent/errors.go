package agent

import "errors"

// Common sentinel errors for agent operations
var (
	// ErrToolLoopExceeded indicates the tool-call loop hit its round limit.
	// The request fails with no partial answer.
	ErrToolLoopExceeded = errors.New("tool call loop exceeded maximum rounds")

	// ErrTierNotConfigured indicates the selected model tier has no backend.
	// This is a configuration error: tier selection never silently falls
	// back to a cheaper tier.
	ErrTierNotConfigured = errors.New("model tier is not configured")

	// ErrNoProvider indicates no LLM provider is configured at all.
	ErrNoProvider = errors.New("no provider configured")

	// ErrEmptyMessage indicates the request carried no user message.
	ErrEmptyMessage = errors.New("user message must not be empty")
)
