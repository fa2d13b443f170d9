package chat

import "fmt"

// The turn-terminating error taxonomy. Tool execution failures are absent on
// purpose: they are absorbed into the stream as tool_error events and never
// terminate a turn.

// ValidationError rejects bad input before any work is done.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AuthenticationError reports a missing or invalid session. Never retried
// automatically.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string { return e.Message }

// RateLimitError tells the client to back off before retrying.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string { return e.Message }

// ConfigurationError is a server-side fault (missing role config, missing
// prompt). The wrapped cause is logged server-side; Error returns a generic
// message so internal paths never reach the client.
type ConfigurationError struct {
	Cause error
}

func (e *ConfigurationError) Error() string { return "service temporarily unavailable" }

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// UpstreamStreamError reports a failed or dropped LLM stream. The turn is
// abandoned; the conversation keeps only messages completed before the
// failure.
type UpstreamStreamError struct {
	Cause error
}

func (e *UpstreamStreamError) Error() string {
	return fmt.Sprintf("upstream stream failed: %v", e.Cause)
}

func (e *UpstreamStreamError) Unwrap() error { return e.Cause }
