package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors classifying provider failures. Callers test with
// errors.Is; the scheduler retries only transient classes.
var (
	// ErrAuth means the API key was rejected. Never retried.
	ErrAuth = errors.New("provider authentication failed")
	// ErrBadRequest means the request was malformed. Never retried.
	ErrBadRequest = errors.New("provider rejected request")
	// ErrRateLimited means the provider throttled the request.
	ErrRateLimited = errors.New("provider rate limit exceeded")
	// ErrUnavailable covers 5xx and transport-level failures.
	ErrUnavailable = errors.New("provider unavailable")
)

// ProviderError carries the provider name, HTTP status, and failure
// class of one failed call.
type ProviderError struct {
	Provider string
	Status   int
	Kind     error
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.Status, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// classifyStatus maps an HTTP status code to a failure class.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return ErrUnavailable
	default:
		return ErrBadRequest
	}
}

// GenerateOptions tunes a single generation call.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
}

// ActionDecl describes one action the model may request, in a wire
// format neutral shape. Each backend translates the JSON Schema into
// its own function-calling format.
type ActionDecl struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ActionCall is one action the model asked the system to execute.
type ActionCall struct {
	Name string
	Args map[string]any
}

// Reply is the outcome of an action-augmented generation: plain text,
// one or more action calls, or both.
type Reply struct {
	Text        string
	ActionCalls []ActionCall
}

// Provider is the uniform interface over interchangeable LLM backends.
// Implementations surface provider failures as *ProviderError rather
// than returning empty text.
type Provider interface {
	// Name identifies the backend for diagnostics.
	Name() string

	// Generate produces plain text for the given prompts.
	Generate(ctx context.Context, system, prompt string, opts GenerateOptions) (string, error)

	// GenerateWithActions additionally offers the declared actions to
	// the model and reports any calls it requested.
	GenerateWithActions(ctx context.Context, system, prompt string, opts GenerateOptions, actions []ActionDecl) (*Reply, error)

	// HealthCheck reports whether the backend is currently reachable
	// and authenticated.
	HealthCheck(ctx context.Context) bool
}
