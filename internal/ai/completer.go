package ai

import (
	"context"
	"errors"
)

var (
	// ErrRateLimited is a transient upstream rejection (HTTP 429).
	ErrRateLimited = errors.New("ai: upstream rate limited")
	// ErrQuotaExhausted means the upstream quota is spent; retrying will not help.
	ErrQuotaExhausted = errors.New("ai: upstream quota exhausted")
	// ErrEmptyResponse means the upstream answered without any text.
	ErrEmptyResponse = errors.New("ai: empty response")
	// ErrUpstream wraps any other upstream failure.
	ErrUpstream = errors.New("ai: upstream failure")
)

// Attachment is binary content sent alongside the prompt text.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// GenerationOptions tunes sampling for a single request. Zero values use upstream defaults.
type GenerationOptions struct {
	Temperature     float64
	TopK            int
	TopP            float64
	MaxOutputTokens int
	JSONResponse    bool
}

// Prompt is a single-turn completion request.
type Prompt struct {
	Text       string
	Attachment *Attachment
	Options    GenerationOptions
}

// Completer produces a text completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt Prompt) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}
