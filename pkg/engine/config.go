package engine

import (
	"time"

	"github.com/maia-bench/maia/pkg/conversation"
	"github.com/maia-bench/maia/pkg/provider"
	"github.com/maia-bench/maia/pkg/retry"
)

// DefaultSystemPrompt opens every conversation unless Config overrides it.
const DefaultSystemPrompt = "You are an assistant."

// DefaultFallbackText is returned when the model cannot be reached after
// all attempts.
const DefaultFallbackText = "I could not produce an answer because the inference service is unavailable."

// Config holds configuration for the orchestrator.
type Config struct {
	// Model is sent with every request.
	Model string

	// SystemPrompt is the system turn. Empty uses DefaultSystemPrompt; set
	// NoSystemPrompt to start with the user turn instead.
	SystemPrompt   string
	NoSystemPrompt bool

	// Examples are few-shot exchanges inserted before the user turn.
	Examples []conversation.Example

	// Sampling parameters, nil means the backend default.
	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	// ToolChoice is forwarded when capabilities are advertised; defaults to "auto".
	ToolChoice string

	// ResponseFormat enables structured output. When Schema is set the
	// final text is validated locally whatever the Type; invalid output
	// counts as a failed model attempt.
	ResponseFormat *provider.ResponseFormat

	// ModelPolicy wraps every inference call.
	ModelPolicy retry.Policy

	// CapabilityPolicy wraps every capability invocation.
	CapabilityPolicy retry.Policy

	// MaxTurns caps the number of model calls in one run. Zero means no
	// limit; exceeding a positive cap aborts the run with ErrTurnLimit.
	MaxTurns int

	// FallbackText is the final text of a run whose model call exhausted
	// its attempts. Empty uses DefaultFallbackText.
	FallbackText string
}

// DefaultConfig returns the orchestrator defaults: three model attempts with
// a 2s linear backoff, a single capability attempt, and no turn limit.
func DefaultConfig(model string) Config {
	return Config{
		Model:      model,
		ToolChoice: "auto",
		ModelPolicy: retry.Policy{
			Name:        "model",
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			Timeout:     60 * time.Second,
		},
		CapabilityPolicy: retry.Policy{
			Name:        "capability",
			MaxAttempts: 1,
		},
	}
}

func (c Config) systemPrompt() string {
	if c.NoSystemPrompt {
		return ""
	}
	if c.SystemPrompt == "" {
		return DefaultSystemPrompt
	}
	return c.SystemPrompt
}

func (c Config) fallbackText() string {
	if c.FallbackText == "" {
		return DefaultFallbackText
	}
	return c.FallbackText
}

func (c Config) toolChoice() string {
	if c.ToolChoice == "" {
		return "auto"
	}
	return c.ToolChoice
}

func (c Config) modelPolicy() retry.Policy {
	p := c.ModelPolicy
	if p.Name == "" {
		p.Name = "model"
	}
	return p
}

func (c Config) capabilityPolicy() retry.Policy {
	p := c.CapabilityPolicy
	if p.Name == "" {
		p.Name = "capability"
	}
	return p
}
