// Package provider implements the completion client used by the relay
// pipeline: a chat model behind a circuit breaker, with request coalescing.
package provider

import (
	"context"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
)

// Generator is the part of gollm.LLM the completion client needs.
// ChatModel implements it against the providers' chat endpoints; tests use
// mocks.MockLLM.
type Generator interface {
	Generate(ctx context.Context, prompt *gollm.Prompt, opts ...llm.GenerateOption) (string, error)
}
