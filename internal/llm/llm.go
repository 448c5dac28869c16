// internal/llm/llm.go
//
// Remote text generation used by the insight resolver and the free-text
// judges. The rest of the server only sees Generator; the Gemini client is
// one implementation of it.

package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model answers without any text at
// candidates[0].content.parts[0].text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Generator turns a prompt into free text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
