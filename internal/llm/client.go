// Package llm provides the generation backend used for intent resolution
// and response synthesis. Providers implement Client; callers treat any
// failure as a signal to fall back to deterministic paths, so errors are
// classified (timeout, quota, malformed) rather than opaque.
package llm

import (
	"context"
	"strings"
)

// Client is the capability contract for a generation backend.
type Client interface {
	// Complete sends a bare prompt and returns the completion.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a prompt with a system message.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// wantsJSON checks whether the prompt asks for JSON output. Providers that
// support a native JSON mode enable it when this is true, which measurably
// reduces fenced or chatty output.
func wantsJSON(systemPrompt, userPrompt string) bool {
	markers := []string{
		"valid JSON object",
		"JSON response",
		"application/json",
		"Return ONLY",
	}
	combined := systemPrompt + "\n" + userPrompt
	for _, marker := range markers {
		if strings.Contains(combined, marker) {
			return true
		}
	}
	return false
}
