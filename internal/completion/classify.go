package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error substrings grouped by category, matched case-insensitively.
//
// NOTE: This uses string matching because Genkit and LLM provider SDKs do
// not expose typed/sentinel errors for these failures. This is a documented
// exception to the project rule against strings.Contains(err.Error(), ...).
// Re-evaluate if Genkit adds structured error types in a future version.
// Saturation arrives both as "resource exhausted" prose and as gRPC's
// spelled-together "code = ResourceExhausted", so both forms are listed.
var (
	unauthorizedPatterns = []string{"401", "unauthorized", "invalid api key", "api key not valid", "permission denied", "403"}
	overloadedPatterns   = []string{"429", "rate limit", "quota exceeded", "resource exhausted", "resourceexhausted", "overloaded", "503", "unavailable"}
	timeoutPatterns      = []string{"deadline exceeded", "timeout", "timed out"}
)

// statusPatterns maps recognizable status codes for UpstreamError.
var statusPatterns = map[string]int{
	"500": 500,
	"502": 502,
	"504": 504,
}

// classify maps a raw provider error onto the package taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, unauthorizedPatterns):
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case containsAny(msg, overloadedPatterns):
		return fmt.Errorf("%w: %w", ErrOverloaded, err)
	case containsAny(msg, timeoutPatterns):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	for pattern, status := range statusPatterns {
		if strings.Contains(msg, pattern) {
			return &UpstreamError{Status: status, Err: err}
		}
	}
	return &UpstreamError{Err: err}
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
