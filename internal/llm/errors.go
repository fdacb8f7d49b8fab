package llm

import (
	"errors"
	"fmt"
)

// ErrThrottled reports provider backpressure. The caller retries after the
// account index has been rotated.
var ErrThrottled = errors.New("llm: provider throttled")

// ErrMaxTokensExceeded is the sentinel for a response cut off at the output
// cap. The caller retries with a doubled budget.
var ErrMaxTokensExceeded = errors.New("llm: max output tokens exceeded")

// ProviderError wraps any other provider failure. These are not retryable.
type ProviderError struct {
	Provider string
	ModelID  string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm: %s call failed for %s: %v", e.Provider, e.ModelID, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
