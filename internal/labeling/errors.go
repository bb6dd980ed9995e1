package labeling

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformedLabel is returned when a provider response has no usable topic or summary.
var ErrMalformedLabel = errors.New("malformed label response")

// ProviderError is a non-2xx response from a label provider.
type ProviderError struct {
	Provider   string
	Body       string
	StatusCode int
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s API %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s API %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Transient reports whether the status is rate limiting or a server error.
func (e *ProviderError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return false
}
