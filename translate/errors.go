package translate

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConfigured means the provider lacks a key, endpoint or model.
	ErrNotConfigured = errors.New("translation provider is not configured")
	// ErrUnauthorized means the provider rejected the credentials.
	ErrUnauthorized = errors.New("translation provider rejected the credentials")
	// ErrUnreachable means the provider could not be contacted at all.
	ErrUnreachable = errors.New("translation provider is unreachable")
	// ErrMalformedResponse means the response carried no <block> elements.
	ErrMalformedResponse = errors.New("malformed translation response")
)

// ProviderError is a non-success HTTP response from a provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Unwrap maps authentication failures to ErrUnauthorized.
func (e *ProviderError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// IsConfigError reports whether err means the provider cannot be used at
// all (missing configuration, rejected credentials, unreachable), as
// opposed to a failure of one batch.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNotConfigured) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrUnreachable)
}

// IsProviderError reports whether err is a rejected batch: a non-success
// response that is not an authentication failure, or a malformed body.
func IsProviderError(err error) bool {
	if IsConfigError(err) {
		return false
	}
	var pe *ProviderError
	return errors.As(err, &pe) || errors.Is(err, ErrMalformedResponse)
}
