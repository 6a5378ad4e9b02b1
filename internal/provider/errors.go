package provider

import (
	"errors"
	"fmt"
)

// ErrUnknownProvider is wrapped by ConfigurationError for unsupported ids.
var ErrUnknownProvider = errors.New("unknown provider")

// ConfigurationError means a call could not be made because a credential
// or endpoint is missing. It is fatal to the call, not to the campaign.
type ConfigurationError struct {
	Provider ID
	Field    string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: configuration: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("provider %s: configuration: missing %s", e.Provider, e.Field)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// UpstreamError means the vendor failed: transport error, non-2xx status or
// an unparsable body.
type UpstreamError struct {
	Provider   ID
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("provider %s: upstream status %d: %s", e.Provider, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("provider %s: upstream status %d", e.Provider, e.StatusCode)
	default:
		return fmt.Sprintf("provider %s: upstream: %v", e.Provider, e.Err)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// snippet trims a response body for error messages.
func snippet(body []byte) string {
	const limit = 300
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
