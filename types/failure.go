package types

import (
	"fmt"
	"strings"
)

// ProviderFailure records one provider's failure inside a fallback chain,
// in the order the chain was walked.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Err      error  `json:"-"`
}

// Reason returns the failure message for reporting.
func (f ProviderFailure) Reason() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

// AllProvidersFailedError is the terminal result of an invocation whose
// entire provider chain was exhausted. Failures are ordered by chain
// position for diagnostics.
type AllProvidersFailedError struct {
	Capability string
	Failures   []ProviderFailure
}

// Error implements the error interface.
func (e *AllProvidersFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] all providers failed for capability %q", ErrAllProvidersFailed, e.Capability)
	for i, f := range e.Failures {
		fmt.Fprintf(&b, "; %d) %s: %v", i+1, f.Provider, f.Err)
	}
	return b.String()
}

// Unwrap exposes each provider failure to errors.Is / errors.As.
func (e *AllProvidersFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}
