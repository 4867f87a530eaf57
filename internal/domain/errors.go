package domain

import "errors"

var (
	// ErrDataUnavailable means no oracle or venue source could be read.
	// Absence always propagates as this error, never as a sentinel value.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrNoProviders means the resilience layer was constructed without any
	// providers. This is a programmer error and is raised at startup.
	ErrNoProviders = errors.New("no oracle providers configured")

	// ErrProviderUnhealthy means a provider's circuit is open.
	ErrProviderUnhealthy = errors.New("provider unhealthy")

	// ErrRateLimited means an upstream call was throttled.
	ErrRateLimited = errors.New("rate limited")

	// ErrRiskRejected means a business rule blocked the trade. Terminal and
	// non-retryable.
	ErrRiskRejected = errors.New("risk rejected")

	// ErrExecutionFailed means the venue rejected an order or the submission
	// failed on the network. Terminal for that order.
	ErrExecutionFailed = errors.New("execution failed")

	// ErrParsing means a malformed payload arrived from an external source.
	ErrParsing = errors.New("parsing error")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrHalted        = errors.New("trading halted")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
