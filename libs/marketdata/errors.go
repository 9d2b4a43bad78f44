package marketdata

import "errors"

// Upstream call failure taxonomy (spec.md §4.2, §7).
var (
	// ErrUpstreamTransient is returned after retries are exhausted on a
	// transient failure (network error, timeout, HTTP 429, HTTP 5xx).
	ErrUpstreamTransient = errors.New("upstream: transient failure, retries exhausted")

	// ErrUpstreamNotFound means the symbol or window has no upstream data.
	ErrUpstreamNotFound = errors.New("upstream: not found")

	// ErrUpstreamForbidden means authorization or entitlement was denied.
	ErrUpstreamForbidden = errors.New("upstream: forbidden")

	// ErrUpstreamBadRequest means the request itself was malformed, or the
	// endpoint is not supported by this provider.
	ErrUpstreamBadRequest = errors.New("upstream: bad request")

	// ErrUpstreamRateLimited means HTTP 429 was returned after retries were
	// exhausted (if retries succeed, the caller never sees this).
	ErrUpstreamRateLimited = errors.New("upstream: rate limited")

	// ErrNoProviderAvailable means every configured provider failed or none
	// are enabled.
	ErrNoProviderAvailable = errors.New("marketdata: no provider available")

	// ErrInvalidTimeframe means a timeframe outside the closed set was
	// requested.
	ErrInvalidTimeframe = errors.New("marketdata: invalid timeframe")

	// ErrCacheError wraps a Redis cache failure; callers should fall
	// through to the provider rather than fail the request.
	ErrCacheError = errors.New("marketdata: cache error")

	// ErrEndpointUnsupported is returned by providers that do not implement
	// an optional enrichment endpoint (dividends/splits/earnings/options).
	ErrEndpointUnsupported = errors.New("marketdata: endpoint not supported by this provider")
)
