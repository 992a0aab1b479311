package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/kjstillabower/zip-forecast/internal/circuitbreaker"
)

// ErrorCategory is a stable label for a weather API failure.
type ErrorCategory string

const (
	ErrorCategoryTimeout          ErrorCategory = "timeout"
	ErrorCategoryNetwork          ErrorCategory = "network"
	ErrorCategoryInvalidAPIKey    ErrorCategory = "invalid_api_key"
	ErrorCategoryLocationNotFound ErrorCategory = "location_not_found"
	ErrorCategoryRateLimited      ErrorCategory = "rate_limited"
	ErrorCategoryUpstream5xx      ErrorCategory = "upstream_5xx"
	ErrorCategoryParsing          ErrorCategory = "parsing"
	ErrorCategoryCircuitOpen      ErrorCategory = "circuit_open"
	ErrorCategoryUnknown          ErrorCategory = "unknown"
)

// sentinelCategories is checked in order; the first match wins.
var sentinelCategories = []struct {
	err      error
	category ErrorCategory
}{
	{circuitbreaker.ErrOpen, ErrorCategoryCircuitOpen},
	{ErrInvalidAPIKey, ErrorCategoryInvalidAPIKey},
	{ErrLocationNotFound, ErrorCategoryLocationNotFound},
	{ErrRateLimited, ErrorCategoryRateLimited},
	{ErrUpstreamFailure, ErrorCategoryUpstream5xx},
	{ErrMalformedResponse, ErrorCategoryParsing},
	{context.DeadlineExceeded, ErrorCategoryTimeout},
	{context.Canceled, ErrorCategoryTimeout},
}

// CategorizeError returns the category for err, or "" for nil.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	for _, sc := range sentinelCategories {
		if errors.Is(err, sc.err) {
			return sc.category
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return ErrorCategoryParsing
	}
	return ErrorCategoryUnknown
}

// IsUpstreamFault reports whether err says something about the health of the
// weather API itself. A bad key or unknown postal code does not.
func IsUpstreamFault(err error) bool {
	switch CategorizeError(err) {
	case "", ErrorCategoryInvalidAPIKey, ErrorCategoryLocationNotFound:
		return false
	}
	return true
}
