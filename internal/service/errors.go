package service

import (
	"errors"
	"fmt"

	"github.com/kjstillabower/zip-forecast/internal/client"
	"github.com/kjstillabower/zip-forecast/internal/forecast"
	"github.com/kjstillabower/zip-forecast/internal/lookup"
)

// ErrorKind classifies why a forecast load failed.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation" // bad query fields, nothing was sent upstream
	KindNetwork    ErrorKind = "network"    // upstream unreachable, 5xx, rate limited or breaker open
	KindSchema     ErrorKind = "schema"     // upstream answered with data we cannot use
	KindAPIKey     ErrorKind = "api_key"
	KindLocation   ErrorKind = "location" // unknown country or postal code
)

// LoadError is the error returned by ForecastService.Load.
type LoadError struct {
	Kind ErrorKind
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err. Errors that are not load errors are
// classified by their wrapped sentinels.
func KindOf(err error) ErrorKind {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind
	}
	switch {
	case errors.Is(err, client.ErrInvalidAPIKey):
		return KindAPIKey
	case errors.Is(err, client.ErrLocationNotFound), errors.Is(err, lookup.ErrUnknownCountry):
		return KindLocation
	case errors.Is(err, client.ErrMalformedResponse),
		errors.Is(err, forecast.ErrEmptyBucket),
		errors.Is(err, forecast.ErrNoBuckets),
		errors.Is(err, forecast.ErrUnknownMetric):
		return KindSchema
	}
	return KindNetwork
}

// asLoadError wraps err with its kind unless it already is a LoadError.
func asLoadError(err error) error {
	var le *LoadError
	if errors.As(err, &le) {
		return err
	}
	return &LoadError{Kind: KindOf(err), Err: err}
}
