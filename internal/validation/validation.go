// Package validation checks user-supplied forecast queries before any
// upstream call is made.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/zip-forecast/internal/models"
)

// MaxZipLen bounds postal codes in runes. The longest real formats are 10.
const MaxZipLen = 12

// MaxCountryLen bounds country names in runes.
const MaxCountryLen = 64

// ErrZipEmpty is returned when the postal code is empty or whitespace-only after trim.
var ErrZipEmpty = errors.New("zip is required")

// ErrZipTooLong is returned when the postal code exceeds MaxZipLen.
var ErrZipTooLong = errors.New("zip too long")

// ErrZipInvalidChars is returned when the postal code contains disallowed characters.
var ErrZipInvalidChars = errors.New("zip contains invalid characters")

// ErrCountryEmpty is returned when no country is given.
var ErrCountryEmpty = errors.New("country is required")

// ErrCountryInvalid is returned for over-long names or disallowed characters.
var ErrCountryInvalid = errors.New("country is invalid")

// ErrAPIKeyEmpty is returned when the query carries no API key.
var ErrAPIKeyEmpty = errors.New("api key is required")

// ErrUnitsInvalid is returned when units is not metric or imperial.
var ErrUnitsInvalid = errors.New("units must be metric or imperial")

var validate = validator.New()

// ValidateZip trims the input, enforces the length bound and restricts to
// letters, digits, space and hyphen. Returns the trimmed string.
func ValidateZip(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrZipEmpty
	}
	if len(r) > MaxZipLen {
		return "", ErrZipTooLong
	}
	for _, c := range r {
		if !isAllowedZipRune(c) {
			return "", ErrZipInvalidChars
		}
	}
	return s, nil
}

// ValidateCountry trims the input and restricts it to the characters that
// appear in English country names ("Côte d’Ivoire", "Myanmar (Burma)").
func ValidateCountry(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrCountryEmpty
	}
	if len(r) > MaxCountryLen {
		return "", fmt.Errorf("%w: too long", ErrCountryInvalid)
	}
	for _, c := range r {
		if !isAllowedCountryRune(c) {
			return "", fmt.Errorf("%w: invalid characters", ErrCountryInvalid)
		}
	}
	return s, nil
}

// ValidateQuery normalizes and checks every field of q. Field errors are
// returned in order zip, country, api key, units.
func ValidateQuery(q models.Query) (models.Query, error) {
	zip, err := ValidateZip(q.Zip)
	if err != nil {
		return models.Query{}, err
	}
	country, err := ValidateCountry(q.Country)
	if err != nil {
		return models.Query{}, err
	}
	q.Zip = zip
	q.Country = country
	q.APIKey = strings.TrimSpace(q.APIKey)
	q.Units = models.Units(strings.ToLower(strings.TrimSpace(string(q.Units))))

	if err := validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "APIKey":
				return models.Query{}, ErrAPIKeyEmpty
			case "Units":
				return models.Query{}, ErrUnitsInvalid
			}
		}
		return models.Query{}, fmt.Errorf("invalid query: %w", err)
	}
	return q, nil
}

func isAllowedZipRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	return r == ' ' || r == '-'
}

func isAllowedCountryRune(r rune) bool {
	if unicode.IsLetter(r) {
		return true
	}
	switch r {
	case ' ', '-', '.', ',', '\'', '’', '&', '(', ')':
		return true
	}
	return false
}
