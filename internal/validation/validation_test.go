package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/kjstillabower/zip-forecast/internal/models"
)

func TestValidateZip(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"us", "90210", "90210", nil},
		{"trimmed", "  10001 ", "10001", nil},
		{"uk with space", "SW1A 1AA", "SW1A 1AA", nil},
		{"zip plus four", "90210-1234", "90210-1234", nil},
		{"empty", "", "", ErrZipEmpty},
		{"spaces", "   ", "", ErrZipEmpty},
		{"too long", strings.Repeat("1", MaxZipLen+1), "", ErrZipTooLong},
		{"exactly max", strings.Repeat("1", MaxZipLen), strings.Repeat("1", MaxZipLen), nil},
		{"comma", "90210,US", "", ErrZipInvalidChars},
		{"slash", "902/10", "", ErrZipInvalidChars},
		{"ampersand", "90210&x", "", ErrZipInvalidChars},
		{"control", "902\x0010", "", ErrZipInvalidChars},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateZip(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ValidateZip(%q) error = %v, want %v", tc.input, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ValidateZip(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestValidateCountry(t *testing.T) {
	valid := []string{"United States", "Côte d’Ivoire", "Myanmar (Burma)", "St. Kitts & Nevis", "Congo - Kinshasa", "US"}
	for _, in := range valid {
		if got, err := ValidateCountry(in); err != nil || got != in {
			t.Errorf("ValidateCountry(%q) = (%q, %v), want (%q, nil)", in, got, err, in)
		}
	}

	if _, err := ValidateCountry(" "); !errors.Is(err, ErrCountryEmpty) {
		t.Errorf("ValidateCountry(blank) error = %v, want ErrCountryEmpty", err)
	}
	for _, in := range []string{"United States1", "US;DROP", strings.Repeat("a", MaxCountryLen+1)} {
		if _, err := ValidateCountry(in); !errors.Is(err, ErrCountryInvalid) {
			t.Errorf("ValidateCountry(%q) error = %v, want ErrCountryInvalid", in, err)
		}
	}
}

func TestValidateQuery(t *testing.T) {
	base := models.Query{Zip: " 90210 ", Country: "United States ", APIKey: " key ", Units: "Metric"}

	got, err := ValidateQuery(base)
	if err != nil {
		t.Fatalf("ValidateQuery() error = %v", err)
	}
	want := models.Query{Zip: "90210", Country: "United States", APIKey: "key", Units: models.UnitsMetric}
	if got != want {
		t.Errorf("ValidateQuery() = %+v, want %+v", got, want)
	}

	tests := []struct {
		name    string
		mutate  func(q *models.Query)
		wantErr error
	}{
		{"empty zip", func(q *models.Query) { q.Zip = "" }, ErrZipEmpty},
		{"empty country", func(q *models.Query) { q.Country = "" }, ErrCountryEmpty},
		{"empty api key", func(q *models.Query) { q.APIKey = "  " }, ErrAPIKeyEmpty},
		{"empty units", func(q *models.Query) { q.Units = "" }, ErrUnitsInvalid},
		{"kelvin", func(q *models.Query) { q.Units = "standard" }, ErrUnitsInvalid},
		{"zip checked first", func(q *models.Query) { q.Zip = ""; q.Units = "" }, ErrZipEmpty},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := base
			tc.mutate(&q)
			if _, err := ValidateQuery(q); !errors.Is(err, tc.wantErr) {
				t.Errorf("ValidateQuery() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}
