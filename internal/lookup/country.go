// Package lookup resolves user-facing place names to the codes the upstream
// API expects.
package lookup

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// ErrUnknownCountry is returned when a country name or code cannot be resolved.
var ErrUnknownCountry = errors.New("unknown country")

// CountryResolver maps a country display name to its ISO 3166-1 alpha-2 code.
type CountryResolver interface {
	ResolveCountryCode(name string) (string, error)
}

// DisplayCountryResolver resolves English CLDR region names ("United States",
// "Germany") and accepts alpha-2 codes as-is.
type DisplayCountryResolver struct {
	byName map[string]string
	names  []string
}

// NewDisplayCountryResolver builds the name table from every two-letter
// region that CLDR classifies as a country.
func NewDisplayCountryResolver() *DisplayCountryResolver {
	r := &DisplayCountryResolver{
		byName: make(map[string]string, 256),
	}
	namer := display.English.Regions()
	for a := 'A'; a <= 'Z'; a++ {
		for b := 'A'; b <= 'Z'; b++ {
			code := string([]rune{a, b})
			region, err := language.ParseRegion(code)
			if err != nil || !region.IsCountry() {
				continue
			}
			name := namer.Name(region)
			if name == "" {
				continue
			}
			key := foldName(name)
			if _, dup := r.byName[key]; dup {
				continue
			}
			r.byName[key] = region.String()
			r.names = append(r.names, name)
		}
	}
	sort.Strings(r.names)
	return r
}

// ResolveCountryCode returns the alpha-2 code for name. Matching is
// case-insensitive and ignores surrounding whitespace.
func (r *DisplayCountryResolver) ResolveCountryCode(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnknownCountry)
	}
	if len(name) == 2 {
		if region, err := language.ParseRegion(name); err == nil && region.IsCountry() {
			return region.String(), nil
		}
	}
	if code, ok := r.byName[foldName(name)]; ok {
		return code, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCountry, name)
}

// Names returns the sorted English country names the resolver knows.
func (r *DisplayCountryResolver) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// foldName case-folds a name for lookup. A Caser is stateful, so each call
// gets its own.
func foldName(name string) string {
	return cases.Fold().String(name)
}
