package lookup

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CityResolver maps a postal code to a display city and region.
type CityResolver interface {
	ResolveCity(zip string) (city, region string, ok bool)
}

// NoopCityResolver never resolves; callers fall back to the API's city name.
type NoopCityResolver struct{}

func (NoopCityResolver) ResolveCity(string) (string, string, bool) { return "", "", false }

// CityEntry is one row of the city table file.
type CityEntry struct {
	Zip    string `yaml:"zip"`
	City   string `yaml:"city"`
	Region string `yaml:"region"`
}

type cityFile struct {
	Cities []CityEntry `yaml:"cities"`
}

// TableCityResolver is a static postal-code table.
type TableCityResolver struct {
	entries map[string]CityEntry
}

// NewTableCityResolver indexes entries by normalized postal code. Later
// duplicates replace earlier ones.
func NewTableCityResolver(entries []CityEntry) *TableCityResolver {
	t := &TableCityResolver{entries: make(map[string]CityEntry, len(entries))}
	for _, e := range entries {
		if e.Zip == "" || e.City == "" {
			continue
		}
		t.entries[normalizeZip(e.Zip)] = e
	}
	return t
}

// LoadCityTable reads a YAML city table:
//
//	cities:
//	  - zip: "90210"
//	    city: Beverly Hills
//	    region: CA
func LoadCityTable(path string) (*TableCityResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read city table %s: %w", path, err)
	}
	var f cityFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse city table %s: %w", path, err)
	}
	return NewTableCityResolver(f.Cities), nil
}

// ResolveCity looks up zip in the table.
func (t *TableCityResolver) ResolveCity(zip string) (string, string, bool) {
	e, ok := t.entries[normalizeZip(zip)]
	if !ok {
		return "", "", false
	}
	return e.City, e.Region, true
}

// Len returns the number of entries.
func (t *TableCityResolver) Len() int {
	return len(t.entries)
}

func normalizeZip(zip string) string {
	return strings.ToUpper(strings.Join(strings.Fields(zip), ""))
}
