// Package settings persists the user's default query (postal code, country,
// API key and unit system) as a small JSON file.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/zip-forecast/internal/models"
)

// DefaultPath is the settings file used when none is given.
const DefaultPath = "user.json"

var (
	// ErrMissingFields is returned when one of the required keys is absent.
	ErrMissingFields = errors.New("settings: required fields missing")
	// ErrInvalidSettings is returned for malformed JSON or values that fail validation.
	ErrInvalidSettings = errors.New("settings: invalid")
)

// requiredKeys are the keys every settings file must carry.
var requiredKeys = []string{"zip", "country", "api", "units"}

var validate = validator.New()

// Settings is the saved default query. Field order matches the file layout.
type Settings struct {
	Zip     string `json:"zip" validate:"required"`
	Country string `json:"country" validate:"required"`
	API     string `json:"api" validate:"required"`
	Units   string `json:"units" validate:"required,oneof=metric imperial"`
}

// Query converts the settings into a forecast query.
func (s Settings) Query() models.Query {
	return models.Query{
		Zip:     s.Zip,
		Country: s.Country,
		APIKey:  s.API,
		Units:   models.Units(s.Units),
	}
}

// FromQuery builds settings from a query. Units default to metric.
func FromQuery(q models.Query) Settings {
	units := string(q.Units)
	if units == "" {
		units = string(models.UnitsMetric)
	}
	return Settings{Zip: q.Zip, Country: q.Country, API: q.APIKey, Units: units}
}

// Masked returns a copy with the API key hidden except for its last 4 characters.
func (s Settings) Masked() Settings {
	if n := len(s.API); n > 4 {
		s.API = strings.Repeat("*", n-4) + s.API[n-4:]
	} else if n > 0 {
		s.API = strings.Repeat("*", n)
	}
	return s
}

// Validate checks field values. Errors wrap ErrInvalidSettings.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
			}
			return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// Parse decodes settings from raw JSON. Every required key must be present
// and hold a string; otherwise ErrMissingFields or ErrInvalidSettings.
func Parse(data []byte) (Settings, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	var missing []string
	for _, k := range requiredKeys {
		if _, ok := raw[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Settings{}, fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}

	for _, k := range requiredKeys {
		if _, ok := raw[k].(string); !ok {
			return Settings{}, fmt.Errorf("%w: %s must be a string", ErrInvalidSettings, k)
		}
	}
	s := Settings{
		Zip:     raw["zip"].(string),
		Country: raw["country"].(string),
		API:     raw["api"].(string),
		Units:   raw["units"].(string),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Load reads and parses the settings file at path.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings %s: %w", path, err)
	}
	return s, nil
}

// Save validates s and writes it to path as a 4-space indented JSON object.
// The file is written to a temporary sibling first and renamed into place.
func Save(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("save settings %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save settings %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save settings %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("save settings %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save settings %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a settings file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Store guards one settings file and the last successfully loaded value.
// A failed Load or Save leaves the current value untouched.
type Store struct {
	path    string
	mu      sync.RWMutex
	current Settings
	loaded  bool
}

// NewStore returns a Store for path (DefaultPath when empty).
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Path returns the file the store reads and writes.
func (st *Store) Path() string {
	return st.path
}

// Exists reports whether the store's file is present.
func (st *Store) Exists() bool {
	return Exists(st.path)
}

// Current returns the last loaded or saved settings and whether there are any.
func (st *Store) Current() (Settings, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current, st.loaded
}

// Load re-reads the file. On failure the previous value is kept and returned
// alongside the error.
func (st *Store) Load() (Settings, error) {
	s, err := Load(st.path)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err != nil {
		return st.current, err
	}
	st.current = s
	st.loaded = true
	return s, nil
}

// Apply loads the file and returns the result, or prev unchanged when the
// file is missing or invalid.
func (st *Store) Apply(prev Settings) Settings {
	s, err := Load(st.path)
	if err != nil {
		return prev
	}
	st.mu.Lock()
	st.current = s
	st.loaded = true
	st.mu.Unlock()
	return s
}

// Save writes s and makes it current.
func (st *Store) Save(s Settings) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := Save(st.path, s); err != nil {
		return err
	}
	st.current = s
	st.loaded = true
	return nil
}
