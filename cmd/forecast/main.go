// Command forecast prints the current weather, a five-day summary and the
// first-day chart series for a postal code.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kjstillabower/zip-forecast/internal/cache"
	"github.com/kjstillabower/zip-forecast/internal/client"
	"github.com/kjstillabower/zip-forecast/internal/forecast"
	"github.com/kjstillabower/zip-forecast/internal/models"
	"github.com/kjstillabower/zip-forecast/internal/service"
	"github.com/kjstillabower/zip-forecast/internal/settings"
)

const defaultAPIURL = "https://api.openweathermap.org/"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, os.Getenv))
}

type options struct {
	settingsPath string
	zip          string
	country      string
	apiKey       string
	units        string
	metric       string
	apiURL       string
	timeout      time.Duration
	save         bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("forecast", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.settingsPath, "settings", settings.DefaultPath, "settings file with the default query")
	fs.StringVar(&o.zip, "zip", "", "postal code (overrides settings)")
	fs.StringVar(&o.country, "country", "", "country name or ISO code (overrides settings)")
	fs.StringVar(&o.apiKey, "api", "", "OpenWeatherMap API key (overrides settings and WEATHER_API_KEY)")
	fs.StringVar(&o.units, "units", "", "metric or imperial (overrides settings)")
	fs.StringVar(&o.metric, "metric", "temperature", "chart metric: temperature or precipitation")
	fs.StringVar(&o.apiURL, "url", defaultAPIURL, "API base URL")
	fs.DurationVar(&o.timeout, "timeout", 15*time.Second, "overall request timeout")
	fs.BoolVar(&o.save, "save", false, "write the resulting query to the settings file")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

// resolveSettings starts from the settings file (if valid) and applies flags
// and the environment on top.
func resolveSettings(o options, getenv func(string) string) settings.Settings {
	s := settings.NewStore(o.settingsPath).Apply(settings.Settings{})
	if s.API == "" {
		s.API = strings.TrimSpace(getenv("WEATHER_API_KEY"))
	}
	if o.zip != "" {
		s.Zip = o.zip
	}
	if o.country != "" {
		s.Country = o.country
	}
	if o.apiKey != "" {
		s.API = o.apiKey
	}
	if o.units != "" {
		s.Units = strings.ToLower(o.units)
	}
	if s.Units == "" {
		s.Units = string(models.UnitsMetric)
	}
	return s
}

func run(args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}
	s := resolveSettings(o, getenv)

	if o.save {
		if err := settings.Save(o.settingsPath, s); err != nil {
			fmt.Fprintf(stderr, "Error saving settings: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Settings saved to %s\n", o.settingsPath)
	}

	wc, err := client.NewOpenWeatherClient(o.apiURL, o.timeout)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	svc := service.NewForecastService(wc, cache.NewInMemoryCache(0), service.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	report, err := svc.Load(ctx, s.Query())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", describeLoadError(err))
		return 1
	}
	series, err := svc.Chart(report, o.metric)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", describeLoadError(err))
		return 1
	}

	writeCurrent(stdout, report)
	fmt.Fprintln(stdout)
	writeSummaries(stdout, report)
	fmt.Fprintln(stdout)
	writeSeries(stdout, series)
	return 0
}

// describeLoadError turns a load failure into the message shown to the user.
func describeLoadError(err error) string {
	var le *service.LoadError
	switch service.KindOf(err) {
	case service.KindValidation:
		if errors.As(err, &le) {
			return le.Err.Error()
		}
		return err.Error()
	case service.KindLocation:
		return "location not found; check the postal code and country"
	case service.KindAPIKey:
		return "the API key was rejected"
	case service.KindSchema:
		return "the weather service returned data in an unexpected format"
	default:
		return "could not reach the weather service: " + err.Error()
	}
}

func unitSymbol(u models.Units) string {
	if u == models.UnitsImperial {
		return "°F"
	}
	return "°C"
}

func writeCurrent(w io.Writer, r models.Report) {
	title := cases.Title(language.English)
	header := fmt.Sprintf("Weather for %s, %s:", r.Current.City, r.Query.CountryCode)
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", len([]rune(header))))
	fmt.Fprintf(w, "Conditions:  %s (%s)\n", title.String(r.Current.Description), r.Icon)
	fmt.Fprintf(w, "Temperature: %d%s\n", r.Current.Temperature, unitSymbol(r.Query.Units))
	fmt.Fprintf(w, "Feels Like:  %d%s\n", r.Current.FeelsLike, unitSymbol(r.Query.Units))
	fmt.Fprintf(w, "Humidity:    %d%%\n", r.Current.Humidity)
	fmt.Fprintf(w, "Clouds:      %d%%\n", r.Current.CloudPercent)
	if r.Stale {
		fmt.Fprintf(w, "(cached report from %s)\n", r.FetchedAt.Local().Format("Mon 3:04 PM"))
	}
}

func writeSummaries(w io.Writer, r models.Report) {
	header := "5-Day Forecast:"
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", len(header)))
	for _, s := range r.Summaries {
		fmt.Fprintf(w, "%s  %-14s %5.1f%% clouds  %s\n", s.DayLabel, s.DominantCondition, s.AvgCloudPercent, s.HighLow)
	}
}

func writeSeries(w io.Writer, s forecast.Series) {
	header := fmt.Sprintf("Today's %s (axis %d..%d):", s.Metric, s.AxisMin, s.AxisMax)
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", len(header)))
	for _, p := range s.Points {
		label := p.Label
		if label == "" {
			label = "Now"
		}
		fmt.Fprintf(w, "%-6s %4d\n", label, p.Value)
	}
}
