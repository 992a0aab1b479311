package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/zip-forecast/internal/observability"
	"github.com/kjstillabower/zip-forecast/internal/overload"
)

func TestMiddleware_CorrelationIDGenerated(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	w := env.do(http.MethodGet, "/health", "", nil)
	if w.Header().Get(CorrelationIDHeader) == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var gotID string
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.New(core)))
	router.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		gotID = observability.CorrelationID(r.Context())
		observability.LoggerFromContext(r.Context()).Info("inside")
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(CorrelationIDHeader, "test-correlation-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get(CorrelationIDHeader); got != "test-correlation-123" {
		t.Errorf("X-Correlation-ID = %q, want test-correlation-123", got)
	}
	if gotID != "test-correlation-123" {
		t.Errorf("CorrelationID(ctx) = %q, want test-correlation-123", gotID)
	}
	entries := logs.FilterMessage("inside").All()
	if len(entries) != 1 || entries[0].ContextMap()["correlation_id"] != "test-correlation-123" {
		t.Errorf("request logger did not carry correlation_id: %v", entries)
	}
}

func TestMiddleware_GetRouteUsesTemplate(t *testing.T) {
	var got string
	router := mux.NewRouter()
	router.HandleFunc("/forecast/{metric}", func(w http.ResponseWriter, r *http.Request) {
		got = getRoute(r)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/forecast/precipitation", nil))
	if got != "/forecast/{metric}" {
		t.Errorf("getRoute() = %q, want /forecast/{metric}", got)
	}

	if got := getRoute(httptest.NewRequest(http.MethodGet, "/nowhere", nil)); got != "unmatched" {
		t.Errorf("getRoute() without a route = %q, want unmatched", got)
	}
}

func TestStatusCodeString(t *testing.T) {
	for code, want := range map[int]string{200: "2xx", 404: "4xx", 429: "4xx", 503: "5xx"} {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestStatusRecorder_KeepsFirstCode(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	rec.WriteHeader(http.StatusServiceUnavailable)
	rec.WriteHeader(http.StatusOK)
	if rec.statusCode != http.StatusServiceUnavailable {
		t.Errorf("statusCode = %d, want 503", rec.statusCode)
	}
}

func TestMiddleware_MetricsCountsInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	})

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))
		close(done)
	}()
	<-entered
	if got := InFlightCount(); got < 1 {
		t.Errorf("InFlightCount() = %d during request, want >= 1", got)
	}
	close(release)
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := WaitForInFlight(ctx, 5*time.Millisecond); err != nil {
		t.Errorf("WaitForInFlight() error = %v", err)
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var ctxErr error
	handler := TimeoutMiddleware(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		ctxErr = r.Context().Err()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/forecast", nil))
	if !errors.Is(ctxErr, context.DeadlineExceeded) {
		t.Errorf("ctx.Err() = %v, want DeadlineExceeded", ctxErr)
	}
}

func TestTimeoutMiddleware_ZeroDisables(t *testing.T) {
	var hasDeadline bool
	handler := TimeoutMiddleware(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/forecast", nil))
	if hasDeadline {
		t.Error("TimeoutMiddleware(0) set a deadline")
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	overload.Reset()
	t.Cleanup(overload.Reset)

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(RateLimitMiddleware(rate.NewLimiter(1, 2)))
	router.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/forecast", nil))
		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
			continue
		}
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i, w.Code)
		}
		body := decodeError(t, w)
		if body.Error.Code != "RATE_LIMITED" {
			t.Errorf("error.code = %q, want RATE_LIMITED", body.Error.Code)
		}
		if body.Error.RequestID == "" {
			t.Error("error.requestId empty on 429")
		}
	}
	if got := overload.DenialCount(time.Minute); got != 1 {
		t.Errorf("DenialCount() = %d, want 1", got)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	handler := RateLimitMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/forecast", nil))
		if w.Code != http.StatusNoContent {
			t.Fatalf("request %d: status = %d, want 204", i, w.Code)
		}
	}
}

// TestRouter_HealthBypassesRateLimit verifies that probes and metrics stay
// reachable while the forecast path is throttled.
func TestRouter_HealthBypassesRateLimit(t *testing.T) {
	resetState(t)
	env := newTestEnv(t, nil, nil, nil)
	env.router = NewRouter(env.handler, RouterOptions{Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)})

	if w := env.do(http.MethodGet, "/forecast?zip=90210", "", nil); w.Code != http.StatusOK {
		t.Fatalf("first forecast status = %d, want 200", w.Code)
	}
	if w := env.do(http.MethodGet, "/forecast?zip=90210", "", nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second forecast status = %d, want 429", w.Code)
	}
	if w := env.do(http.MethodGet, "/settings", "", nil); w.Code != http.StatusTooManyRequests {
		t.Errorf("settings status = %d, want 429", w.Code)
	}
	for i := 0; i < 3; i++ {
		if w := env.do(http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
			t.Errorf("health status = %d, want 200", w.Code)
		}
	}
	w := env.do(http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "rateLimitDeniedTotal") {
		t.Error("metrics output missing rateLimitDeniedTotal")
	}
}
