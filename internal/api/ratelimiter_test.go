package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticLimiter struct {
	allow bool
}

func (s *staticLimiter) Allow() bool {
	return s.allow
}

func TestRateLimitMiddleware(t *testing.T) {
	cases := []struct {
		name       string
		allow      bool
		wantStatus int
		wantCalled bool
	}{
		{name: "denied", allow: false, wantStatus: http.StatusTooManyRequests},
		{name: "allowed", allow: true, wantStatus: http.StatusNoContent, wantCalled: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var called bool
			handler := rateLimitMiddleware(&staticLimiter{allow: tc.allow}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusNoContent)
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if called != tc.wantCalled {
				t.Fatalf("expected handler called=%v, got %v", tc.wantCalled, called)
			}
			if !tc.allow && rec.Header().Get("Retry-After") == "" {
				t.Fatalf("expected Retry-After on a limited response")
			}
		})
	}
}

func TestWithRateLimitOnlyInstallsPositiveBuckets(t *testing.T) {
	cases := []struct {
		name      string
		rps       float64
		burst     int
		wantLimit bool
	}{
		{name: "zero rate", rps: 0, burst: 10},
		{name: "zero burst", rps: 10, burst: 0},
		{name: "negative rate", rps: -1, burst: 10},
		{name: "positive", rps: 5, burst: 2, wantLimit: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := routerConfig{rateLimiter: &staticLimiter{}}
			WithRateLimit(tc.rps, tc.burst)(&cfg)

			if got := cfg.rateLimiter != nil; got != tc.wantLimit {
				t.Fatalf("expected limiter installed=%v, got %v", tc.wantLimit, got)
			}
		})
	}
}

func TestWithRateLimitHonoursBurst(t *testing.T) {
	var cfg routerConfig
	WithRateLimit(0.001, 3)(&cfg)

	for i := range 3 {
		if !cfg.rateLimiter.Allow() {
			t.Fatalf("expected request %d within burst to be allowed", i+1)
		}
	}
	if cfg.rateLimiter.Allow() {
		t.Fatalf("expected request beyond burst to be limited")
	}
}

func TestNewRouterDoesNotLimitByDefault(t *testing.T) {
	router := newTestRouter(t, WithLogging(false))

	for i := range 100 {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 without a limiter, got %d", i+1, rec.Code)
		}
	}
}
