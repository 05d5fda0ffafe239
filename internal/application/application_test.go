package application

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/siteserver/internal/config"
)

func writeBuild(t *testing.T, root string) {
	t.Helper()
	files := map[string]string{
		"index.html":        "<html>home</html>",
		"assets/app.js":     "console.log('app')",
		"assets/app.js.map": `{"version":3}`,
		"images/logo.png":   "\x89PNG\r\n\x1a\n",
	}
	for name, body := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func baseTestConfig(t *testing.T, port string) config.Config {
	t.Helper()
	dir := t.TempDir()
	writeBuild(t, dir)

	return config.Config{
		Env:                  config.EnvTest,
		SiteURL:              &url.URL{Scheme: "https", Host: "example.com"},
		Port:                 port,
		ShutdownGracePeriod:  50 * time.Millisecond,
		ReadHeaderTimeout:    20 * time.Millisecond,
		WriteTimeout:         30 * time.Millisecond,
		IdleTimeout:          40 * time.Millisecond,
		EnableRequestLogging: false,
		OutputMode:           config.OutputDefault,
		OutputDir:            dir,
		Images: config.ImagesConfig{
			Formats:         []string{"image/webp"},
			DeviceSizes:     []int{640},
			ImageSizes:      []int{64},
			MinimumCacheTTL: time.Minute,
		},
	}
}

func serve(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestNewInitializesDependencies(t *testing.T) {
	cfg := baseTestConfig(t, ":8085")

	app, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if app.server == nil || app.router == nil || app.handler == nil {
		t.Fatalf("expected server, router, and handler to be initialized")
	}
	if app.Server() != app.server || app.Handler() != app.handler {
		t.Fatalf("accessors did not return underlying instances")
	}
	if app.metrics != nil || app.report != nil {
		t.Fatalf("expected add-ons to stay disabled")
	}
}

func TestNewServerAppliesConfig(t *testing.T) {
	cfg := baseTestConfig(t, "9090")
	handler := http.NewServeMux()

	server := NewServer(cfg, handler)
	if server.Addr != ":9090" {
		t.Fatalf("expected address :9090, got %s", server.Addr)
	}
	if server.Handler != handler {
		t.Fatalf("expected handler to be applied")
	}
	if server.ReadHeaderTimeout != cfg.ReadHeaderTimeout ||
		server.WriteTimeout != cfg.WriteTimeout ||
		server.IdleTimeout != cfg.IdleTimeout {
		t.Fatalf("server timeouts do not match configuration")
	}
}

func TestRootHandlerSecurityHeaders(t *testing.T) {
	for _, strict := range []bool{true, false} {
		cfg := baseTestConfig(t, ":0")
		cfg.StrictCSP = strict

		app, err := New(cfg, zaptest.NewLogger(t))
		if err != nil {
			t.Fatalf("New returned error: %v", err)
		}

		page := serve(t, app.Handler(), "/")
		if page.Code != http.StatusOK || !strings.Contains(page.Body.String(), "home") {
			t.Fatalf("strict=%v: expected index page, got %d", strict, page.Code)
		}
		if got := page.Header().Get("Content-Security-Policy") != ""; got != strict {
			t.Fatalf("strict=%v: CSP present=%v", strict, got)
		}
		if page.Header().Get("Cross-Origin-Opener-Policy") == "" || page.Header().Get("Cross-Origin-Embedder-Policy") == "" {
			t.Fatalf("strict=%v: expected cross-origin isolation headers", strict)
		}

		health := serve(t, app.Handler(), "/api/health")
		if health.Code != http.StatusOK {
			t.Fatalf("strict=%v: expected API health 200, got %d", strict, health.Code)
		}
		if health.Header().Get("Cross-Origin-Opener-Policy") != "" {
			t.Fatalf("strict=%v: API responses must not carry page policy headers", strict)
		}
	}
}

func TestRootHandlerSourceMaps(t *testing.T) {
	cfg := baseTestConfig(t, ":0")

	app, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if rec := serve(t, app.Handler(), "/assets/app.js.map"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected sourcemap to be hidden, got %d", rec.Code)
	}

	cfg.SourceMaps = true
	app, err = New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if rec := serve(t, app.Handler(), "/assets/app.js.map"); rec.Code != http.StatusOK {
		t.Fatalf("expected sourcemap to be served, got %d", rec.Code)
	}
}

func TestRootHandlerImages(t *testing.T) {
	app, err := New(baseTestConfig(t, ":0"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ok := serve(t, app.Handler(), "/_image?url=%2Fimages%2Flogo.png&w=64")
	if ok.Code != http.StatusOK {
		t.Fatalf("expected image 200, got %d: %s", ok.Code, ok.Body.String())
	}
	if bad := serve(t, app.Handler(), "/_image?url=%2Fimages%2Flogo.png&w=65"); bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for disallowed width, got %d", bad.Code)
	}
}

func TestRootHandlerImagesHonorSourceMapGate(t *testing.T) {
	app, err := New(baseTestConfig(t, ":0"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	for _, src := range []string{"%2Fassets%2Fapp.js.map", "%2Fassets%2Fapp.js", "%2Findex.html"} {
		rec := serve(t, app.Handler(), "/_image?url="+src+"&w=64")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for %s through image endpoint, got %d", src, rec.Code)
		}
		if strings.Contains(rec.Body.String(), `"version":3`) {
			t.Fatalf("sourcemap contents leaked through image endpoint")
		}
	}
}

func TestAddOns(t *testing.T) {
	cfg := baseTestConfig(t, ":0")
	cfg.Telemetry = &config.TelemetryConfig{Namespace: "siteserver", MetricsPath: "/metrics"}
	cfg.Analyzer = &config.AnalyzerConfig{ReportPath: "/_analyze", TopN: 2}

	app, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	serve(t, app.Handler(), "/")

	metrics := serve(t, app.Handler(), "/metrics")
	if metrics.Code != http.StatusOK || !strings.Contains(metrics.Body.String(), "siteserver_http_requests_total") {
		t.Fatalf("expected metrics output, got %d", metrics.Code)
	}

	report := serve(t, app.Handler(), "/_analyze")
	if report.Code != http.StatusOK {
		t.Fatalf("expected analysis report, got %d", report.Code)
	}
	var body struct {
		Files   int `json:"files"`
		Largest []struct {
			Path string `json:"path"`
		} `json:"largest"`
	}
	if err := json.NewDecoder(report.Body).Decode(&body); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if body.Files != 3 || len(body.Largest) != 2 {
		t.Fatalf("unexpected report: %+v", body)
	}
	if strings.Contains(report.Body.String(), ".map") {
		t.Fatalf("report must not list hidden sourcemaps")
	}
}

func TestAddOnsAbsentWhenDisabled(t *testing.T) {
	app, err := New(baseTestConfig(t, ":0"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	for _, path := range []string{"/metrics", "/_analyze"} {
		if rec := serve(t, app.Handler(), path); rec.Code != http.StatusNotFound {
			t.Fatalf("expected %s to be absent, got %d", path, rec.Code)
		}
	}
}

func TestNewFailsWhenAnalyzerRootMissing(t *testing.T) {
	cfg := baseTestConfig(t, ":0")
	cfg.OutputDir = filepath.Join(t.TempDir(), "missing")
	cfg.Analyzer = &config.AnalyzerConfig{ReportPath: "/_analyze", TopN: 5}

	if _, err := New(cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected error when build output is missing")
	}
}

func TestStartAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	app, err := New(baseTestConfig(t, "127.0.0.1:0"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := app.Server().Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}
