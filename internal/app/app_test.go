package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/lastecho/internal/app"
	"github.com/MrWong99/lastecho/internal/calibration"
	"github.com/MrWong99/lastecho/internal/config"
	"github.com/MrWong99/lastecho/internal/observe"
	"github.com/MrWong99/lastecho/internal/progress"
	"github.com/MrWong99/lastecho/internal/resilience"
	"github.com/MrWong99/lastecho/pkg/provider/stt"
	"github.com/MrWong99/lastecho/pkg/provider/stt/relay"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// testConfig returns the defaults with an in-memory backend.
func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	base := []app.Option{
		app.WithMetrics(testMetrics(t)),
		app.WithMetricsHandler(http.NotFoundHandler()),
	}
	a, err := app.New(context.Background(), cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func catalogVersion(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + "/v1/catalog")
	if err != nil {
		t.Fatalf("GET /v1/catalog: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body.Version
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t, ""))
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	if v := catalogVersion(t, ts); v != "B" {
		t.Errorf("catalog version = %q, want B", v)
	}
	resp, err := ts.Client().Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/readyz = %d", resp.StatusCode)
	}
}

func TestNew_InjectedStores(t *testing.T) {
	t.Parallel()

	calib := calibration.NewMemStore()
	if err := calib.Save(context.Background(), "u1", calibration.Profile{BaselineDB: 12}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	a := newApp(t, testConfig(t, ""), app.WithStores(calib, progress.NewMemStore()))
	if a.Calibration() != calib {
		t.Error("injected calibration store not used")
	}
}

func TestNew_SQLiteBackend(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lastecho.db")
	cfg := testConfig(t, "storage:\n  backend: sqlite\n  path: "+path+"\n")
	a := newApp(t, cfg)
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/users/u1/calibration", strings.NewReader(`{"baseline_db": 33}`))
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT = %d", resp.StatusCode)
	}

	p, err := a.Calibration().Load(context.Background(), "u1")
	if err != nil || p.BaselineDB != 33 {
		t.Errorf("Load = %+v, %v", p, err)
	}

	resp, err = ts.Client().Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	var ready struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := ready.Checks["sqlite"]; !ok {
		t.Errorf("readiness checks = %v, want sqlite", ready.Checks)
	}
}

func TestNew_BadGameData(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"catalog":  "combat:\n  catalog_file: /does/not/exist.yaml\n",
		"monsters": "combat:\n  monsters_file: /does/not/exist.yaml\n",
		"trials":   "trials:\n  file: /does/not/exist.yaml\n",
	}
	for name, yaml := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := app.New(context.Background(), testConfig(t, yaml), app.WithMetrics(testMetrics(t)))
			if err == nil || !strings.Contains(err.Error(), "game data") {
				t.Errorf("New() error = %v, want game data failure", err)
			}
		})
	}
}

func TestReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	write("server:\n  log_level: info\ncombat:\n  catalog_version: A\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var lv slog.LevelVar
	a := newApp(t, cfg,
		app.WithConfigPath(path),
		app.WithWatchInterval(10*time.Millisecond),
		app.WithLogLevel(&lv),
	)
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	if v := catalogVersion(t, ts); v != "A" {
		t.Fatalf("catalog version = %q, want A", v)
	}

	write("server:\n  log_level: debug\ncombat:\n  catalog_version: B\n")
	deadline := time.Now().Add(5 * time.Second)
	for catalogVersion(t, ts) != "B" {
		if time.Now().After(deadline) {
			t.Fatal("catalog was not reloaded")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if lv.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", lv.Level())
	}
}

func TestRegisterSTT(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	app.RegisterSTT(reg, testMetrics(t))
	rl := relay.New()

	if got := reg.STTNames(); strings.Join(got, ",") != "deepgram,none,relay" {
		t.Errorf("STTNames = %v", got)
	}

	p, err := reg.CreateSTT(config.STTConfig{Provider: config.STTRelay}, rl)
	if err != nil || p != stt.Provider(rl) {
		t.Errorf("relay = %v, %v; want the connection relay", p, err)
	}

	p, err = reg.CreateSTT(config.STTConfig{Provider: config.STTNone}, rl)
	if _, ok := p.(stt.None); err != nil || !ok {
		t.Errorf("none = %T, %v", p, err)
	}

	p, err = reg.CreateSTT(config.STTConfig{Provider: config.STTDeepgram, APIKey: "key", Language: "ko"}, rl)
	if err != nil {
		t.Fatalf("deepgram: %v", err)
	}
	fb, ok := p.(*resilience.STTFallback)
	if !ok {
		t.Fatalf("deepgram = %T, want a fallback chain", p)
	}
	if states := fb.States(); len(states) != 2 || states["relay"] != resilience.StateClosed {
		t.Errorf("fallback states = %v", states)
	}

	if _, err := reg.CreateSTT(config.STTConfig{Provider: config.STTDeepgram}, rl); err == nil {
		t.Error("deepgram without an api key was accepted")
	}
}

func TestApp_ServeAndShutdown(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t, ""),
		app.WithMetrics(testMetrics(t)),
		app.WithMetricsHandler(http.NotFoundHandler()),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(context.Background(), ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve() = %v, want nil after shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after Shutdown")
	}
}

func TestApp_RunCancelled(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t, "server:\n  listen_addr: 127.0.0.1:0\n"))
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}
}
