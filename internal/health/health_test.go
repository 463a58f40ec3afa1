package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/lastecho/internal/health"
)

type body struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func get(t *testing.T, h *health.Handler, path string) (int, body) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var b body
	if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, b
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func ok(context.Context) error { return nil }

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{Name: "db", Check: func(context.Context) error { return errors.New("down") }})
	code, b := get(t, h, "/healthz")
	if code != http.StatusOK || b.Status != "ok" {
		t.Errorf("healthz = %d %+v", code, b)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []health.Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []health.Checker{health.Ping("storage", pinger{}), {Name: "stt", Check: ok, Optional: true}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"storage": "ok", "stt": "ok"},
		},
		{
			name: "optional fails",
			checkers: []health.Checker{
				health.Ping("storage", pinger{}),
				{Name: "stt", Check: func(context.Context) error { return errors.New("breaker open") }, Optional: true},
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantChecks: map[string]string{"storage": "ok", "stt": "degraded: breaker open"},
		},
		{
			name: "required fails",
			checkers: []health.Checker{
				health.Ping("storage", pinger{err: errors.New("connection refused")}),
				{Name: "stt", Check: func(context.Context) error { return errors.New("x") }, Optional: true},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"storage": "fail: connection refused", "stt": "degraded: x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, b := get(t, health.New(tt.checkers...), "/readyz")
			if code != tt.wantCode || b.Status != tt.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, b.Status, tt.wantCode, tt.wantStatus)
			}
			for k, v := range tt.wantChecks {
				if b.Checks[k] != v {
					t.Errorf("checks[%s] = %q, want %q", k, b.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	slow := func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := health.New(health.Checker{Name: "a", Check: slow}, health.Checker{Name: "b", Check: slow})

	go func() {
		for range 2 {
			select {
			case <-started:
			case <-time.After(2 * time.Second):
				return
			}
		}
		close(release)
	}()
	code, b := get(t, h, "/readyz")
	if code != http.StatusOK {
		t.Errorf("readyz = %d %+v", code, b)
	}
}

func TestReadyz_HonoursRequestContext(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{Name: "db", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "context canceled") {
		t.Errorf("readyz = %d %s", rec.Code, rec.Body.String())
	}
}
