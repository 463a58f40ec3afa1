package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lastecho/internal/config"
	"github.com/MrWong99/lastecho/pkg/provider/stt"
	"github.com/MrWong99/lastecho/pkg/provider/stt/relay"
)

const fullYAML = `
server:
  listen_addr: ":9443"
  log_level: debug
  tls:
    cert_file: cert.pem
    key_file: key.pem
  allowed_origins: ["game.example.com"]
  level_interval: 100ms
combat:
  catalog_version: A
  default_baseline_db: 25
  hint_threshold: 0.8
stt:
  provider: deepgram
  api_key: dg-key
  model: nova-2
storage:
  backend: sqlite
  path: /var/lib/lastecho/state.db
reward:
  max_failures: 3
  reset_timeout: 1m
`

func TestParse_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.ListenAddr != ":9443" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.TLS == nil || cfg.Server.TLS.CertFile != "cert.pem" {
		t.Errorf("tls = %+v", cfg.Server.TLS)
	}
	if cfg.Server.LevelInterval != 100*time.Millisecond {
		t.Errorf("level_interval = %v", cfg.Server.LevelInterval)
	}
	if cfg.Combat.CatalogVersion != "A" || cfg.Combat.DefaultBaselineDB != 25 || cfg.Combat.HintThreshold != 0.8 {
		t.Errorf("combat = %+v", cfg.Combat)
	}
	if cfg.STT.Provider != config.STTDeepgram || cfg.STT.Language != "ko" {
		t.Errorf("stt = %+v", cfg.STT)
	}
	if cfg.Reward.MaxFailures != 3 || cfg.Reward.ResetTimeout != time.Minute {
		t.Errorf("reward = %+v", cfg.Reward)
	}
}

func TestParse_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse(nil)
	if err != nil {
		t.Fatalf("Parse(empty): %v", err)
	}
	want := config.Config{
		Server:  config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo, LevelInterval: 50 * time.Millisecond},
		Combat:  config.CombatConfig{CatalogVersion: "B", DefaultBaselineDB: 30},
		STT:     config.STTConfig{Provider: config.STTRelay, Language: "ko"},
		Storage: config.StorageConfig{Backend: config.StorageMemory},
		Reward:  config.RewardConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second},
	}
	if cfg.Server.ListenAddr != want.Server.ListenAddr || cfg.Server.LogLevel != want.Server.LogLevel ||
		cfg.Server.LevelInterval != want.Server.LevelInterval {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Combat != want.Combat || cfg.STT != want.STT || cfg.Storage != want.Storage || cfg.Reward != want.Reward {
		t.Errorf("cfg = %+v, want %+v", *cfg, want)
	}
}

// Environment tests cannot run in parallel.
func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("LASTECHO_POSTGRES_DSN", "postgres://game@db/lastecho")
	t.Setenv("LASTECHO_DEEPGRAM_API_KEY", "from-env")
	t.Setenv("LASTECHO_LISTEN_ADDR", ":7000")

	cfg, err := config.Parse([]byte("stt:\n  provider: deepgram\nstorage:\n  backend: postgres\nserver:\n  listen_addr: \":1\"\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.DSN != "postgres://game@db/lastecho" {
		t.Errorf("dsn = %q", cfg.Storage.DSN)
	}
	if cfg.STT.APIKey != "from-env" {
		t.Errorf("api_key = %q", cfg.STT.APIKey)
	}
	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("listen_addr = %q, env should win", cfg.Server.ListenAddr)
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{"unknown field", "server:\n  port: 1\n", []string{"field port not found"}},
		{"log level", "server:\n  log_level: loud\n", []string{"server.log_level"}},
		{"catalog version", "combat:\n  catalog_version: C\n", []string{"combat.catalog_version"}},
		{"baseline range", "combat:\n  default_baseline_db: 120\n", []string{"default_baseline_db"}},
		{"deepgram key", "stt:\n  provider: deepgram\n", []string{"stt.api_key"}},
		{"stt name", "stt:\n  provider: whisper\n", []string{"stt.provider"}},
		{"sqlite path", "storage:\n  backend: sqlite\n", []string{"storage.path"}},
		{"half tls", "server:\n  tls:\n    cert_file: c.pem\n", []string{"server.tls"}},
		{
			"several at once",
			"server:\n  log_level: loud\nstorage:\n  backend: redis\n",
			[]string{"server.log_level", "storage.backend"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse returned no error")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load = %v, want ErrNotExist", err)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	base, _ := config.Parse(nil)
	same, _ := config.Parse(nil)
	if d := config.Diff(base, same); !d.Empty() {
		t.Errorf("Diff(same) = %+v", d)
	}

	changed, err := config.Parse([]byte("server:\n  log_level: warn\n  listen_addr: \":9\"\ncombat:\n  catalog_version: A\ntrials:\n  file: t.yaml\nstt:\n  provider: none\n"))
	if err != nil {
		t.Fatal(err)
	}
	d := config.Diff(base, changed)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.CatalogChanged || !d.TrialsChanged {
		t.Errorf("catalog/trials diff = %+v", d)
	}
	for _, want := range []string{"server.listen_addr", "stt"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %s", d.RestartRequired, want)
		}
	}
	if slices.Contains(d.RestartRequired, "storage") {
		t.Errorf("storage reported as changed")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	r.RegisterSTT(config.STTRelay, func(_ config.STTConfig, rl *relay.Provider) (stt.Provider, error) { return rl, nil })
	r.RegisterSTT(config.STTNone, func(config.STTConfig, *relay.Provider) (stt.Provider, error) { return stt.None{}, nil })
	r.RegisterSTT("broken", func(config.STTConfig, *relay.Provider) (stt.Provider, error) { return nil, errors.New("no key") })

	rl := relay.New()
	p, err := r.CreateSTT(config.STTConfig{Provider: config.STTRelay}, rl)
	if err != nil || p != rl {
		t.Errorf("CreateSTT(relay) = %v, %v", p, err)
	}
	if _, err := r.CreateSTT(config.STTConfig{Provider: "deepgram"}, rl); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT(unregistered) = %v", err)
	}
	if _, err := r.CreateSTT(config.STTConfig{Provider: "broken"}, rl); err == nil || !strings.Contains(err.Error(), "no key") {
		t.Errorf("CreateSTT(broken) = %v", err)
	}
	if got := r.STTNames(); !slices.Equal(got, []string{"broken", "none", "relay"}) {
		t.Errorf("STTNames = %v", got)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "lastecho.yaml")
	catPath := filepath.Join(dir, "catalog.yaml")
	writeFile(t, catPath, "version: X\nnovice:\n  - phrase: 스매시\n    base_damage: 10\n")
	writeFile(t, cfgPath, "combat:\n  catalog_file: "+catPath+"\n")

	var (
		mu      sync.Mutex
		changes [][2]*config.Config
	)
	w, err := config.NewWatcher(cfgPath, func(old, cur *config.Config) {
		mu.Lock()
		changes = append(changes, [2]*config.Config{old, cur})
		mu.Unlock()
	}, config.WithInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(changes)
	}
	waitFor := func(n int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for count() < n {
			if time.Now().After(deadline) {
				t.Fatalf("saw %d reloads, want %d", count(), n)
			}
			time.Sleep(2 * time.Millisecond)
		}
	}

	writeFile(t, cfgPath, "server:\n  log_level: debug\ncombat:\n  catalog_file: "+catPath+"\n")
	waitFor(1)
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("current log level = %q", w.Current().Server.LogLevel)
	}

	// Editing only the referenced catalog also reloads.
	writeFile(t, catPath, "version: Y\nnovice:\n  - phrase: 스매시\n    base_damage: 12\n")
	waitFor(2)

	// An invalid edit is ignored.
	writeFile(t, cfgPath, "server:\n  log_level: loud\n")
	time.Sleep(30 * time.Millisecond)
	if count() != 2 || w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("invalid config applied: reloads=%d level=%q", count(), w.Current().Server.LogLevel)
	}
}

func TestNewWatcher_InvalidInitial(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "stt:\n  provider: carrier-pigeon\n")
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Error("NewWatcher accepted an invalid config")
	}
}
