package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, applies defaults and environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document. An empty document yields the defaults.
func Parse(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// LoadFromReader is [Parse] for an [io.Reader].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LevelInterval < 0 {
		errs = append(errs, errors.New("server.level_interval must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls needs both cert_file and key_file"))
	}

	if cfg.Combat.CatalogFile == "" && !slices.Contains([]string{"A", "B"}, strings.ToUpper(cfg.Combat.CatalogVersion)) {
		errs = append(errs, fmt.Errorf("combat.catalog_version %q is invalid; valid values: A, B", cfg.Combat.CatalogVersion))
	}
	if b := cfg.Combat.DefaultBaselineDB; b < 0 || b > 100 {
		errs = append(errs, fmt.Errorf("combat.default_baseline_db %.1f is out of range [0, 100]", b))
	}
	if h := cfg.Combat.HintThreshold; h < 0 || h > 1 {
		errs = append(errs, fmt.Errorf("combat.hint_threshold %.2f is out of range [0, 1]", h))
	}

	switch cfg.STT.Provider {
	case STTRelay, STTNone:
	case STTDeepgram:
		if cfg.STT.APIKey == "" {
			errs = append(errs, errors.New("stt.api_key (or LASTECHO_DEEPGRAM_API_KEY) is required for deepgram"))
		}
	default:
		errs = append(errs, fmt.Errorf("stt.provider %q is invalid; valid values: relay, deepgram, none", cfg.STT.Provider))
	}

	switch cfg.Storage.Backend {
	case StorageMemory:
	case StoragePostgres:
		if cfg.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn (or LASTECHO_POSTGRES_DSN) is required for postgres"))
		}
	case StorageSQLite:
		if cfg.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, postgres, sqlite", cfg.Storage.Backend))
	}

	if cfg.Reward.MaxFailures < 0 || cfg.Reward.ResetTimeout < 0 {
		errs = append(errs, errors.New("reward breaker settings must not be negative"))
	}
	return errors.Join(errs...)
}
