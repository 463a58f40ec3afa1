// Package config defines the server's YAML configuration, its environment
// overrides, hot reloading and the speech provider registry.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the slog level, defaulting to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Speech recogniser names accepted in stt.provider.
const (
	STTRelay    = "relay"
	STTDeepgram = "deepgram"
	STTNone     = "none"
)

// Storage backends accepted in storage.backend.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Config is the root of the configuration file.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Combat  CombatConfig  `yaml:"combat"`
	STT     STTConfig     `yaml:"stt"`
	Storage StorageConfig `yaml:"storage"`
	Trials  TrialsConfig  `yaml:"trials"`
	Reward  RewardConfig  `yaml:"reward"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	ListenAddr string   `yaml:"listen_addr" env:"LASTECHO_LISTEN_ADDR"`
	LogLevel   LogLevel `yaml:"log_level" env:"LASTECHO_LOG_LEVEL"`

	// TLS enables HTTPS. Browsers only expose the microphone to secure
	// origins, so anything but a localhost deployment needs it (or a
	// terminating proxy).
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins are host patterns accepted for WebSocket upgrades in
	// addition to the server's own origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// LevelInterval throttles level messages pushed to clients.
	LevelInterval time.Duration `yaml:"level_interval"`
}

// TLSConfig names the PEM certificate and key.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// CombatConfig selects the keyword catalog and the combat defaults.
type CombatConfig struct {
	// CatalogVersion picks an embedded catalog ("A" or "B") when
	// CatalogFile is empty.
	CatalogVersion string `yaml:"catalog_version"`

	// CatalogFile loads the catalog from YAML instead; it is reloaded when
	// the config file changes.
	CatalogFile string `yaml:"catalog_file"`

	// MonstersFile replaces the embedded monster roster.
	MonstersFile string `yaml:"monsters_file"`

	// DefaultBaselineDB is used for players who never calibrated.
	DefaultBaselineDB float64 `yaml:"default_baseline_db"`

	// HintThreshold is the Jaro-Winkler score above which a near miss is
	// suggested. 0 selects the built-in default.
	HintThreshold float64 `yaml:"hint_threshold"`
}

// STTConfig selects the speech recogniser.
type STTConfig struct {
	// Provider is one of relay, deepgram or none.
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key" env:"LASTECHO_DEEPGRAM_API_KEY"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	Endpoint string `yaml:"endpoint"`
}

// StorageConfig selects where calibration profiles and player progress live.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn" env:"LASTECHO_POSTGRES_DSN"`
	Path    string `yaml:"path" env:"LASTECHO_SQLITE_PATH"`
}

// TrialsConfig optionally replaces the embedded trial catalog.
type TrialsConfig struct {
	File string `yaml:"file"`
}

// RewardConfig tunes the breaker in front of the progress store.
type RewardConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// DefaultLevelInterval is the minimum gap between level messages to one
// client.
const DefaultLevelInterval = 50 * time.Millisecond

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LevelInterval == 0 {
		cfg.Server.LevelInterval = DefaultLevelInterval
	}
	if cfg.Combat.CatalogVersion == "" && cfg.Combat.CatalogFile == "" {
		cfg.Combat.CatalogVersion = "B"
	}
	if cfg.Combat.DefaultBaselineDB == 0 {
		cfg.Combat.DefaultBaselineDB = 30
	}
	if cfg.STT.Provider == "" {
		cfg.STT.Provider = STTRelay
	}
	if cfg.STT.Language == "" {
		cfg.STT.Language = "ko"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageMemory
	}
	if cfg.Reward.MaxFailures == 0 {
		cfg.Reward.MaxFailures = 5
	}
	if cfg.Reward.ResetTimeout == 0 {
		cfg.Reward.ResetTimeout = 30 * time.Second
	}
}
