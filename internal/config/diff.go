package config

import "slices"

// ConfigDiff lists what changed between two configs. Catalog, trial and log
// level changes are applied live; everything in RestartRequired only takes
// effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CatalogChanged is set when the catalog version or file changed. The
	// file's contents are compared by the watcher, not here.
	CatalogChanged bool
	TrialsChanged  bool

	// RestartRequired names the changed settings that cannot be hot-applied.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.CatalogChanged && !d.TrialsChanged && len(d.RestartRequired) == 0
}

// Diff compares two configs.
func Diff(old, cur *Config) ConfigDiff {
	var d ConfigDiff
	if old.Server.LogLevel != cur.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = cur.Server.LogLevel
	}
	if old.Combat.CatalogVersion != cur.Combat.CatalogVersion || old.Combat.CatalogFile != cur.Combat.CatalogFile {
		d.CatalogChanged = true
	}
	d.TrialsChanged = old.Trials != cur.Trials

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != cur.Server.ListenAddr)
	restart("server.tls", !sameTLS(old.Server.TLS, cur.Server.TLS))
	restart("server.allowed_origins", !slices.Equal(old.Server.AllowedOrigins, cur.Server.AllowedOrigins))
	restart("server.level_interval", old.Server.LevelInterval != cur.Server.LevelInterval)
	restart("combat.monsters_file", old.Combat.MonstersFile != cur.Combat.MonstersFile)
	restart("combat.default_baseline_db", old.Combat.DefaultBaselineDB != cur.Combat.DefaultBaselineDB)
	restart("combat.hint_threshold", old.Combat.HintThreshold != cur.Combat.HintThreshold)
	restart("stt", old.STT != cur.STT)
	restart("storage", old.Storage != cur.Storage)
	restart("reward", old.Reward != cur.Reward)
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
