package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ScoringChanged is true when request defaults or limits changed.
	ScoringChanged bool

	// LearnersAdded and LearnersRemoved list static allowlist changes.
	LearnersAdded   []string
	LearnersRemoved []string

	// RestartRequired lists changed sections that only take effect after a
	// restart.
	RestartRequired []string
}

// LearnersChanged reports whether the static allowlist changed.
func (d ConfigDiff) LearnersChanged() bool {
	return len(d.LearnersAdded) > 0 || len(d.LearnersRemoved) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Scoring.DefaultMimeType != new.Scoring.DefaultMimeType ||
		old.Scoring.DefaultLanguage != new.Scoring.DefaultLanguage ||
		old.Scoring.MaxTextRunes != new.Scoring.MaxTextRunes {
		d.ScoringChanged = true
	}

	d.LearnersAdded, d.LearnersRemoved = diffSets(old.Learners.IDs, new.Learners.IDs)

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.ReadTimeout != new.Server.ReadTimeout ||
		old.Server.WriteTimeout != new.Server.WriteTimeout ||
		old.Server.MaxBodyBytes != new.Server.MaxBodyBytes {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !slices.Equal(old.Scoring.Routes, new.Scoring.Routes) {
		d.RestartRequired = append(d.RestartRequired, "scoring.routes")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Resilience != new.Resilience {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}
	if old.Learners.Verify != new.Learners.Verify ||
		old.Learners.PostgresDSN != new.Learners.PostgresDSN ||
		old.Learners.Table != new.Learners.Table {
		d.RestartRequired = append(d.RestartRequired, "learners")
	}

	return d
}

// diffSets returns the elements only in b (added) and only in a (removed),
// each in input order.
func diffSets(a, b []string) (added, removed []string) {
	for _, id := range b {
		if !slices.Contains(a, id) && !slices.Contains(added, id) {
			added = append(added, id)
		}
	}
	for _, id := range a {
		if !slices.Contains(b, id) && !slices.Contains(removed, id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) && slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, entryEqual)
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL ||
		a.Model != b.Model || a.Timeout != b.Timeout {
		return false
	}
	if len(a.Options) == 0 && len(b.Options) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
