package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/sayso/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "remote", APIKey: "k", BaseURL: "https://x"}},
		Learners:  config.LearnersConfig{IDs: []string{"u1", "u2"}},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.LogLevelChanged || d.ScoringChanged || d.LearnersChanged() || len(d.RestartRequired) != 0 {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_Scoring(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Scoring.MaxTextRunes = 120

	if d := config.Diff(old, new); !d.ScoringChanged {
		t.Error("expected ScoringChanged=true")
	}

	new = baseConfig()
	new.Scoring.Routes = []string{"/score"}
	d := config.Diff(old, new)
	if d.ScoringChanged {
		t.Error("route change must not count as a hot scoring change")
	}
	if !slices.Contains(d.RestartRequired, "scoring.routes") {
		t.Errorf("RestartRequired = %v, want scoring.routes", d.RestartRequired)
	}
}

func TestDiff_Learners(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Learners.IDs = []string{"u2", "u3", "u3"}

	d := config.Diff(old, new)
	if !slices.Equal(d.LearnersAdded, []string{"u3"}) {
		t.Errorf("LearnersAdded = %v, want [u3]", d.LearnersAdded)
	}
	if !slices.Equal(d.LearnersRemoved, []string{"u1"}) {
		t.Errorf("LearnersRemoved = %v, want [u1]", d.LearnersRemoved)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, "server"},
		{"write timeout", func(c *config.Config) { c.Server.WriteTimeout = time.Second }, "server"},
		{"provider key", func(c *config.Config) { c.Providers.STT.APIKey = "rotated" }, "providers"},
		{"provider options", func(c *config.Config) {
			c.Providers.STT.Options = map[string]any{"nested": map[string]any{"a": 1}}
		}, "providers"},
		{"fallback added", func(c *config.Config) {
			c.Providers.STTFallbacks = append(c.Providers.STTFallbacks, config.ProviderEntry{Name: "openai", APIKey: "k"})
		}, "providers"},
		{"breaker", func(c *config.Config) { c.Resilience.MaxFailures = 1 }, "resilience"},
		{"dsn", func(c *config.Config) { c.Learners.PostgresDSN = "postgres://x" }, "learners"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tc.mutate(new)
			d := config.Diff(old, new)
			if !slices.Contains(d.RestartRequired, tc.want) {
				t.Errorf("RestartRequired = %v, want %q", d.RestartRequired, tc.want)
			}
		})
	}
}

func TestDiff_EqualNestedOptions(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	old.Providers.STT.Options = map[string]any{"nested": map[string]any{"a": 1}}
	new.Providers.STT.Options = map[string]any{"nested": map[string]any{"a": 1}}
	if d := config.Diff(old, new); len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none for equal nested options", d.RestartRequired)
	}
}
