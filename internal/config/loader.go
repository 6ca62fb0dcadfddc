package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the built-in STT provider names. Used by
// [Validate] to warn about unrecognised names.
var ValidProviderNames = []string{"remote", "openai", "deepgram", "whisper", "google"}

// requiredKeys lists the fields each built-in provider cannot start without.
// google needs none; it falls back to Application Default Credentials.
var requiredKeys = map[string][]string{
	"remote":   {"base_url", "api_key"},
	"openai":   {"api_key"},
	"deepgram": {"api_key"},
	"whisper":  {"base_url"},
	"google":   nil,
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references, applies defaults and validates the result.
//
// ${VAR} and $VAR are replaced with the value of the environment variable
// before decoding; unset variables expand to the empty string. A literal
// dollar sign is written as $$.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expandEnv(string(raw)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		if key == "$" {
			return "$"
		}
		return os.Getenv(key)
	})
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every problem found. Call [ApplyDefaults] first.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must not be negative, got %d", cfg.Server.MaxBodyBytes))
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("server.read_timeout and server.write_timeout must not be negative"))
	}

	// Scoring
	if cfg.Scoring.MaxTextRunes < 0 {
		errs = append(errs, fmt.Errorf("scoring.max_text_runes must not be negative, got %d", cfg.Scoring.MaxTextRunes))
	}
	seenRoutes := make(map[string]int, len(cfg.Scoring.Routes))
	for i, route := range cfg.Scoring.Routes {
		prefix := fmt.Sprintf("scoring.routes[%d]", i)
		if !strings.HasPrefix(route, "/") {
			errs = append(errs, fmt.Errorf("%s %q must start with /", prefix, route))
		}
		if prev, ok := seenRoutes[route]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of scoring.routes[%d]", prefix, route, prev))
		}
		seenRoutes[route] = i
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	} else {
		errs = append(errs, validateProviderEntry("providers.stt", cfg.Providers.STT)...)
	}
	seenProviders := map[string]string{cfg.Providers.STT.Name: "providers.stt"}
	for i, fb := range cfg.Providers.STTFallbacks {
		prefix := fmt.Sprintf("providers.stt_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seenProviders[fb.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is already used by %s", prefix, fb.Name, prev))
		}
		seenProviders[fb.Name] = prefix
		errs = append(errs, validateProviderEntry(prefix, fb)...)
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 || cfg.Resilience.HalfOpenMax < 0 || cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}
	if len(cfg.Providers.STTFallbacks) == 0 && cfg.Resilience != (ResilienceConfig{
		MaxFailures:  DefaultMaxFailures,
		ResetTimeout: DefaultResetTimeout,
		HalfOpenMax:  DefaultHalfOpenProbes,
	}) {
		slog.Warn("resilience settings only apply when providers.stt_fallbacks is configured")
	}

	// Learners
	if cfg.Learners.Verify && cfg.Learners.PostgresDSN == "" && len(cfg.Learners.IDs) == 0 {
		errs = append(errs, errors.New("learners.verify requires learners.postgres_dsn or learners.ids"))
	}
	if cfg.Learners.PostgresDSN != "" && len(cfg.Learners.IDs) > 0 {
		slog.Warn("learners.ids is ignored when learners.postgres_dsn is set")
	}
	for i, id := range cfg.Learners.IDs {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Errorf("learners.ids[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

// validateProviderEntry checks the keys a built-in provider needs and warns
// about unknown provider names.
func validateProviderEntry(prefix string, e ProviderEntry) []error {
	if !slices.Contains(ValidProviderNames, e.Name) {
		slog.Warn("unknown provider name; may be a typo or third-party provider",
			"field", prefix,
			"name", e.Name,
			"known", ValidProviderNames,
		)
		return nil
	}
	var errs []error
	for _, key := range requiredKeys[e.Name] {
		var val string
		switch key {
		case "api_key":
			val = e.APIKey
		case "base_url":
			val = e.BaseURL
		}
		if strings.TrimSpace(val) == "" {
			errs = append(errs, fmt.Errorf("%s.%s is required for provider %q", prefix, key, e.Name))
		}
	}
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
	}
	return errs
}
