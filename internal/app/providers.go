package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/sayso/internal/config"
	"github.com/MrWong99/sayso/internal/observe"
	"github.com/MrWong99/sayso/internal/resilience"
	"github.com/MrWong99/sayso/pkg/provider/stt"
)

// BuildSTT instantiates the configured STT provider through reg. When
// fallbacks are configured the providers are chained in an
// [resilience.STTFallback] whose breaker transitions are counted on m;
// otherwise the single provider is returned unwrapped.
func BuildSTT(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (stt.Provider, error) {
	primary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	if len(cfg.Providers.STTFallbacks) == 0 {
		return primary, nil
	}

	rc := cfg.Resilience
	fb := resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  rc.MaxFailures,
			ResetTimeout: rc.ResetTimeout,
			HalfOpenMax:  rc.HalfOpenMax,
			OnStateChange: func(name string, _, to resilience.State) {
				m.RecordCircuitTransition(context.Background(), name, to.String())
			},
		},
	})
	for _, entry := range cfg.Providers.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "stt_fallback", "name", entry.Name)
	}
	return fb, nil
}
