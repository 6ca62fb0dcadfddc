package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/sayso/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across several STT
// backends, each behind its own circuit breaker.
//
// A request whose audio cannot be decoded is returned immediately: every
// backend would reject it the same way, and it says nothing about backend
// health.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend. cfg.Failover and cfg.CircuitBreaker.IsFailure are replaced with
// the STT policy.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	cfg.Failover = sttFailover
	cfg.CircuitBreaker.IsFailure = sttFailover
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends req to the first healthy backend and moves on to the next
// one on failure. When every backend fails the returned error wraps
// [ErrAllFailed] and the last backend's error.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	return ExecuteWithResult(f.group, func(name string, p stt.Provider) (*stt.Result, error) {
		res, err := p.Transcribe(ctx, req)
		if err != nil {
			return nil, err
		}
		if res != nil && res.Provider == "" {
			res.Provider = name
		}
		return res, nil
	})
}

// Stats returns the breaker snapshot of every backend, primary first.
func (f *STTFallback) Stats() []Stats {
	return f.group.Stats()
}

// sttFailover reports whether err reflects on the backend rather than on the
// request or the caller.
func sttFailover(err error) bool {
	return notCanceled(err) && !errors.Is(err, stt.ErrInvalidAudio)
}
