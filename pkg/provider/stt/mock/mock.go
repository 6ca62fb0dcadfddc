// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to script the transcript (or error) returned to the caller and
// to verify which requests were sent upstream.
//
// Example:
//
//	p := &mock.Provider{Result: &stt.Result{Text: "สวัสดีครับ"}}
//	res, _ := p.Transcribe(ctx, req)
//	_ = p.Calls() // one recorded request
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sayso/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil. A nil Result yields
	// an empty transcript.
	Result *stt.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if set, overrides Result and Err.
	TranscribeFunc func(ctx context.Context, req stt.Request) (*stt.Result, error)

	calls []stt.Request
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns the scripted outcome.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	fn, res, err := p.TranscribeFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &stt.Result{Provider: "mock"}, nil
	}
	out := *res
	if out.Provider == "" {
		out.Provider = "mock"
	}
	return &out, nil
}

// Calls returns a copy of every request passed to Transcribe. Thread-safe.
func (p *Provider) Calls() []stt.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]stt.Request, len(p.calls))
	copy(out, p.calls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
