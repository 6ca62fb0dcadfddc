// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (the speech-to-text edge
// function, OpenAI, Deepgram) behind a single batch call: one recorded
// utterance in, one transcript out. Pronunciation scoring needs nothing more
// than the final text, so there is no streaming surface here.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Request describes a single recorded utterance to transcribe.
type Request struct {
	// LearnerID identifies the learner who recorded the audio. Providers that
	// forward it upstream (the edge function does) use it for attribution only.
	LearnerID string

	// AudioBase64 is the recorded audio, standard base64 encoded. Providers
	// that talk to a vendor directly decode it with [Request.Audio].
	AudioBase64 string

	// MimeType is the container type of the audio (e.g., "audio/aac").
	MimeType string

	// Language is the BCP-47 language tag for recognition (e.g., "th-TH").
	Language string
}

// Audio returns the decoded audio bytes.
func (r Request) Audio() ([]byte, error) {
	return decodeBase64(r.AudioBase64)
}

// Result is the transcript returned by a provider.
type Result struct {
	// Text is the recognised speech. Empty means the call succeeded but no
	// speech was recognised.
	Text string

	// Raw is the upstream response payload, kept verbatim for debug output.
	Raw json.RawMessage

	// Provider is the name of the provider that produced the result.
	Provider string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe sends the utterance to the backend and waits for the
	// transcript. It returns a [*StatusError] when the backend could not be
	// reached or answered with a non-success status, and a [*ReportedError]
	// when the backend answered but reported a failure of its own.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// StatusError reports a transport-level failure: the backend was unreachable
// or answered with a non-2xx HTTP status.
type StatusError struct {
	// Provider is the name of the failing provider.
	Provider string

	// StatusCode is the HTTP status returned by the backend, or 0 when no
	// response was received at all.
	StatusCode int

	// Body is the (possibly truncated) response body, if any.
	Body string

	// Err is the underlying transport error when StatusCode is 0.
	Err error
}

func (e *StatusError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("stt: %s: request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("stt: %s: unexpected status %d %s", e.Provider, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) Unwrap() error { return e.Err }

// ReportedError reports a backend that was reached successfully but returned
// an error in its payload.
type ReportedError struct {
	// Provider is the name of the failing provider.
	Provider string

	// Details is the error value exactly as the backend reported it.
	Details json.RawMessage
}

func (e *ReportedError) Error() string {
	return fmt.Sprintf("stt: %s: backend reported error: %s", e.Provider, string(e.Details))
}

// ErrInvalidAudio is returned when the request audio is not valid base64.
var ErrInvalidAudio = errors.New("stt: audio is not valid base64")

// maxErrorBody bounds how much of a failing response body is kept.
const maxErrorBody = 4 << 10

// TruncateBody returns at most 4 KiB of body as a string.
func TruncateBody(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}
