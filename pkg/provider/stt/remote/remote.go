// Package remote provides an STT provider that forwards audio to the
// speech-to-text edge function of the app backend.
//
// The function is invoked as POST <base>/speech-to-text with a JSON body
//
//	{"user_id": "...", "audio_base64": "...", "mime_type": "...", "language_code": "..."}
//
// and a bearer service credential. It answers with {"transcript": "..."} on
// success or {"error": ...} when the recogniser behind it failed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/sayso/pkg/provider/stt"
)

const (
	providerName = "remote"
	functionPath = "/speech-to-text"

	// maxResponseBody bounds how much of the function response is read.
	maxResponseBody = 1 << 20
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client. Transport-level timeouts
// belong here; the provider itself enforces none.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithPath overrides the function path appended to the base URL.
// Defaults to "/speech-to-text".
func WithPath(path string) Option {
	return func(p *Provider) {
		p.path = path
	}
}

// WithTimeout sets the HTTP client timeout. Defaults to 60 s. A client
// passed to [WithHTTPClient] is copied, never modified.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		c := *p.httpClient
		c.Timeout = d
		p.httpClient = &c
	}
}

// Provider implements stt.Provider backed by the speech-to-text function.
type Provider struct {
	baseURL    string
	apiKey     string
	path       string
	httpClient *http.Client
}

// New creates a Provider that calls the function below baseURL
// (e.g., "https://project.functions.example.com/functions/v1") using apiKey
// as bearer credential. Both must be non-empty.
func New(baseURL, apiKey string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("remote: baseURL must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("remote: apiKey must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		path:       functionPath,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// functionRequest is the JSON body sent to the function.
type functionRequest struct {
	UserID       string `json:"user_id"`
	AudioBase64  string `json:"audio_base64"`
	MimeType     string `json:"mime_type"`
	LanguageCode string `json:"language_code"`
}

// functionResponse is the JSON body returned by the function.
type functionResponse struct {
	Transcript *string         `json:"transcript"`
	Error      json.RawMessage `json:"error"`
}

// Transcribe posts the utterance to the function and returns its transcript.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	body, err := json.Marshal(functionRequest{
		UserID:       req.LearnerID,
		AudioBase64:  req.AudioBase64,
		MimeType:     req.MimeType,
		LanguageCode: req.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("remote: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &stt.StatusError{Provider: providerName, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &stt.StatusError{Provider: providerName, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &stt.StatusError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Body:       stt.TruncateBody(raw),
		}
	}

	return parseResponse(raw)
}

// parseResponse decodes a 2xx function response.
func parseResponse(raw []byte) (*stt.Result, error) {
	var fr functionResponse
	if err := json.Unmarshal(raw, &fr); err != nil {
		return nil, &stt.ReportedError{
			Provider: providerName,
			Details:  mustJSONString("malformed response: " + err.Error()),
		}
	}
	if hasValue(fr.Error) {
		return nil, &stt.ReportedError{Provider: providerName, Details: fr.Error}
	}

	res := &stt.Result{Raw: json.RawMessage(raw), Provider: providerName}
	if fr.Transcript != nil {
		res.Text = *fr.Transcript
	}
	return res, nil
}

// hasValue reports whether a raw JSON value is present and not null/false/"".
func hasValue(v json.RawMessage) bool {
	s := strings.TrimSpace(string(v))
	switch s {
	case "", "null", "false", `""`:
		return false
	}
	return true
}

func mustJSONString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
