// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// live WebSocket API. It implements the stt.Provider interface.
//
// The recorded utterance is streamed over the socket in fixed-size chunks,
// followed by a CloseStream message. Deepgram flushes its final results and
// closes the connection; all final transcripts are joined in order.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrWong99/sayso/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	providerName     = "deepgram"
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"

	// chunkSize is the number of audio bytes per binary frame.
	chunkSize = 8 << 10

	// readLimit bounds a single JSON message from Deepgram.
	readLimit = 1 << 20
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEndpoint overrides the live API endpoint. Tests point this at a local
// ws:// server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithLanguage sets the fallback language used when a request carries none.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// Provider implements stt.Provider backed by the Deepgram live API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// buildURL constructs the Deepgram live endpoint URL for lang.
func (p *Provider) buildURL(lang string) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	if lang != "" {
		q.Set("language", lang)
	}
	// Punctuation would only be stripped again before scoring.
	q.Set("punctuate", "false")
	q.Set("interim_results", "false")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Transcribe streams the decoded utterance to Deepgram and collects the final
// transcripts until the server closes the stream.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	audio, err := req.Audio()
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}

	wsURL, err := p.buildURL(req.Language)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		se := &stt.StatusError{Provider: providerName, Err: err}
		if resp != nil {
			se.StatusCode = resp.StatusCode
		}
		return nil, se
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	for off := 0; off < len(audio); off += chunkSize {
		end := min(off+chunkSize, len(audio))
		if err := conn.Write(ctx, websocket.MessageBinary, audio[off:end]); err != nil {
			return nil, &stt.StatusError{Provider: providerName, Err: fmt.Errorf("write audio: %w", err)}
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return nil, &stt.StatusError{Provider: providerName, Err: fmt.Errorf("close stream: %w", err)}
	}

	var (
		texts []string
		raws  []json.RawMessage
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if done, rerr := classifyClose(err); !done {
				return nil, rerr
			}
			break
		}
		text, final, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		raws = append(raws, json.RawMessage(msg))
		if final && strings.TrimSpace(text) != "" {
			texts = append(texts, strings.TrimSpace(text))
		}
	}

	raw, err := json.Marshal(raws)
	if err != nil {
		return nil, fmt.Errorf("deepgram: marshal raw results: %w", err)
	}
	return &stt.Result{
		Text:     strings.Join(texts, " "),
		Raw:      raw,
		Provider: providerName,
	}, nil
}

// classifyClose decides whether a read error ends the stream normally. Any
// other close status is a failure reported by Deepgram; everything else is a
// transport failure.
func classifyClose(err error) (done bool, out error) {
	switch status := websocket.CloseStatus(err); status {
	case websocket.StatusNormalClosure:
		return true, nil
	case -1:
		return false, &stt.StatusError{Provider: providerName, Err: err}
	default:
		var ce websocket.CloseError
		reason := err.Error()
		if errors.As(err, &ce) && ce.Reason != "" {
			reason = ce.Reason
		}
		details, _ := json.Marshal(map[string]any{"close_code": int(status), "reason": reason})
		return false, &stt.ReportedError{Provider: providerName, Details: details}
	}
}

// parseDeepgramResponse extracts the top alternative from a Results message.
// Returns ok=false for any other message type.
func parseDeepgramResponse(data []byte) (text string, final bool, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false, false
	}
	if resp.Type != "Results" {
		return "", false, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return "", resp.IsFinal, true
	}
	return resp.Channel.Alternatives[0].Transcript, resp.IsFinal, true
}
