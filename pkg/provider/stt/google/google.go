// Package google provides an STT provider backed by the Google Cloud
// Speech-to-Text v1 API (synchronous Recognize over gRPC).
//
// Authentication follows the Google client libraries: an explicit
// credentials file, an API key, or Application Default Credentials when
// neither is configured.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/MrWong99/sayso/pkg/provider/stt"
)

const providerName = "google"

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	model         string
	sampleRate    int32
	punctuation   bool
	clientOptions []option.ClientOption
}

// Option is a functional option for Provider.
type Option func(*config)

// WithCredentialsFile authenticates with the service account key at path.
func WithCredentialsFile(path string) Option {
	return func(c *config) {
		c.clientOptions = append(c.clientOptions, option.WithCredentialsFile(path))
	}
}

// WithAPIKey authenticates with an API key instead of service credentials.
func WithAPIKey(key string) Option {
	return func(c *config) {
		c.clientOptions = append(c.clientOptions, option.WithAPIKey(key))
	}
}

// WithEndpoint overrides the API endpoint (host:port).
func WithEndpoint(endpoint string) Option {
	return func(c *config) {
		c.clientOptions = append(c.clientOptions, option.WithEndpoint(endpoint))
	}
}

// WithClientOptions appends raw client options, e.g. to dial a local
// emulator without TLS.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(c *config) {
		c.clientOptions = append(c.clientOptions, opts...)
	}
}

// WithModel selects the recognition model ("default", "latest_short", ...).
// Empty leaves the API default.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithSampleRate sets the sample rate for headerless audio. Zero lets the
// API read it from the container header.
func WithSampleRate(hz int32) Option {
	return func(c *config) {
		c.sampleRate = hz
	}
}

// WithPunctuation toggles automatic punctuation. Off by default; the
// scorer strips punctuation anyway.
func WithPunctuation(on bool) Option {
	return func(c *config) {
		c.punctuation = on
	}
}

// recognizer is the subset of [speech.Client] the provider calls.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
	Close() error
}

// Provider implements stt.Provider using Google Cloud Speech-to-Text.
type Provider struct {
	client      recognizer
	model       string
	sampleRate  int32
	punctuation bool
}

// New dials the Speech-to-Text API. The returned Provider owns a gRPC
// connection; call [Provider.Close] when done.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	client, err := speech.NewClient(ctx, cfg.clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("google: create speech client: %w", err)
	}
	return newWithClient(client, cfg), nil
}

func newWithClient(client recognizer, cfg *config) *Provider {
	return &Provider{
		client:      client,
		model:       cfg.model,
		sampleRate:  cfg.sampleRate,
		punctuation: cfg.punctuation,
	}
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Transcribe sends the decoded audio inline and joins the top alternative
// of every result into one transcript.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	audio, err := req.Audio()
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}

	rr := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   encodingFor(req.MimeType),
			SampleRateHertz:            p.sampleRate,
			LanguageCode:               req.Language,
			Model:                      p.model,
			EnableAutomaticPunctuation: p.punctuation,
			MaxAlternatives:            1,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}

	// Retries are the caller's decision.
	resp, err := p.client.Recognize(ctx, rr, gax.WithRetry(func() gax.Retryer { return nil }))
	if err != nil {
		return nil, classifyError(err)
	}

	var b strings.Builder
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.TrimSpace(alts[0].GetTranscript()))
	}

	var raw json.RawMessage
	if out, err := protojson.Marshal(resp); err == nil {
		raw = out
	}
	return &stt.Result{
		Text:     strings.TrimSpace(b.String()),
		Raw:      raw,
		Provider: providerName,
	}, nil
}

// classifyError maps a gRPC status onto the stt error taxonomy. Errors
// without a status, and cancellations, carry no status code.
func classifyError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &stt.StatusError{Provider: providerName, Err: err}
	}
	code := httpStatus(st.Code())
	se := &stt.StatusError{Provider: providerName, StatusCode: code, Err: err}
	if code != 0 {
		se.Body = stt.TruncateBody([]byte(st.Message()))
	}
	return se
}

// httpStatus follows the google.rpc.Code to HTTP mapping.
func httpStatus(c codes.Code) int {
	switch c {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return http.StatusInternalServerError
	default:
		return 0
	}
}

// encodingFor maps a MIME type onto a v1 audio encoding. Containers the API
// cannot decode (AAC, MP4) map to ENCODING_UNSPECIFIED and the API answers
// InvalidArgument.
func encodingFor(mimeType string) speechpb.RecognitionConfig_AudioEncoding {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/l16":
		return speechpb.RecognitionConfig_LINEAR16
	case "audio/flac", "audio/x-flac":
		return speechpb.RecognitionConfig_FLAC
	case "audio/mpeg", "audio/mp3":
		return speechpb.RecognitionConfig_MP3
	case "audio/ogg", "audio/opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "audio/webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	case "audio/amr":
		return speechpb.RecognitionConfig_AMR
	case "audio/amr-wb":
		return speechpb.RecognitionConfig_AMR_WB
	case "audio/basic", "audio/mulaw":
		return speechpb.RecognitionConfig_MULAW
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
