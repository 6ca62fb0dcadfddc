package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/sayso/internal/learner"
	"github.com/MrWong99/sayso/internal/observe"
	"github.com/MrWong99/sayso/internal/pronunciation"
	"github.com/MrWong99/sayso/internal/pronunciation/phonetic"
	"github.com/MrWong99/sayso/pkg/provider/stt"
)

// ErrLearnerNotFound is returned by [Service.Score] when learner
// verification is enabled and the learner is unknown or could not be looked
// up.
var ErrLearnerNotFound = errors.New("scoring: learner not found")

// Outcome is the result of one scoring attempt.
type Outcome struct {
	// Transcript is the text returned by the provider, untrimmed.
	Transcript string

	// Empty is true when the provider recognised no speech. Result is then
	// the zero value.
	Empty bool

	// Result holds normalized strings, distance, similarity and verdict.
	Result pronunciation.Result

	// Raw is the provider's response payload.
	Raw json.RawMessage

	// Provider names the backend that produced the transcript.
	Provider string

	// Hints are per-word diagnostics, computed only for debug requests.
	Hints []phonetic.Hint
}

// Scorer performs one scoring attempt. [*Service] is the production
// implementation.
type Scorer interface {
	Score(ctx context.Context, req Request) (*Outcome, error)
}

// Service orchestrates a scoring attempt. It holds no per-request state and
// is safe for concurrent use.
type Service struct {
	stt      stt.Provider
	learners learner.Store
	metrics  *observe.Metrics
	hints    *phonetic.Matcher
}

// Compile-time interface check.
var _ Scorer = (*Service)(nil)

// Option configures a [Service].
type Option func(*Service)

// WithLearnerStore enables learner verification against store.
func WithLearnerStore(store learner.Store) Option {
	return func(s *Service) { s.learners = store }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithHints sets the matcher used for debug word hints. Default:
// [phonetic.New] with default thresholds.
func WithHints(m *phonetic.Matcher) Option {
	return func(s *Service) { s.hints = m }
}

// NewService returns a [Service] that transcribes through provider.
func NewService(provider stt.Provider, opts ...Option) *Service {
	s := &Service{stt: provider}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.hints == nil {
		s.hints = phonetic.New()
	}
	return s
}

// Score runs one attempt. req must come from [DecodeRequest].
//
// The provider is called exactly once; cancellation of ctx abandons the
// upstream call. Provider failures are returned wrapped, so errors.As finds
// [*stt.StatusError] and [*stt.ReportedError]. A blank transcript yields an
// Outcome with Empty set and no error.
func (s *Service) Score(ctx context.Context, req Request) (*Outcome, error) {
	ctx, span := observe.StartSpan(ctx, "scoring.Score")
	defer span.End()
	span.SetAttributes(
		attribute.String("learner.id", req.LearnerID),
		attribute.String("language", req.Language),
	)

	if err := s.verifyLearner(ctx, req.LearnerID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res, err := s.transcribe(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		return nil, fmt.Errorf("scoring: transcribe: %w", err)
	}

	out := &Outcome{
		Transcript: res.Text,
		Raw:        res.Raw,
		Provider:   res.Provider,
	}
	if strings.TrimSpace(res.Text) == "" {
		out.Empty = true
		span.SetAttributes(attribute.Bool("transcript.empty", true))
		return out, nil
	}

	out.Result = pronunciation.Score(res.Text, req.ExpectedText)
	if req.Debug {
		out.Hints = s.hints.Hints(out.Result.NormalizedTranscript, out.Result.NormalizedExpected)
	}
	s.metrics.RecordSimilarity(ctx, req.Language, out.Result.Similarity)
	span.SetAttributes(
		attribute.Float64("similarity", out.Result.Similarity),
		attribute.Bool("acceptable", out.Result.Acceptable),
	)
	return out, nil
}

// verifyLearner returns [ErrLearnerNotFound] for unknown learners. Lookup
// faults are logged and reported the same way: an unverifiable learner is
// never scored.
func (s *Service) verifyLearner(ctx context.Context, id string) error {
	if s.learners == nil {
		return nil
	}
	ok, err := s.learners.Exists(ctx, id)
	if err != nil {
		observe.Logger(ctx).Error("learner lookup failed; treating as not found",
			"learner_id", id, "err", err)
		return fmt.Errorf("%w: lookup failed", ErrLearnerNotFound)
	}
	if !ok {
		return ErrLearnerNotFound
	}
	return nil
}

func (s *Service) transcribe(ctx context.Context, req Request) (*stt.Result, error) {
	s.metrics.InFlight.Add(ctx, 1)
	defer s.metrics.InFlight.Add(ctx, -1)

	start := time.Now()
	res, err := s.stt.Transcribe(ctx, req.STTRequest())
	elapsed := time.Since(start)

	provider := ""
	if res != nil {
		provider = res.Provider
	}
	if err != nil {
		provider = providerOf(err)
	}
	s.metrics.RecordSTTCall(ctx, provider, elapsed, ErrorKind(err))

	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("provider returned no result")
	}
	return res, nil
}

// ErrorKind classifies a transcription error for metrics and logs. It
// returns "" for a nil error.
func ErrorKind(err error) string {
	var (
		statusErr   *stt.StatusError
		reportedErr *stt.ReportedError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, stt.ErrInvalidAudio):
		return "invalid_audio"
	case errors.As(err, &reportedErr):
		return "reported"
	case errors.As(err, &statusErr):
		if statusErr.StatusCode == 0 {
			return "transport"
		}
		return "status"
	default:
		return "other"
	}
}

// providerOf extracts the provider name from a typed upstream error.
func providerOf(err error) string {
	var statusErr *stt.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Provider
	}
	var reportedErr *stt.ReportedError
	if errors.As(err, &reportedErr) {
		return reportedErr.Provider
	}
	return "unknown"
}
