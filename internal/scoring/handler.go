package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync/atomic"

	"github.com/MrWong99/sayso/internal/observe"
	"github.com/MrWong99/sayso/internal/pronunciation/phonetic"
	"github.com/MrWong99/sayso/internal/resilience"
	"github.com/MrWong99/sayso/pkg/provider/stt"
)

// Messages returned in the error member of response bodies.
const (
	MsgMethodNotAllowed = "Method not allowed. Use POST."
	MsgInvalidRequest   = "Invalid request"
	MsgBodyTooLarge     = "Request body too large"
	MsgLearnerNotFound  = "User not found or not authorized"
	MsgUpstreamFailed   = "Speech-to-text request failed"
	MsgUpstreamReported = "STT error"
	MsgEmptyTranscript  = "No transcript returned from speech-to-text."
	MsgInternal         = "Internal server error"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes = 10 << 20

// successResponse is the body of a scored attempt.
type successResponse struct {
	Transcript           string     `json:"transcript"`
	ExpectedText         string     `json:"expected_text"`
	NormalizedTranscript string     `json:"normalized_transcript"`
	NormalizedExpected   string     `json:"normalized_expected"`
	SimilarityScore      float64    `json:"similarity_score"`
	PronunciationScore   float64    `json:"pronunciation_score"`
	IsAcceptable         bool       `json:"is_acceptable"`
	Debug                *debugInfo `json:"debug,omitempty"`
}

// debugInfo is attached when the request asked for debug output.
type debugInfo struct {
	STTRaw    json.RawMessage `json:"stt_raw"`
	Provider  string          `json:"provider,omitempty"`
	Distance  *int            `json:"distance,omitempty"`
	WordHints []phonetic.Hint `json:"word_hints,omitempty"`
}

// errorResponse is the body of every non-success outcome.
type errorResponse struct {
	Error      string     `json:"error"`
	Violations []string   `json:"violations,omitempty"`
	Status     int        `json:"status,omitempty"`
	Details    any        `json:"details,omitempty"`
	Debug      *debugInfo `json:"debug,omitempty"`
}

// Handler serves the scoring endpoint.
type Handler struct {
	svc     Scorer
	metrics *observe.Metrics
	maxBody int64
	limits  atomic.Pointer[Limits]
}

// HandlerOption configures a [Handler].
type HandlerOption func(*Handler)

// WithLimits sets the request defaults and bounds. Default: [DefaultLimits].
func WithLimits(l Limits) HandlerOption {
	return func(h *Handler) { h.limits.Store(&l) }
}

// WithMaxBodyBytes caps the request body size. Default: [DefaultMaxBodyBytes].
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithHandlerMetrics overrides the metrics sink. Default:
// [observe.DefaultMetrics].
func WithHandlerMetrics(m *observe.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler returns a [Handler] backed by svc.
func NewHandler(svc Scorer, opts ...HandlerOption) *Handler {
	h := &Handler{svc: svc, maxBody: DefaultMaxBodyBytes}
	defaults := DefaultLimits()
	h.limits.Store(&defaults)
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// SetLimits swaps the request limits for subsequent requests. Safe to call
// while serving.
func (h *Handler) SetLimits(l Limits) {
	h.limits.Store(&l)
}

// Limits returns the limits currently in effect.
func (h *Handler) Limits() Limits {
	return *h.limits.Load()
}

// Register mounts the handler at each route. Routes are registered for all
// methods so that non-POST requests get a JSON 405 from the handler itself.
func (h *Handler) Register(mux *http.ServeMux, routes ...string) {
	for _, route := range routes {
		mux.Handle(route, h)
	}
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic while scoring",
				"panic", p,
				"stack", string(debug.Stack()))
			h.metrics.RecordOutcome(ctx, observe.OutcomeInternal)
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Error:   MsgInternal,
				Details: fmt.Sprint(p),
			})
		}
	}()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: MsgMethodNotAllowed})
		return
	}

	req, err := DecodeRequest(http.MaxBytesReader(w, r.Body, h.maxBody), h.Limits())
	if err != nil {
		h.writeDecodeError(w, r, err)
		return
	}
	log = log.With("learner_id", req.LearnerID)

	out, err := h.svc.Score(ctx, req)
	if err != nil {
		h.writeScoreError(w, r, log, req, err)
		return
	}

	var dbg *debugInfo
	if req.Debug {
		dbg = &debugInfo{STTRaw: out.Raw, Provider: out.Provider}
	}

	if out.Empty {
		log.Info("no transcript returned", "provider", out.Provider)
		h.metrics.RecordOutcome(ctx, observe.OutcomeEmpty)
		writeJSON(w, http.StatusOK, errorResponse{Error: MsgEmptyTranscript, Debug: dbg})
		return
	}

	res := out.Result
	if dbg != nil {
		dist := res.Distance
		dbg.Distance = &dist
		dbg.WordHints = out.Hints
	}
	outcome := observe.OutcomeRejected
	if res.Acceptable {
		outcome = observe.OutcomeAccepted
	}
	h.metrics.RecordOutcome(ctx, outcome)
	log.Debug("attempt scored",
		"provider", out.Provider,
		"similarity", res.Similarity,
		"acceptable", res.Acceptable)

	writeJSON(w, http.StatusOK, successResponse{
		Transcript:           out.Transcript,
		ExpectedText:         req.ExpectedText,
		NormalizedTranscript: res.NormalizedTranscript,
		NormalizedExpected:   res.NormalizedExpected,
		SimilarityScore:      res.Similarity,
		PronunciationScore:   res.Similarity,
		IsAcceptable:         res.Acceptable,
		Debug:                dbg,
	})
}

func (h *Handler) writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		log.Warn("request body too large", "limit", tooLarge.Limit)
		h.metrics.RecordOutcome(ctx, observe.OutcomeInvalid)
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: MsgBodyTooLarge})
		return
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		log.Warn("failed to read request body", "err", err)
		h.metrics.RecordOutcome(ctx, observe.OutcomeInvalid)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: MsgInvalidRequest, Details: err.Error()})
		return
	}
	log.Warn("invalid scoring request", "violations", verr.Violations)
	h.metrics.RecordOutcome(ctx, observe.OutcomeInvalid)
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:      MsgInvalidRequest + ": " + verr.Violations[0],
		Violations: verr.Violations,
	})
}

func (h *Handler) writeScoreError(w http.ResponseWriter, r *http.Request, log *slog.Logger, req Request, err error) {
	ctx := r.Context()

	var (
		statusErr   *stt.StatusError
		reportedErr *stt.ReportedError
	)
	switch {
	case errors.Is(err, ErrLearnerNotFound):
		log.Warn("unknown learner", "err", err)
		h.metrics.RecordOutcome(ctx, observe.OutcomeUnknownLearner)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: MsgLearnerNotFound})

	case errors.Is(err, stt.ErrInvalidAudio):
		log.Warn("provider rejected audio", "err", err)
		h.metrics.RecordOutcome(ctx, observe.OutcomeInvalid)
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:      MsgInvalidRequest + ": audio_base64 is not valid base64",
			Violations: []string{"audio_base64 is not valid base64"},
		})

	case errors.As(err, &reportedErr):
		log.Error("speech-to-text reported an error",
			"provider", reportedErr.Provider,
			"details", string(reportedErr.Details))
		h.metrics.RecordOutcome(ctx, observe.OutcomeUpstream)
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:   MsgUpstreamReported,
			Details: reportedErr.Details,
		})

	case errors.As(err, &statusErr):
		log.Error("speech-to-text request failed",
			"provider", statusErr.Provider,
			"status", statusErr.StatusCode,
			"err", err)
		h.metrics.RecordOutcome(ctx, observe.OutcomeUpstream)
		body := errorResponse{Error: MsgUpstreamFailed, Status: statusErr.StatusCode}
		if req.Debug {
			body.Details = upstreamDetails(statusErr)
		}
		writeJSON(w, http.StatusBadGateway, body)

	case errors.Is(err, resilience.ErrAllFailed):
		// Every backend was skipped with an open circuit.
		log.Error("no speech-to-text backend available", "err", err)
		h.metrics.RecordOutcome(ctx, observe.OutcomeUpstream)
		body := errorResponse{Error: MsgUpstreamFailed}
		if req.Debug {
			body.Details = err.Error()
		}
		writeJSON(w, http.StatusBadGateway, body)

	default:
		log.Error("scoring failed", "err", err)
		h.metrics.RecordOutcome(ctx, observe.OutcomeInternal)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   MsgInternal,
			Details: err.Error(),
		})
	}
}

// upstreamDetails returns the failing response body, or the transport error
// when no response was received.
func upstreamDetails(e *stt.StatusError) string {
	if e.StatusCode == 0 && e.Err != nil {
		return e.Err.Error()
	}
	return e.Body
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode response", "err", err)
		http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
