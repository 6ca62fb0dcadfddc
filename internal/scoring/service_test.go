package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/sayso/internal/learner"
	"github.com/MrWong99/sayso/internal/observe"
	"github.com/MrWong99/sayso/pkg/provider/stt"
	"github.com/MrWong99/sayso/pkg/provider/stt/mock"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counterValue sums the data points of an int64 counter whose attributes
// include want.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string, want attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(want.Key); ok && v == want.Value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func testRequest(expected string) Request {
	return Request{
		LearnerID:    "learner-1",
		AudioBase64:  validAudio,
		MimeType:     "audio/aac",
		Language:     "th-TH",
		ExpectedText: expected,
	}
}

// failingStore reports a fault on every lookup.
type failingStore struct{}

func (failingStore) Exists(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}
func (failingStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestService_ScoreIdenticalThai(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	p := &mock.Provider{Result: &stt.Result{Text: "สวัสดีครับ", Raw: json.RawMessage(`{"transcript":"สวัสดีครับ"}`)}}
	svc := NewService(p, WithMetrics(m))

	out, err := svc.Score(context.Background(), testRequest("สวัสดีครับ"))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if out.Empty {
		t.Fatal("Empty = true, want false")
	}
	if out.Result.Similarity != 1 || !out.Result.Acceptable {
		t.Errorf("similarity %v acceptable %v, want 1 true", out.Result.Similarity, out.Result.Acceptable)
	}
	if out.Provider != "mock" {
		t.Errorf("Provider = %q, want mock", out.Provider)
	}
	if string(out.Raw) != `{"transcript":"สวัสดีครับ"}` {
		t.Errorf("Raw = %s", out.Raw)
	}
	if out.Hints != nil {
		t.Errorf("Hints = %v, want nil without debug", out.Hints)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(calls))
	}
	if calls[0].LearnerID != "learner-1" || calls[0].Language != "th-TH" {
		t.Errorf("upstream request = %+v", calls[0])
	}

	if got := counterValue(t, reader, "sayso.stt.requests", observe.Attr("status", "ok")); got != 1 {
		t.Errorf("ok requests = %d, want 1", got)
	}
}

func TestService_ScorePartialMatch(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Result: &stt.Result{Text: "hello"}}
	svc := NewService(p)

	req := testRequest("hello there")
	req.Debug = true
	out, err := svc.Score(context.Background(), req)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if out.Result.Distance != 6 {
		t.Errorf("Distance = %d, want 6", out.Result.Distance)
	}
	if want := 1 - 6.0/11.0; math.Abs(out.Result.Similarity-want) > 1e-9 {
		t.Errorf("Similarity = %v, want %v", out.Result.Similarity, want)
	}
	if out.Result.Acceptable {
		t.Error("Acceptable = true, want false")
	}
	if len(out.Hints) != 2 {
		t.Fatalf("hints = %d, want one per expected word", len(out.Hints))
	}
	if out.Hints[0].Expected != "hello" || !out.Hints[0].Exact {
		t.Errorf("hint[0] = %+v, want exact match on hello", out.Hints[0])
	}
}

func TestService_EmptyTranscript(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", "   \n"} {
		p := &mock.Provider{Result: &stt.Result{Text: text}}
		out, err := NewService(p).Score(context.Background(), testRequest("สวัสดี"))
		if err != nil {
			t.Fatalf("Score(%q): %v", text, err)
		}
		if !out.Empty {
			t.Errorf("Score(%q).Empty = false, want true", text)
		}
		if out.Result.Similarity != 0 || out.Result.Acceptable {
			t.Errorf("Score(%q) produced a score: %+v", text, out.Result)
		}
	}
}

func TestService_UpstreamErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantKind string
	}{
		{"status", &stt.StatusError{Provider: "remote", StatusCode: 500, Body: "boom"}, "status"},
		{"transport", &stt.StatusError{Provider: "remote", Err: errors.New("dial tcp")}, "transport"},
		{"reported", &stt.ReportedError{Provider: "remote", Details: json.RawMessage(`"quota"`)}, "reported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, reader := newTestMetrics(t)
			p := &mock.Provider{Err: tt.err}

			_, err := NewService(p, WithMetrics(m)).Score(context.Background(), testRequest("hi"))
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want wrapping %v", err, tt.err)
			}
			if got := ErrorKind(err); got != tt.wantKind {
				t.Errorf("ErrorKind = %q, want %q", got, tt.wantKind)
			}
			if got := counterValue(t, reader, "sayso.stt.errors", observe.Attr("kind", tt.wantKind)); got != 1 {
				t.Errorf("errors{kind=%s} = %d, want 1", tt.wantKind, got)
			}
			if got := counterValue(t, reader, "sayso.stt.requests", observe.Attr("provider", "remote")); got != 1 {
				t.Errorf("requests{provider=remote} = %d, want 1", got)
			}
		})
	}
}

func TestService_LearnerVerification(t *testing.T) {
	t.Parallel()

	store := learner.NewMemStore("learner-1")

	t.Run("known", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{Result: &stt.Result{Text: "hi"}}
		if _, err := NewService(p, WithLearnerStore(store)).Score(context.Background(), testRequest("hi")); err != nil {
			t.Fatalf("Score: %v", err)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{Result: &stt.Result{Text: "hi"}}
		req := testRequest("hi")
		req.LearnerID = "stranger"
		_, err := NewService(p, WithLearnerStore(store)).Score(context.Background(), req)
		if !errors.Is(err, ErrLearnerNotFound) {
			t.Fatalf("err = %v, want ErrLearnerNotFound", err)
		}
		if n := len(p.Calls()); n != 0 {
			t.Errorf("provider calls = %d, want 0", n)
		}
	})

	t.Run("store fault", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{Result: &stt.Result{Text: "hi"}}
		_, err := NewService(p, WithLearnerStore(failingStore{})).Score(context.Background(), testRequest("hi"))
		if !errors.Is(err, ErrLearnerNotFound) {
			t.Fatalf("err = %v, want ErrLearnerNotFound", err)
		}
		if n := len(p.Calls()); n != 0 {
			t.Errorf("provider calls = %d, want 0", n)
		}
	})
}

func TestService_CancellationReachesProvider(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := &mock.Provider{TranscribeFunc: func(ctx context.Context, _ stt.Request) (*stt.Result, error) {
		cancel()
		<-ctx.Done()
		return nil, &stt.StatusError{Provider: "remote", Err: ctx.Err()}
	}}

	_, err := NewService(p).Score(ctx, testRequest("hi"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := ErrorKind(err); got != "canceled" {
		t.Errorf("ErrorKind = %q, want canceled", got)
	}
}

func TestService_NilResult(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{TranscribeFunc: func(context.Context, stt.Request) (*stt.Result, error) {
		return nil, nil
	}}
	if _, err := NewService(p).Score(context.Background(), testRequest("hi")); err == nil {
		t.Fatal("expected error for nil provider result")
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.DeadlineExceeded, "canceled"},
		{stt.ErrInvalidAudio, "invalid_audio"},
		{errors.New("weird"), "other"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
