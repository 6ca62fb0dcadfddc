package scoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/sayso/pkg/provider/stt"
)

// Request is a validated scoring request.
type Request struct {
	LearnerID    string
	AudioBase64  string
	MimeType     string
	Language     string
	ExpectedText string
	Debug        bool
}

// STTRequest returns the transcription request for r.
func (r Request) STTRequest() stt.Request {
	return stt.Request{
		LearnerID:   r.LearnerID,
		AudioBase64: r.AudioBase64,
		MimeType:    r.MimeType,
		Language:    r.Language,
	}
}

// Limits holds the request defaults and bounds applied by [DecodeRequest].
type Limits struct {
	DefaultMimeType string
	DefaultLanguage string

	// MaxTextRunes caps expected_text. Zero disables the check.
	MaxTextRunes int
}

// DefaultLimits returns the built-in defaults.
func DefaultLimits() Limits {
	return Limits{
		DefaultMimeType: "audio/aac",
		DefaultLanguage: "th-TH",
		MaxTextRunes:    500,
	}
}

// ValidationError lists every constraint a request body violated.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Violations, "; ")
}

// wireFields are the JSON members of a scoring request body.
var wireFields = struct {
	UserID, Audio, Mime, Language, Expected, Debug string
}{"user_id", "audio_base64", "mime_type", "language_code", "expected_text", "debug"}

// DecodeRequest reads a JSON scoring request from r and validates it.
//
// user_id, audio_base64 and expected_text are required and must not be
// blank. audio_base64 must be standard base64 (a data: URI prefix is
// accepted). mime_type and language_code fall back to the limits' defaults.
// Unknown members are ignored. All violations are reported together in a
// [*ValidationError].
func DecodeRequest(r io.Reader, limits Limits) (Request, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return Request{}, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return Request{}, &ValidationError{Violations: []string{"request body is empty"}}
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil {
		return Request{}, &ValidationError{Violations: []string{"request body is not a JSON object: " + jsonProblem(err)}}
	}

	var (
		v   validator
		req Request
	)
	req.LearnerID = strings.TrimSpace(v.requiredString(members, wireFields.UserID))
	req.AudioBase64 = v.requiredString(members, wireFields.Audio)
	req.ExpectedText = v.requiredString(members, wireFields.Expected)
	req.MimeType = strings.TrimSpace(v.optionalString(members, wireFields.Mime))
	req.Language = strings.TrimSpace(v.optionalString(members, wireFields.Language))
	req.Debug = v.optionalBool(members, wireFields.Debug)

	if strings.TrimSpace(req.AudioBase64) != "" {
		if _, err := req.STTRequest().Audio(); err != nil {
			v.addf("%s is not valid base64", wireFields.Audio)
		}
	}
	if n := utf8.RuneCountInString(req.ExpectedText); limits.MaxTextRunes > 0 && n > limits.MaxTextRunes {
		v.addf("%s is %d characters long; at most %d allowed", wireFields.Expected, n, limits.MaxTextRunes)
	}

	if req.MimeType == "" {
		req.MimeType = limits.DefaultMimeType
	}
	if req.Language == "" {
		req.Language = limits.DefaultLanguage
	}

	if len(v.violations) > 0 {
		return Request{}, &ValidationError{Violations: v.violations}
	}
	return req, nil
}

// validator accumulates violations while fields are extracted.
type validator struct {
	violations []string
}

func (v *validator) addf(format string, args ...any) {
	v.violations = append(v.violations, fmt.Sprintf(format, args...))
}

func (v *validator) requiredString(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok || isNull(raw) {
		v.addf("%s is required", key)
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		v.addf("%s must be a string", key)
		return ""
	}
	if strings.TrimSpace(s) == "" {
		v.addf("%s must not be blank", key)
	}
	return s
}

func (v *validator) optionalString(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		v.addf("%s must be a string", key)
	}
	return s
}

func (v *validator) optionalBool(m map[string]json.RawMessage, key string) bool {
	raw, ok := m[key]
	if !ok || isNull(raw) {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		v.addf("%s must be a boolean", key)
	}
	return b
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// jsonProblem renders a decode error without Go type names.
func jsonProblem(err error) string {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return fmt.Sprintf("syntax error at offset %d", syn.Offset)
	}
	var typ *json.UnmarshalTypeError
	if errors.As(err, &typ) {
		return "expected an object, got " + typ.Value
	}
	return err.Error()
}
