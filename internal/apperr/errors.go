// Package apperr holds the error taxonomy shared by the upload layer, the
// process executor and the conversion handlers, plus the JSON rendering used
// by every HTTP endpoint.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError describes a bad, missing, oversized or wrong-type upload.
// Its message is surfaced verbatim to the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validation builds a ValidationError from a format string.
func Validation(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedMediaType is the ValidationError produced when an upload does not
// satisfy its policy's accept predicate.
func UnsupportedMediaType(reason string) error {
	return &ValidationError{Reason: reason}
}

// ToolError reports an external tool that exited non-zero, could not be
// spawned, or left no usable artifact. Detail carries the captured output.
type ToolError struct {
	Tool   string
	Detail string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Err == nil {
		return e.Tool + " failed"
	}
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// CorruptOutputError reports an artifact that exists but fails a sanity check.
type CorruptOutputError struct {
	Path   string
	Reason string
}

func (e *CorruptOutputError) Error() string {
	return fmt.Sprintf("corrupt output %s: %s", e.Path, e.Reason)
}

// LoaderError is logged by the feature loader when a single registration
// cannot be mounted. It never aborts startup.
type LoaderError struct {
	Source string
	Reason string
	Err    error
}

func (e *LoaderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("feature %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("feature %s: %s", e.Source, e.Reason)
}

func (e *LoaderError) Unwrap() error {
	return e.Err
}

// Status maps an error onto the HTTP status the gateway answers with.
func Status(err error) int {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Body is the JSON error payload.
type Body struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Write renders err as {error, detail} with the mapped status. summary is the
// operator-facing headline used for 5xx answers; validation errors always use
// their own message.
func Write(w http.ResponseWriter, summary string, err error) {
	status := Status(err)
	body := Body{Error: summary, Detail: detail(err)}
	if status == http.StatusBadRequest || summary == "" {
		body.Error = err.Error()
		body.Detail = ""
	}
	WriteJSON(w, status, body)
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func detail(err error) string {
	var te *ToolError
	if errors.As(err, &te) && strings.TrimSpace(te.Detail) != "" {
		return strings.TrimSpace(te.Detail)
	}
	return err.Error()
}
