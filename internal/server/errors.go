package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"taskline/internal/repo"
)

// errorCodes names the statuses the API answers with. Anything else falls
// back to a snake_cased status text.
var errorCodes = map[int]string{
	http.StatusBadRequest:          "bad_request",
	http.StatusUnauthorized:        "unauthorized",
	http.StatusNotFound:            "not_found",
	http.StatusUnprocessableEntity: "validation_failed",
	http.StatusInternalServerError: "internal_error",
	http.StatusServiceUnavailable:  "unavailable",
}

func codeFor(status int) string {
	if code, ok := errorCodes[status]; ok {
		return code
	}
	return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}

type errorBody struct {
	Code    string         `json:"code" example:"audit_disabled"`
	Message string         `json:"message" example:"audit store is not configured"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// errorEnvelope is every non-2xx body: {"error": {code, message, details}}.
type errorEnvelope struct {
	status int
	Err    errorBody `json:"error"`
}

func (e *errorEnvelope) Error() string  { return e.Err.Message }
func (e *errorEnvelope) GetStatus() int { return e.status }

func failure(status int, code, message string) *errorEnvelope {
	if code == "" {
		code = codeFor(status)
	}
	return &errorEnvelope{status: status, Err: errorBody{Code: code, Message: message}}
}

func (e *errorEnvelope) with(key string, value any) *errorEnvelope {
	if e.Err.Details == nil {
		e.Err.Details = map[string]any{}
	}
	e.Err.Details[key] = value
	return e
}

func unauthenticated() *errorEnvelope {
	return failure(http.StatusUnauthorized, "unauthorized", "authentication required")
}

// storeFailure maps repository errors onto the envelope.
func storeFailure(err error) huma.StatusError {
	if errors.Is(err, repo.ErrNotFound) {
		return failure(http.StatusNotFound, "", err.Error())
	}
	return failure(http.StatusInternalServerError, "", "internal error").with("error", err.Error())
}

// useEnvelope routes huma's own errors, such as body validation, through
// the envelope. Validation failures answer 400 rather than 422.
func useEnvelope() {
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return envelopeFor(status, msg, errs)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return envelopeFor(status, msg, errs)
	}
}

func envelopeFor(status int, msg string, errs []error) huma.StatusError {
	if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
		status = http.StatusBadRequest
	}
	e := failure(status, "", msg)
	if len(errs) > 0 {
		e.with("errors", errs)
	}
	return e
}

func writeFailure(w http.ResponseWriter, e *errorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.status)
	_ = json.NewEncoder(w).Encode(e)
}
