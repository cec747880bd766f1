package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/xraph/payledger"
)

// maxRequestBytes bounds JSON request bodies on the resource endpoints.
const maxRequestBytes = 64 << 10

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    payledger.Kind `json:"kind"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	switch payledger.KindOf(err) {
	case "":
		return http.StatusOK
	case payledger.KindValidation:
		return http.StatusBadRequest
	case payledger.KindNotFound:
		return http.StatusNotFound
	case payledger.KindConflict:
		return http.StatusConflict
	case payledger.KindSecurity:
		return http.StatusUnauthorized
	case payledger.KindRetryable:
		if errors.Is(err, payledger.ErrTimeout) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status its kind maps to. Internal errors are
// logged and their text is not echoed to the caller.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.failWith(w, r, statusFor(err), err)
}

func (h *Handler) failWith(w http.ResponseWriter, r *http.Request, status int, err error) {
	detail := errorDetail{
		Kind:    payledger.KindOf(err),
		Message: err.Error(),
	}
	var verr payledger.ValidationError
	if errors.As(err, &verr) {
		detail.Field = verr.Field
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
		if detail.Kind == payledger.KindInternal {
			detail.Message = "internal error"
		}
	}
	writeJSON(w, status, errorBody{Error: detail})
}

// decode reads a JSON request body into v. An empty body leaves v as is.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body: %w", payledger.ErrInvalidInput, err)
	}
	return nil
}

// idempotencyKey prefers the header over a key sent in the body.
func idempotencyKey(r *http.Request, fromBody string) string {
	if key := r.Header.Get(IdempotencyKeyHeader); key != "" {
		return key
	}
	return fromBody
}

// pathID parses the {id} wildcard with parse, reporting a malformed id as
// invalid input.
func pathID[T any](r *http.Request, field string, parse func(string) (T, error)) (T, error) {
	v, err := parse(r.PathValue("id"))
	if err != nil {
		var zero T
		return zero, payledger.ValidationError{Field: field, Message: err.Error()}
	}
	return v, nil
}
