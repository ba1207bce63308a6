package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"watchtower/core"
)

// Error kinds reported in the response envelope
const (
	kindValidation   = "validation"
	kindNotFound     = "not_found"
	kindInvalidState = "invalid_state"
	kindStorage      = "storage"
	kindUnauthorized = "unauthorized"
	kindRateLimited  = "rate_limited"
	kindInternal     = "internal"
)

// envelope is the body of every API response
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Kind         string `json:"kind"`
	Message      string `json:"message"`
	Field        string `json:"field,omitempty"`
	CurrentState string `json:"currentState,omitempty"`
}

// respondJSON writes a success envelope
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	a.writeEnvelope(w, envelope{Success: true, Data: data}, statusCode)
}

func (a *API) writeEnvelope(w http.ResponseWriter, body envelope, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", body.Data))
	}
}

// respondError writes an error envelope. err is logged, never sent.
func (a *API) respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	kind := kindInternal
	switch statusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		kind = kindValidation
	case http.StatusUnauthorized:
		kind = kindUnauthorized
	case http.StatusNotFound:
		kind = kindNotFound
	case http.StatusConflict:
		kind = kindInvalidState
	case http.StatusTooManyRequests:
		kind = kindRateLimited
	}
	if err != nil && statusCode >= http.StatusInternalServerError {
		a.logger.Errorw(message, "error", sanitizeLogMessage(err.Error()), "status_code", statusCode)
	}
	a.writeEnvelope(w, envelope{Error: &apiError{Kind: kind, Message: sanitizeErrorMessage(message)}}, statusCode)
}

// respondServiceError maps the domain error taxonomy onto HTTP
func (a *API) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	body := &apiError{Message: sanitizeErrorMessage(err.Error())}
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, core.ErrValidation):
		status, body.Kind = http.StatusBadRequest, kindValidation
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			body.Field = ve.Field
		}
	case errors.Is(err, core.ErrNotFound):
		status, body.Kind = http.StatusNotFound, kindNotFound
	case errors.Is(err, core.ErrInvalidState):
		status, body.Kind = http.StatusConflict, kindInvalidState
		body.CurrentState, _ = core.CurrentState(err)
	case errors.Is(err, core.ErrStorage):
		body.Kind, body.Message = kindStorage, "storage failure"
	default:
		body.Kind, body.Message = kindInternal, "internal server error"
	}

	if status >= http.StatusInternalServerError {
		a.logger.Errorw("Request failed",
			"error", sanitizeLogMessage(err.Error()),
			"method", r.Method,
			"path", sanitizeLogMessage(r.URL.Path))
	}
	a.writeEnvelope(w, envelope{Error: body}, status)
}

// decodeJSONBody decodes and validates a request body. On failure it
// writes the error response and returns false.
func (a *API) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.API.BodyLimit)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var typeError *json.UnmarshalTypeError
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			a.respondError(w, http.StatusRequestEntityTooLarge, "request body too large", nil)
		case errors.As(err, &syntaxError):
			a.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON syntax at byte offset %d", syntaxError.Offset), nil)
		case errors.As(err, &typeError):
			a.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid type for field '%s'", typeError.Field), nil)
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			a.respondError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "json: "), nil)
		default:
			a.respondError(w, http.StatusBadRequest, "invalid JSON body", nil)
		}
		return false
	}

	if err := a.validateStruct(dst); err != nil {
		a.respondServiceError(w, r, err)
		return false
	}
	return true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.NewValidationError(name, "must be an integer")
	}
	return n, nil
}

// parsePagination reads limit and offset. Clamping happens in the service.
func parsePagination(r *http.Request) (core.Pagination, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return core.Pagination{}, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return core.Pagination{}, err
	}
	if limit < 0 {
		return core.Pagination{}, core.NewValidationError("limit", "must not be negative")
	}
	if offset < 0 {
		return core.Pagination{}, core.NewValidationError("offset", "must not be negative")
	}
	return core.Pagination{Limit: limit, Offset: offset}, nil
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, core.NewValidationError(name, "must be an RFC 3339 timestamp")
	}
	return t, nil
}

// parseTimeRange reads startTime and endTime
func parseTimeRange(r *http.Request) (core.TimeRange, error) {
	start, err := queryTime(r, "startTime")
	if err != nil {
		return core.TimeRange{}, err
	}
	end, err := queryTime(r, "endTime")
	if err != nil {
		return core.TimeRange{}, err
	}
	tr := core.TimeRange{Start: start, End: end}
	return tr, tr.Validate()
}

// queryList accepts repeated and comma-separated values
func queryList(r *http.Request, name string) []string {
	var out []string
	for _, raw := range r.URL.Query()[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func convertList[T ~string](in []string, normalize func(string) string) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = T(normalize(v))
	}
	return out
}
