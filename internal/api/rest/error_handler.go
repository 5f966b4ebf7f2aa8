package rest

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
)

// ResponseEnvelope wraps all API responses
type ResponseEnvelope struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Meta    ResponseMeta   `json:"meta"`
}

// ResponseMeta contains response metadata
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ErrorResponse provides detailed error information
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Fields  map[string][]string    `json:"fields,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

func (s *Server) meta(r *http.Request) ResponseMeta {
	return ResponseMeta{
		RequestID: requestID(r.Context()),
		Timestamp: time.Now().UTC(),
		Version:   s.cfg.Version,
	}
}

func (s *Server) writeData(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSON(w, status, ResponseEnvelope{Success: true, Data: data, Meta: s.meta(r)})
}

// writeError maps domain errors onto their status code. Anything that is not
// an AppError is reported as an internal error without leaking its text.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := &ErrorResponse{Code: "INTERNAL_ERROR", Message: "an internal error occurred"}
	status := errors.GetStatusCode(err)

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		resp.Code = appErr.Code
		resp.Message = appErr.Message
		resp.Details = appErr.Details
	}
	if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.IsValid() {
		resp.TraceID = sc.TraceID().String()
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
	writeJSON(w, status, ResponseEnvelope{Error: resp, Meta: s.meta(r)})
}

func (s *Server) writeValidation(w http.ResponseWriter, r *http.Request, fields map[string][]string) {
	writeJSON(w, http.StatusBadRequest, ResponseEnvelope{
		Error: &ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "request validation failed",
			Fields:  fields,
		},
		Meta: s.meta(r),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
