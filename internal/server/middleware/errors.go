// Package middleware provides HTTP middleware for the stub backend.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request correlation id.
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = 0

// Logger receives panic reports. Default: zap.NewNop().
var Logger = zap.NewNop()

// ErrorResponse is the JSON error body, matching the backend error contract:
//
//	{"error": {"code": "...", "message": "...", "request_id": "...", "details": {...}}}
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the inner error object.
type ErrorBody struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// RequestID ensures every request carries an id, reusing the inbound header
// when present, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request id stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Recovery converts handler panics into a 500 JSON error.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			msg := fmt.Sprintf("panic: %v", rec)
			Logger.Error("Handler panic",
				zap.String("path", r.URL.Path),
				zap.String("request_id", GetRequestID(r.Context())),
				zap.String("panic", msg))

			id := GetRequestID(r.Context())
			env := errors.NewErrorEnvelope("INTERNAL_ERROR", msg)
			if id != "" {
				env = env.WithCorrelationID(id)
			}
			writeEnvelope(w, env, http.StatusInternalServerError, ErrorBody{Code: "INTERNAL_ERROR", Message: msg, RequestID: id})
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is an alias for Recovery.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

// WriteError writes a JSON error with the given code and message.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	var id string
	if r != nil {
		id = GetRequestID(r.Context())
	}
	env := errors.NewErrorEnvelope(code, message)
	if id != "" {
		env = env.WithCorrelationID(id)
	}
	if len(details) > 0 {
		if withCtx, err := env.WithContext(details); err == nil {
			env = withCtx
		}
	}
	writeEnvelope(w, env, status, ErrorBody{Code: code, Message: message, RequestID: id, Details: details})
}

// envelopeJSON is the subset of the serialized error envelope we surface.
type envelopeJSON struct {
	Code          string                 `json:"code"`
	Message       string                 `json:"message"`
	CorrelationID string                 `json:"correlation_id"`
	Details       map[string]interface{} `json:"details"`
	Context       map[string]interface{} `json:"context"`
}

func writeErrorResponse(w http.ResponseWriter, env *errors.ErrorEnvelope, status int) {
	writeEnvelope(w, env, status, ErrorBody{Code: "INTERNAL_ERROR", Message: http.StatusText(status)})
}

func writeEnvelope(w http.ResponseWriter, env *errors.ErrorEnvelope, status int, fallback ErrorBody) {
	body := fallback

	if env != nil {
		if raw, err := json.Marshal(env); err == nil {
			var ej envelopeJSON
			if err := json.Unmarshal(raw, &ej); err == nil {
				if ej.Code != "" {
					body.Code = ej.Code
				}
				if ej.Message != "" {
					body.Message = ej.Message
				}
				if ej.CorrelationID != "" {
					body.RequestID = ej.CorrelationID
				}
				body.Details = mergeDetails(body.Details, ej.Details, ej.Context)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: body})
}

func mergeDetails(maps ...map[string]interface{}) map[string]interface{} {
	var out map[string]interface{}
	for _, m := range maps {
		for k, v := range m {
			if out == nil {
				out = make(map[string]interface{}, len(m))
			}
			out[k] = v
		}
	}
	return out
}
