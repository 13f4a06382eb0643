// Package api defines the gangway wire envelopes: the command request shape,
// the uniform response shape, and the closed error-code taxonomy every layer
// of the pipeline maps into.
//
// Clients conventionally map terminal codes onto process exit codes: 0 on
// ok, 2 on AUTH_FAILED or IP_BLOCKED, 3 on NOT_FOUND, 4 on QUOTA_EXCEEDED,
// 1 otherwise. The code set is closed so that mapping stays stable.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Code identifies one of the closed set of error kinds. No layer may invent
// codes outside this set.
type Code string

const (
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeAuthFailed     Code = "AUTH_FAILED"
	CodeIPBlocked      Code = "IP_BLOCKED"
	CodeForbidden      Code = "FORBIDDEN"
	CodeNotFound       Code = "NOT_FOUND"
	CodeQuotaExceeded  Code = "QUOTA_EXCEEDED"
	CodeTimeout        Code = "TIMEOUT"
	CodeServiceError   Code = "SERVICE_ERROR"
	CodeInitRejected   Code = "INIT_REJECTED"
	CodeInitExpired    Code = "INIT_EXPIRED"
)

// retryableByDefault holds the per-code retryability defaults. Retryability
// is a property of each occurrence; these are the values used unless a
// producer overrides them.
var retryableByDefault = map[Code]bool{
	CodeQuotaExceeded: true,
	CodeServiceError:  true,
	CodeTimeout:       true,
}

// Retryable reports the default retryability of a code.
func (c Code) Retryable() bool { return retryableByDefault[c] }

// Request is the command envelope accepted on the wire.
type Request struct {
	JWT      string         `json:"jwt"`
	Service  string         `json:"service"`
	Action   string         `json:"action"`
	Params   map[string]any `json:"params"`
	ClientIP string         `json:"clientIp,omitempty"`
}

// Error is the failure value carried through the pipeline. It implements
// error so handlers can return it directly; the dispatcher passes typed
// errors through unchanged instead of wrapping them as SERVICE_ERROR.
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds an Error with the code's default retryability.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code.Retryable()}
}

// Errorf builds an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Response is the uniform reply envelope. Exactly one of Data or Err is
// populated depending on OK.
type Response struct {
	OK        bool   `json:"ok"`
	Data      any    `json:"data,omitempty"`
	Err       *Error `json:"error,omitempty"`
	RequestID string `json:"requestId"`
}

// Success wraps handler data in a positive envelope.
func Success(data any, requestID string) Response {
	return Response{OK: true, Data: data, RequestID: requestID}
}

// Failure wraps an Error in a negative envelope.
func Failure(err *Error, requestID string) Response {
	return Response{OK: false, Err: err, RequestID: requestID}
}

// httpStatus maps envelope codes onto transport status codes. The envelope
// stays the source of truth for clients; the status is a courtesy for
// intermediaries and curl users.
func httpStatus(c Code) int {
	switch c {
	case CodeInvalidRequest, CodeInitRejected:
		return http.StatusBadRequest
	case CodeAuthFailed:
		return http.StatusUnauthorized
	case CodeIPBlocked, CodeForbidden, CodeInitExpired:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// WriteResponse writes an envelope as UTF-8 JSON. Encode failures are logged,
// never surfaced; by that point there is nothing useful to tell the caller.
func WriteResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	status := http.StatusOK
	if !resp.OK && resp.Err != nil {
		status = httpStatus(resp.Err.Code)
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("response encode failed", "error", err, "request_id", resp.RequestID)
	}
}

// WriteFailure is shorthand for writing a failure envelope.
func WriteFailure(w http.ResponseWriter, err *Error, requestID string) {
	WriteResponse(w, Failure(err, requestID))
}
