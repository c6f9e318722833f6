package http

import (
	"fmt"
	"net/http"
	"time"
)

// AppError is an error that knows its HTTP status. Err is kept for logs
// and never rendered.
type AppError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Field      string                 `json:"field,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Status     int                    `json:"-"`
	RetryAfter time.Duration          `json:"-"`
	Err        error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

var statusCodes = map[int]string{
	http.StatusBadRequest:          "ERR_BAD_REQUEST",
	http.StatusNotFound:            "ERR_NOT_FOUND",
	http.StatusConflict:            "ERR_CONFLICT",
	http.StatusTooManyRequests:     "ERR_RATE_LIMITED",
	http.StatusInternalServerError: "ERR_INTERNAL",
	http.StatusServiceUnavailable:  "ERR_UNAVAILABLE",
}

// NewAppError builds an error for status with its default code.
func NewAppError(status int, format string, args ...interface{}) *AppError {
	code, ok := statusCodes[status]
	if !ok {
		code = "ERR_" + fmt.Sprint(status)
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &AppError{Code: code, Message: msg, Status: status}
}

func (e *AppError) WithField(field string) *AppError {
	e.Field = field
	return e
}

func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// WithRetryAfter adds a Retry-After header to the response.
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

func BadRequestError(message string) *AppError {
	return NewAppError(http.StatusBadRequest, "%s", message)
}

func NotFoundError(message string) *AppError {
	return NewAppError(http.StatusNotFound, "%s", message)
}

func ConflictError(message string) *AppError {
	return NewAppError(http.StatusConflict, "%s", message)
}

func TooManyRequestsError(message string) *AppError {
	return NewAppError(http.StatusTooManyRequests, "%s", message)
}

// ServiceUnavailableError is used for missing models, a missing queue and
// open circuit breakers.
func ServiceUnavailableError(message string) *AppError {
	return NewAppError(http.StatusServiceUnavailable, "%s", message)
}
