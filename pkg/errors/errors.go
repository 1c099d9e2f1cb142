package errors

import (
	"encoding/json"
	"fmt"
)

type AppError struct {
	Code    int    // HTTP status code or custom error code
	Message string // User-facing message
	Err     error  // Underlying error (optional)
}

const (
	ErrInvalidToken       = 1001
	ErrBadMessageFormat   = 1002
	ErrUnknownMessageType = 1003
	ErrAuctionNotFound    = 1004
	ErrAuctionClosed      = 1005
	ErrWebSocketUpgrade   = 1006

	ErrUnauthorized   = 401
	ErrInternalServer = 500
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON renders the error as a client-facing JSON payload.
func (e *AppError) ToJSON() string {
	payload := struct {
		Type    string `json:"type"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{
		Type:    "error",
		Code:    e.Code,
		Message: e.Message,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return `{"type":"error","message":"internal error"}`
	}
	return string(b)
}

// Wrapping utility
func Wrap(err error, message string) *AppError {
	return &AppError{Message: message, Err: err}
}

// Error creation utility
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}
