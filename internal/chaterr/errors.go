// Package chaterr defines the error taxonomy surfaced over the websocket
// error event. Every failure inside an event handler is mapped to one of
// these kinds before being written back to the originating connection.
package chaterr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error carries an HTTP-style status alongside the message delivered to the client.
type Error struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.cause)
	}
	return e.Msg
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithCause attaches an underlying error without changing the wire shape.
func (e *Error) WithCause(err error) *Error {
	return &Error{Status: e.Status, Msg: e.Msg, cause: err}
}

// Unauthenticated signals a missing or invalid connection credential.
func Unauthenticated(msg string) *Error {
	if msg == "" {
		msg = "unauthenticated"
	}
	return &Error{Status: fiber.StatusUnauthorized, Msg: msg}
}

// NotFound signals a referenced user, room or message that does not exist.
func NotFound(msg string) *Error {
	if msg == "" {
		msg = "not found"
	}
	return &Error{Status: fiber.StatusNotFound, Msg: msg}
}

// UnprocessableEntity signals a business-rule violation.
func UnprocessableEntity(msg string) *Error {
	if msg == "" {
		msg = "unprocessable entity"
	}
	return &Error{Status: fiber.StatusUnprocessableEntity, Msg: msg}
}

// Internal signals an unexpected failure.
func Internal(err error) *Error {
	return &Error{Status: fiber.StatusInternalServerError, Msg: "internal server error", cause: err}
}

// From maps an arbitrary error onto the taxonomy, defaulting to Internal.
func From(err error) *Error {
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr
	}
	return Internal(err)
}
