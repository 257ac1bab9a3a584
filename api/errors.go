// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-chat.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the server.
var (
	ErrConnClosed         = fmt.Errorf("connection is closed")
	ErrQueueStopped       = fmt.Errorf("queue is stopped")
	ErrReadBufferOverflow = fmt.Errorf("read buffer limit exceeded")
	ErrPoolClosed         = fmt.Errorf("send pool is closed")
	ErrStoreClosed        = fmt.Errorf("store is closed")
	ErrInvalidArgument    = fmt.Errorf("invalid argument")
	ErrTimeout            = fmt.Errorf("operation timeout")
	ErrNotSupported       = fmt.Errorf("operation not supported")
	ErrAlreadyExists      = fmt.Errorf("resource already exists")
	ErrNotFound           = fmt.Errorf("resource not found")
)

// ErrorCode represents specific error conditions surfaced to chat clients.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeTimeout
	ErrCodeNotSupported
	ErrCodeAlreadyExists
	ErrCodeNotFound
	ErrCodeUnauthorized
	ErrCodeInternal
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeInvalidArgument: ErrInvalidArgument,
	ErrCodeTimeout:         ErrTimeout,
	ErrCodeNotSupported:    ErrNotSupported,
	ErrCodeAlreadyExists:   ErrAlreadyExists,
	ErrCodeNotFound:        ErrNotFound,
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Is lets errors.Is match a structured error against the sentinel of its code.
func (e *Error) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the code of a structured error, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	for code, s := range codeSentinels {
		if errors.Is(err, s) {
			return code
		}
	}
	return ErrCodeInternal
}
