package remote

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes remote failures.
type ErrorCode string

const (
	// ErrCodeConnectivity indicates no response was received.
	ErrCodeConnectivity ErrorCode = "CONNECTIVITY"

	// ErrCodeRejected indicates the server answered with a non-2xx status.
	ErrCodeRejected ErrorCode = "REJECTED"

	// ErrCodeUnauthorized indicates a 401 that a token refresh did not cure.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// ErrCodeProtocol indicates a 2xx response with an unrecognized body.
	ErrCodeProtocol ErrorCode = "PROTOCOL"
)

// ErrOffline is wrapped by connectivity errors raised without a request
// because the client was told the network is down.
var ErrOffline = errors.New("network is offline")

// Error is a classified remote failure.
type Error struct {
	Code ErrorCode

	// Op names the call, e.g. "submit scan".
	Op string

	// Status is the HTTP status code, zero for connectivity errors.
	Status int

	// Message is the server-provided or decoder-provided explanation.
	Message string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s: %s (status %d)", e.Op, e.Code, msg, e.Status)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func codeOf(err error) (ErrorCode, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Code, true
	}
	return "", false
}

// IsConnectivity reports whether err means the service was unreachable.
func IsConnectivity(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrCodeConnectivity
}

// IsRejected reports whether the service answered with an error status.
// Unauthorized responses count as rejections.
func IsRejected(err error) bool {
	code, ok := codeOf(err)
	return ok && (code == ErrCodeRejected || code == ErrCodeUnauthorized)
}

// IsProtocol reports whether the service answered with an unrecognized body.
func IsProtocol(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrCodeProtocol
}

func connectivityError(op string, err error) *Error {
	return &Error{Code: ErrCodeConnectivity, Op: op, Err: err}
}

func protocolError(op, message string) *Error {
	return &Error{Code: ErrCodeProtocol, Op: op, Message: message}
}
