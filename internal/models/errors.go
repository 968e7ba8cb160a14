package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories the pipeline can
// surface. Callers switch on the kind, never on message text.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidInput
	KindNetwork
	KindTimeout
	KindRateLimited
	KindBotChallenge
	KindUpstreamServer
	KindExtraction
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNetwork:
		return "network_error"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindBotChallenge:
		return "bot_challenge"
	case KindUpstreamServer:
		return "upstream_server_error"
	case KindExtraction:
		return "extraction_failure"
	default:
		return "unknown"
	}
}

// Error is a terminal pipeline failure. Message is the human-readable text
// shown to callers; Kind is the machine-readable category.
type Error struct {
	Kind    ErrorKind
	Message string
	URL     string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a terminal error without an underlying cause.
func NewError(kind ErrorKind, message, url string) *Error {
	return &Error{Kind: kind, Message: message, URL: url}
}

// WrapError builds a terminal error around an underlying cause.
func WrapError(kind ErrorKind, message, url string, err error) *Error {
	return &Error{Kind: kind, Message: message, URL: url, Err: err}
}

// KindOf extracts the error kind from err, returning KindUnknown when err
// is not a pipeline error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// MessageOf returns the human-readable message for err, falling back to
// err.Error() for foreign errors.
func MessageOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
