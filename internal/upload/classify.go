package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrRetryable wraps failures that leave the batch queued for the next drain.
	ErrRetryable = errors.New("upload: retryable failure")

	// ErrTerminal wraps failures that are logged and acknowledged.
	ErrTerminal = errors.New("upload: terminal failure")
)

// StatusError is implemented by remote errors that carry an HTTP-like status.
type StatusError interface {
	error
	HTTPStatus() int
}

// Class is the connector's verdict on a failed operation.
type Class int

const (
	ClassRetryable Class = iota + 1
	ClassTerminal
)

func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassTerminal:
		return "terminal"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Classify decides whether a failed operation should be retried. Server-side
// failures (5xx) and failures that never produced a status (transport,
// timeouts) are retryable. Every other status is an application-level
// rejection and terminal.
func Classify(err error) Class {
	var se StatusError
	if errors.As(err, &se) {
		if status := se.HTTPStatus(); status > 0 && status < 500 {
			return ClassTerminal
		}
		return ClassRetryable
	}
	return ClassRetryable
}

// StatusOf returns the HTTP-like status carried by err, or 0.
func StatusOf(err error) int {
	var se StatusError
	if errors.As(err, &se) {
		return se.HTTPStatus()
	}
	return 0
}
