package agent

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an agent failure.
type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindResourceUnavailable  Kind = "resource_unavailable"
	KindUnsupportedOperation Kind = "unsupported_operation"
	KindTimeout              Kind = "timeout"
	KindCancelled            Kind = "cancelled"
	KindInternal             Kind = "internal"
)

// Error is the failure an agent reports for one invocation.
type Error struct {
	Kind    Kind
	Agent   string
	Message string
	Err     error

	// Retryable marks transient resource failures the agent may retry itself.
	Retryable bool
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Agent != "" {
		return fmt.Sprintf("%s: %s: %s", e.Agent, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func InvalidInput(agent, msg string) *Error {
	return &Error{Kind: KindInvalidInput, Agent: agent, Message: msg}
}

func Unsupported(agent, msg string) *Error {
	return &Error{Kind: KindUnsupportedOperation, Agent: agent, Message: msg}
}

func Unavailable(agent string, err error, retryable bool) *Error {
	return &Error{Kind: KindResourceUnavailable, Agent: agent, Err: err, Retryable: retryable}
}

// KindOf classifies any error returned by an agent. Context errors map to
// timeout and cancelled; unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindInternal
}

func isRetryable(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Retryable
}
