package bridge

import (
	"context"
	"errors"
	"strings"

	"github.com/juncture-dev/juncture/pkg/codex"
)

// Bridge error taxonomy. Transport and transient failures trigger implicit
// recovery (reset/retry); application errors are surfaced to the caller
// verbatim.
var (
	// ErrNotConnected is returned when an operation needs a live agent
	// channel and there is none.
	ErrNotConnected = errors.New("agent not connected")

	// ErrTimeout is returned when an RPC exceeded its deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrTurnInProgress is returned when a turn is started while another is
	// still active. The caller must cancel or wait; turns are never queued.
	ErrTurnInProgress = errors.New("a turn is already in progress")

	// ErrNoActiveSession is returned when an operation requires a selected
	// session and none exists.
	ErrNoActiveSession = errors.New("no active session")

	// ErrSessionBusy is returned when a session operation (switch, delete)
	// is attempted while a turn is in flight.
	ErrSessionBusy = errors.New("session has a turn in flight")
)

// transientSignatures mark errors worth an automatic retry. Anything else is
// treated as a semantic failure and returned to the caller.
var transientSignatures = []string{
	"timeout",
	"timed out",
	"connection reset",
	"broken pipe",
	"not connected",
	"stdout closed",
	"client closed",
}

// isTransient reports whether an RPC failure looks like a transport hiccup
// rather than an application error.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, codex.ErrClientClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// isInvalidParams reports whether an RPC error complains about the request
// shape, which the thread resolver uses to retry without optional fields.
func isInvalidParams(rpcErr *codex.Error) bool {
	if rpcErr == nil {
		return false
	}
	if rpcErr.Code == codex.InvalidParams || rpcErr.Code == codex.InvalidRequest {
		return true
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "invalid param") ||
		strings.Contains(msg, "unknown param") ||
		strings.Contains(msg, "unexpected field")
}

// isUnknownModel reports whether an RPC error rejects the requested model.
func isUnknownModel(rpcErr *codex.Error) bool {
	if rpcErr == nil {
		return false
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "model") &&
		(strings.Contains(msg, "unknown") ||
			strings.Contains(msg, "unsupported") ||
			strings.Contains(msg, "not found") ||
			strings.Contains(msg, "invalid"))
}
