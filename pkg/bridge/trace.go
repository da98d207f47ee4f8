package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/sipeed/halbridge/pkg/device"
)

type Outcome string

const (
	OutcomeRejected   Outcome = "rejected"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeDispatched Outcome = "dispatched"
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeFailed     Outcome = "failed"
)

// Reason classifies a failed or dropped command.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonInvalidCommand    Reason = "invalid_command"
	ReasonUnknownCommand    Reason = "unknown_command"
	ReasonUnsupported       Reason = "unsupported"
	ReasonUnavailable       Reason = "unavailable"
	ReasonPermissionDenied  Reason = "permission_denied"
	ReasonCancelled         Reason = "cancelled"
	ReasonTimeout           Reason = "timeout"
	ReasonBusy              Reason = "busy"
	ReasonMalformedCallback Reason = "malformed_callback"
	ReasonInternal          Reason = "internal"
)

var ErrBusy = errors.New("capability busy")

// ReasonFor maps a handler error onto a Reason.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, device.ErrCancelled), errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, device.ErrUnsupported):
		return ReasonUnsupported
	case errors.Is(err, device.ErrPermissionDenied):
		return ReasonPermissionDenied
	case errors.Is(err, device.ErrUnavailable), errors.Is(err, device.ErrNoBarcode):
		return ReasonUnavailable
	case errors.Is(err, ErrBusy):
		return ReasonBusy
	case errors.Is(err, ErrMalformedCallback):
		return ReasonMalformedCallback
	case errors.Is(err, ErrInvalidCommand):
		return ReasonInvalidCommand
	default:
		return ReasonInternal
	}
}

// Trace is one diagnostic observation of a command passing through the
// bridge. A routed command yields a dispatched trace followed by exactly one
// succeeded or failed trace.
type Trace struct {
	CorrelationID string        `json:"correlation_id"`
	Command       string        `json:"command"`
	Kind          string        `json:"kind"`
	PayloadShape  string        `json:"payload_shape"`
	HasCallback   bool          `json:"has_callback"`
	Outcome       Outcome       `json:"outcome"`
	Reason        Reason        `json:"reason,omitempty"`
	Detail        string        `json:"detail,omitempty"`
	Duration      time.Duration `json:"duration_ns,omitempty"`
	At            time.Time     `json:"at"`
}

// Terminal reports whether no further traces follow for the command.
func (t Trace) Terminal() bool {
	return t.Outcome != OutcomeDispatched
}

type TraceHook func(Trace)

func newTrace(call *Call, outcome Outcome) Trace {
	return Trace{
		CorrelationID: call.CorrelationID,
		Command:       call.Name,
		Kind:          call.Kind.String(),
		PayloadShape:  PayloadShape(call.Payload),
		HasCallback:   call.HasCallback(),
		Outcome:       outcome,
		At:            time.Now().UTC(),
	}
}
