package bridge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sipeed/halbridge/pkg/logger"
)

// Call is a decoded command on its way through the router.
type Call struct {
	Command
	Kind          Kind
	CorrelationID string
	ReceivedAt    time.Time
}

// Handler implements one named capability. Completion is observed through
// script evaluation, never through a return value.
type Handler interface {
	Handle(ctx context.Context, call *Call)
}

type HandlerFunc func(ctx context.Context, call *Call)

func (f HandlerFunc) Handle(ctx context.Context, call *Call) {
	f(ctx, call)
}

type RouterOption func(*Router)

// WithTraceHook sets the function receiving router-level traces.
func WithTraceHook(hook TraceHook) RouterOption {
	return func(r *Router) {
		r.trace = hook
	}
}

// Router maps command names to handlers. The table is copied at construction
// and never changes afterwards, so lookups need no locking.
type Router struct {
	handlers map[string]Handler
	trace    TraceHook
}

func NewRouter(handlers map[string]Handler, opts ...RouterOption) *Router {
	r := &Router{handlers: make(map[string]Handler, len(handlers))}
	for name, h := range handlers {
		if h == nil {
			continue
		}
		r.handlers[name] = h
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle invokes the handler registered under call.Name and reports whether
// one existed. Unknown names are a no-op.
func (r *Router) Handle(ctx context.Context, call *Call) (handled bool) {
	h, ok := r.handlers[call.Name]
	if !ok {
		logger.DebugCF("router", "Ignoring unknown command", map[string]interface{}{
			"command":        call.Name,
			"payload_shape":  PayloadShape(call.Payload),
			"correlation_id": call.CorrelationID,
		})
		t := newTrace(call, OutcomeIgnored)
		t.Reason = ReasonUnknownCommand
		r.emit(t)
		return false
	}

	r.emit(newTrace(call, OutcomeDispatched))

	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("router", "Handler panicked", map[string]interface{}{
				"command":        call.Name,
				"payload_shape":  PayloadShape(call.Payload),
				"correlation_id": call.CorrelationID,
				"panic":          fmt.Sprint(rec),
			})
			t := newTrace(call, OutcomeFailed)
			t.Reason = ReasonInternal
			t.Detail = fmt.Sprintf("panic: %v", rec)
			r.emit(t)
			handled = true
		}
	}()
	h.Handle(ctx, call)
	return true
}

// Names returns the registered command names, sorted.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

func (r *Router) emit(t Trace) {
	if r.trace != nil {
		r.trace(t)
	}
}
