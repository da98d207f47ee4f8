package bridge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/halbridge/pkg/bus"
	"github.com/sipeed/halbridge/pkg/device"
	"github.com/sipeed/halbridge/pkg/idle"
	"github.com/sipeed/halbridge/pkg/logger"
)

const (
	DefaultGlobalName     = "rc_hal"
	DefaultCaptureTimeout = 60 * time.Second
)

var globalNamePattern = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)

// ArgumentsReader supplies the stored arguments for Initialization. exists
// is false when nothing was ever stored.
type ArgumentsReader interface {
	Load() (args map[string]string, exists bool, err error)
}

// PhotoArchive keeps a copy of every photo returned to the page.
type PhotoArchive interface {
	Archive(data []byte, facing, correlationID string) error
}

type Options struct {
	// GlobalName is the page global exposing triggerEvent.
	GlobalName string
	Evaluator  Evaluator
	Devices    *device.Set
	Arguments  ArgumentsReader
	Photos     PhotoArchive
	// Extensions registers extra commands. Built-in names cannot be shadowed.
	Extensions map[string]Handler
	// ReportFailures invokes the callback with (null, "reason: detail") when a
	// capability fails instead of staying silent.
	ReportFailures bool
	// RejectBusy drops a command while another command of the same capability
	// is still running.
	RejectBusy     bool
	CaptureTimeout time.Duration
}

// Bridge is the native side of one page: it owns the command table, the
// script runner and the in-flight captures.
type Bridge struct {
	global         string
	router         *Router
	runner         *ScriptRunner
	devices        *device.Set
	args           ArgumentsReader
	photos         PhotoArchive
	reportFailures bool
	rejectBusy     bool
	captureTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inflight sync.Map // capability key -> *capture

	hookMu sync.RWMutex
	hooks  []TraceHook
}

func New(opts Options) *Bridge {
	global := opts.GlobalName
	if global == "" {
		global = DefaultGlobalName
	}
	if !globalNamePattern.MatchString(global) {
		logger.WarnCF("bridge", "Invalid page global name, using default", map[string]interface{}{
			"global_name": global,
			"default":     DefaultGlobalName,
		})
		global = DefaultGlobalName
	}

	devices := opts.Devices
	if devices == nil {
		devices = &device.Set{Camera: device.Unsupported{}, Scanner: device.Unsupported{}}
	}
	timeout := opts.CaptureTimeout
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		global:         global,
		runner:         NewScriptRunner(opts.Evaluator),
		devices:        devices,
		args:           opts.Arguments,
		photos:         opts.Photos,
		reportFailures: opts.ReportFailures,
		rejectBusy:     opts.RejectBusy,
		captureTimeout: timeout,
		ctx:            ctx,
		cancel:         cancel,
	}

	handlers := map[string]Handler{
		CmdScanBarcode:    HandlerFunc(b.handleScanBarcode),
		CmdTakePhoto:      HandlerFunc(b.handleTakePhoto),
		CmdInitialization: HandlerFunc(b.handleInitialization),
	}
	for name, h := range opts.Extensions {
		if _, builtin := handlers[name]; builtin {
			logger.WarnCF("bridge", "Extension cannot replace built-in command", map[string]interface{}{
				"command": name,
			})
			continue
		}
		handlers[name] = h
	}
	b.router = NewRouter(handlers, WithTraceHook(b.emit))
	return b
}

func (b *Bridge) GlobalName() string {
	return b.global
}

// Commands returns the registered command names.
func (b *Bridge) Commands() []string {
	return b.router.Names()
}

// OnTrace adds a diagnostic hook. Hooks may run on any goroutine.
func (b *Bridge) OnTrace(hook TraceHook) {
	if hook == nil {
		return
	}
	b.hookMu.Lock()
	b.hooks = append(b.hooks, hook)
	b.hookMu.Unlock()
}

func (b *Bridge) emit(t Trace) {
	b.hookMu.RLock()
	hooks := make([]TraceHook, len(b.hooks))
	copy(hooks, b.hooks)
	b.hookMu.RUnlock()
	for _, h := range hooks {
		h(t)
	}
}

// HandleMessage is the web-to-native entry point: it decodes a posted
// message and routes it. It satisfies bus.MessageHandler.
func (b *Bridge) HandleMessage(msg bus.InboundMessage) error {
	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	received := msg.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}

	cmd, err := DecodeCommand(msg.Body)
	if err != nil {
		logger.WarnCF("bridge", "Rejected malformed message", map[string]interface{}{
			"channel":        msg.Channel,
			"correlation_id": correlationID,
			"error":          err.Error(),
		})
		b.emit(Trace{
			CorrelationID: correlationID,
			Outcome:       OutcomeRejected,
			Reason:        ReasonInvalidCommand,
			Detail:        err.Error(),
			At:            time.Now().UTC(),
		})
		return err
	}

	call := &Call{
		Command:       cmd,
		Kind:          KindOf(cmd.Name),
		CorrelationID: correlationID,
		ReceivedAt:    received,
	}
	logger.DebugCF("bridge", "Command received", map[string]interface{}{
		"command":        call.Name,
		"payload_shape":  PayloadShape(call.Payload),
		"has_callback":   call.HasCallback(),
		"correlation_id": correlationID,
	})
	b.router.Handle(b.ctx, call)
	return nil
}

// Trigger fires a page event through the page global.
func (b *Bridge) Trigger(event string, args ...any) error {
	script, err := eventScript(b.global, event, args...)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", event, err)
	}
	b.runner.Run(script, "event:"+event)
	return nil
}

// InvokeCallback evaluates a serialized page callback with native arguments.
func (b *Bridge) InvokeCallback(source string, args ...any) error {
	return b.invokeCallback(source, "", args...)
}

func (b *Bridge) invokeCallback(source, correlationID string, args ...any) error {
	encoded, err := EncodeArgs(args...)
	if err != nil {
		return err
	}
	script, err := MakeCallExpression(source, encoded)
	if err != nil {
		return err
	}
	b.runner.Run(script, correlationID)
	return nil
}

// AttachIdle wires an idle signal: when it fires, running captures are
// cancelled and the page receives a Timeout event.
func (b *Bridge) AttachIdle(sig *idle.Signal) {
	sig.OnIdle(func() {
		if n := b.CancelInflight(); n > 0 {
			logger.InfoCF("bridge", "Cancelled captures on idle timeout", map[string]interface{}{
				"cancelled": n,
			})
		}
		if err := b.Trigger(EventTimeout); err != nil {
			logger.ErrorCF("bridge", "Failed to trigger timeout event", map[string]interface{}{
				"error": err.Error(),
			})
		}
	})
}

// CancelInflight cancels every running capture and returns how many there
// were.
func (b *Bridge) CancelInflight() int {
	n := 0
	b.inflight.Range(func(key, value any) bool {
		if c, ok := b.inflight.LoadAndDelete(key); ok {
			c.(*capture).cancel()
			n++
		}
		return true
	})
	return n
}

// Wait blocks until all running captures have finished.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// Close cancels running captures and waits for them.
func (b *Bridge) Close() {
	b.cancel()
	b.wg.Wait()
}

type capture struct {
	cancel context.CancelFunc
}

// runCapture executes fn off the caller's goroutine with a capture deadline,
// enforcing the busy guard and reporting the outcome.
func (b *Bridge) runCapture(call *Call, fn func(ctx context.Context) (string, error)) {
	key := call.Name
	if !b.rejectBusy {
		key = call.Name + "/" + call.CorrelationID
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.captureTimeout)
	entry := &capture{cancel: cancel}
	if _, busy := b.inflight.LoadOrStore(key, entry); busy {
		cancel()
		b.finish(call, "", fmt.Errorf("%w: %s already running", ErrBusy, call.Name))
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			b.inflight.CompareAndDelete(key, entry)
			cancel()
		}()
		defer func() {
			if rec := recover(); rec != nil {
				b.finish(call, "", fmt.Errorf("panic: %v", rec))
			}
		}()

		detail, err := fn(ctx)
		b.finish(call, detail, err)
	}()
}

// finish logs the terminal outcome of a call and, when configured, reports
// failures back to the page callback.
func (b *Bridge) finish(call *Call, detail string, err error) {
	t := newTrace(call, OutcomeSucceeded)
	t.Duration = time.Since(call.ReceivedAt)
	t.Detail = detail

	if err == nil {
		logger.InfoCF("bridge", "Command completed", map[string]interface{}{
			"command":        call.Name,
			"correlation_id": call.CorrelationID,
			"duration_ms":    t.Duration.Milliseconds(),
		})
		b.emit(t)
		return
	}

	t.Outcome = OutcomeFailed
	t.Reason = ReasonFor(err)
	t.Detail = err.Error()
	logger.WarnCF("bridge", "Command failed", map[string]interface{}{
		"command":        call.Name,
		"payload_shape":  PayloadShape(call.Payload),
		"has_callback":   call.HasCallback(),
		"correlation_id": call.CorrelationID,
		"reason":         string(t.Reason),
		"error":          err.Error(),
	})
	b.emit(t)

	if b.reportFailures && call.HasCallback() && !errors.Is(err, ErrMalformedCallback) {
		msg := string(t.Reason) + ": " + strings.TrimSpace(err.Error())
		if cerr := b.invokeCallback(call.Callback, call.CorrelationID, nil, msg); cerr != nil {
			logger.WarnCF("bridge", "Failed to report failure to page", map[string]interface{}{
				"correlation_id": call.CorrelationID,
				"error":          cerr.Error(),
			})
		}
	}
}
