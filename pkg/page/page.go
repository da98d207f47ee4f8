// Package page hosts web content in a goja runtime driven by an event loop.
// It installs the page global from hal.js and the native message channel
// (window.webkit.messageHandlers[name].postMessage), and evaluates native
// script on the loop, which is the page's only execution context.
package page

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"github.com/google/uuid"

	"github.com/sipeed/halbridge/pkg/bus"
	"github.com/sipeed/halbridge/pkg/logger"
)

//go:embed hal.js
var halSource string

const (
	DefaultGlobalName  = "rc_hal"
	DefaultHandlerName = "halbridge"

	consoleModule = "halbridge/console"
)

var ErrClosed = errors.New("page closed")

// Printer receives console output from page script.
type Printer interface {
	Log(string)
	Warn(string)
	Error(string)
}

type Options struct {
	GlobalName  string
	HandlerName string
	// NoTransport leaves window.webkit undefined, as when the page runs
	// without a native host.
	NoTransport bool
	// OnMessage receives every postMessage on the native channel.
	OnMessage bus.MessageHandler
	Printer   Printer
}

type Page struct {
	opts   Options
	loop   *eventloop.EventLoop
	closed atomic.Bool
	done   chan struct{}
}

// New starts the page loop and installs the page global.
func New(opts Options) (*Page, error) {
	if opts.GlobalName == "" {
		opts.GlobalName = DefaultGlobalName
	}
	if opts.HandlerName == "" {
		opts.HandlerName = DefaultHandlerName
	}
	if opts.Printer == nil {
		opts.Printer = logPrinter{}
	}

	registry := require.NewRegistry()
	registry.RegisterNativeModule(consoleModule, console.RequireWithPrinter(consolePrinter{opts.Printer}))

	p := &Page{
		opts: opts,
		loop: eventloop.NewEventLoop(eventloop.WithRegistry(registry), eventloop.EnableConsole(false)),
		done: make(chan struct{}),
	}
	p.loop.Start()

	if err := p.runSync(p.install); err != nil {
		p.Close()
		return nil, fmt.Errorf("install page runtime: %w", err)
	}
	logger.DebugCF("page", "Page runtime ready", map[string]interface{}{
		"global_name":  opts.GlobalName,
		"handler_name": opts.HandlerName,
		"transport":    !opts.NoTransport,
	})
	return p, nil
}

func (p *Page) install(vm *goja.Runtime) error {
	global := vm.GlobalObject()
	if err := global.Set("window", global); err != nil {
		return err
	}
	if err := global.Set("console", require.Require(vm, consoleModule)); err != nil {
		return err
	}
	if err := global.Set("alert", func(call goja.FunctionCall) goja.Value {
		logger.InfoCF("page", "Page alert", map[string]interface{}{
			"message": call.Argument(0).String(),
		})
		return goja.Undefined()
	}); err != nil {
		return err
	}

	if !p.opts.NoTransport {
		handler := vm.NewObject()
		if err := handler.Set("postMessage", p.postMessage(vm)); err != nil {
			return err
		}
		handlers := vm.NewObject()
		if err := handlers.Set(p.opts.HandlerName, handler); err != nil {
			return err
		}
		webkit := vm.NewObject()
		if err := webkit.Set("messageHandlers", handlers); err != nil {
			return err
		}
		if err := global.Set("webkit", webkit); err != nil {
			return err
		}
	}

	factory, err := vm.RunScript("hal.js", halSource)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(factory)
	if !ok {
		return fmt.Errorf("hal.js did not evaluate to a function")
	}
	_, err = fn(goja.Undefined(), global, vm.ToValue(p.opts.GlobalName), vm.ToValue(p.opts.HandlerName))
	return err
}

// postMessage serializes the posted value and hands it to OnMessage on the
// loop goroutine.
func (p *Page) postMessage(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		var (
			body []byte
			err  error
		)
		if obj, ok := arg.(*goja.Object); ok {
			body, err = obj.MarshalJSON()
		} else {
			body, err = json.Marshal(arg.Export())
		}
		if err != nil {
			panic(vm.NewTypeError("postMessage: %v", err))
		}

		msg := bus.InboundMessage{
			Channel:       p.opts.HandlerName,
			Body:          body,
			ReceivedAt:    time.Now(),
			CorrelationID: uuid.NewString(),
		}
		if p.opts.OnMessage == nil {
			logger.DebugCF("page", "No native handler for posted message", map[string]interface{}{
				"correlation_id": msg.CorrelationID,
			})
			return goja.Undefined()
		}
		if err := p.opts.OnMessage(msg); err != nil {
			logger.WarnCF("page", "Native handler rejected message", map[string]interface{}{
				"correlation_id": msg.CorrelationID,
				"error":          err.Error(),
			})
		}
		return goja.Undefined()
	}
}

// Load runs page content. It blocks until the script has run and must not
// be called from page script.
func (p *Page) Load(name, source string) error {
	return p.runSync(func(vm *goja.Runtime) error {
		_, err := vm.RunScript(name, source)
		return err
	})
}

// Run evaluates source and returns the result rendered for display.
func (p *Page) Run(source string) (string, error) {
	var out string
	err := p.runSync(func(vm *goja.Runtime) error {
		v, err := vm.RunString(source)
		if err != nil {
			return err
		}
		out = display(v)
		return nil
	})
	return out, err
}

// Evaluate schedules script on the page loop and reports the exported result
// to done. It never blocks.
func (p *Page) Evaluate(script string, done func(result any, err error)) {
	if p.closed.Load() {
		done(nil, ErrClosed)
		return
	}
	p.loop.RunOnLoop(func(vm *goja.Runtime) {
		v, err := vm.RunString(script)
		if err != nil {
			done(nil, err)
			return
		}
		done(v.Export(), nil)
	})
}

// Close stops the loop. Pending timers are dropped.
func (p *Page) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.done)
	p.loop.Stop()
}

func (p *Page) runSync(fn func(vm *goja.Runtime) error) error {
	if p.closed.Load() {
		return ErrClosed
	}
	errc := make(chan error, 1)
	p.loop.RunOnLoop(func(vm *goja.Runtime) {
		defer func() {
			if rec := recover(); rec != nil {
				errc <- fmt.Errorf("page script panicked: %v", rec)
			}
		}()
		errc <- fn(vm)
	})
	select {
	case err := <-errc:
		return err
	case <-p.done:
		return ErrClosed
	}
}

func display(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(obj); !isFn {
			if data, err := obj.MarshalJSON(); err == nil {
				return string(data)
			}
		}
	}
	return v.String()
}

type logPrinter struct{}

func (logPrinter) Log(s string)   { logger.InfoC("page", s) }
func (logPrinter) Warn(s string)  { logger.WarnC("page", s) }
func (logPrinter) Error(s string) { logger.ErrorC("page", s) }

// consolePrinter adapts Printer to the console module, which may also ask
// for info and debug output.
type consolePrinter struct {
	Printer
}

func (c consolePrinter) Info(s string)  { c.Log(s) }
func (c consolePrinter) Debug(s string) { c.Log(s) }
