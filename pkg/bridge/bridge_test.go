package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dop251/goja"

	"github.com/sipeed/halbridge/pkg/bus"
	"github.com/sipeed/halbridge/pkg/device"
	"github.com/sipeed/halbridge/pkg/idle"
)

// testPage evaluates scripts synchronously in a goja VM that records the
// events and callback invocations it receives.
type testPage struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	scripts []string
	errs    []error
}

const testPagePrelude = `
var events = [];
var results = [];
var rc_hal = {
	triggerEvent: function () { events.push(Array.prototype.slice.call(arguments)); }
};
`

func newTestPage(t *testing.T) *testPage {
	t.Helper()
	vm := goja.New()
	if _, err := vm.RunString(testPagePrelude); err != nil {
		t.Fatalf("prelude: %v", err)
	}
	return &testPage{vm: vm}
}

func (p *testPage) Evaluate(script string, done func(any, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, script)
	v, err := p.vm.RunString(script)
	if err != nil {
		p.errs = append(p.errs, err)
		done(nil, err)
		return
	}
	done(v.Export(), nil)
}

func (p *testPage) jsonOf(t *testing.T, expr string) string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vm.RunString("JSON.stringify(" + expr + ")")
	if err != nil {
		t.Fatalf("read %s: %v", expr, err)
	}
	return v.String()
}

const resultCallback = "function cb(result, error) { results.push([result, error === undefined ? null : error]); }"

func post(t *testing.T, b *Bridge, id string, body any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.HandleMessage(bus.InboundMessage{Channel: "halbridge", Body: data, CorrelationID: id}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
}

type stubScanner struct {
	mu      sync.Mutex
	facings []device.Facing
	text    string
	err     error
	block   chan struct{}
	started chan struct{}
}

func (s *stubScanner) ScanBarcode(ctx context.Context, facing device.Facing) (string, error) {
	s.mu.Lock()
	s.facings = append(s.facings, facing)
	s.mu.Unlock()
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", device.ErrCancelled
		}
	}
	return s.text, s.err
}

type stubCamera struct {
	data   []byte
	err    error
	facing device.Facing
}

func (c *stubCamera) TakePhoto(ctx context.Context, facing device.Facing) ([]byte, error) {
	c.facing = facing
	return c.data, c.err
}

type mapArgs struct {
	args   map[string]string
	exists bool
	err    error
}

func (m mapArgs) Load() (map[string]string, bool, error) {
	return m.args, m.exists, m.err
}

type recordingArchive struct {
	saved [][]byte
}

func (a *recordingArchive) Archive(data []byte, facing, correlationID string) error {
	a.saved = append(a.saved, data)
	return nil
}

func TestScanBarcodeFiresEventAndCallback(t *testing.T) {
	page := newTestPage(t)
	scanner := &stubScanner{text: "ABC123"}
	b := New(Options{
		Evaluator: page,
		Devices:   &device.Set{Scanner: scanner, Camera: device.Unsupported{}},
	})
	defer b.Close()

	post(t, b, "s1", map[string]any{"message": "ScanBarcode", "payload": "front", "callback": resultCallback})
	b.Wait()

	if got := page.jsonOf(t, "events"); got != `[["ScanSuccess","ABC123"]]` {
		t.Fatalf("events = %s", got)
	}
	if got := page.jsonOf(t, "results"); got != `[["ABC123",null]]` {
		t.Fatalf("results = %s", got)
	}
	if scanner.facings[0] != device.FacingFront {
		t.Fatalf("facing = %s, want front", scanner.facings[0])
	}
}

func TestScanBarcodeWithoutCallbackStillFiresEvent(t *testing.T) {
	page := newTestPage(t)
	scanner := &stubScanner{text: "XYZ"}
	b := New(Options{Evaluator: page, Devices: &device.Set{Scanner: scanner, Camera: device.Unsupported{}}})
	defer b.Close()

	post(t, b, "s2", map[string]any{"message": "ScanBarcode", "payload": "sideways"})
	b.Wait()

	if got := page.jsonOf(t, "events"); got != `[["ScanSuccess","XYZ"]]` {
		t.Fatalf("events = %s", got)
	}
	if got := page.jsonOf(t, "results"); got != `[]` {
		t.Fatalf("results = %s", got)
	}
	if scanner.facings[0] != device.FacingBack {
		t.Fatalf("facing = %s, want back for unrecognised payload", scanner.facings[0])
	}
}

func TestFailureIsSilentByDefault(t *testing.T) {
	var log traceLog
	page := newTestPage(t)
	b := New(Options{Evaluator: page})
	b.OnTrace(log.hook)
	defer b.Close()

	post(t, b, "f1", map[string]any{"message": "ScanBarcode", "callback": resultCallback})
	b.Wait()

	if len(page.scripts) != 0 {
		t.Fatalf("failed capture evaluated scripts: %v", page.scripts)
	}
	tr, ok := log.terminal("f1")
	if !ok || tr.Outcome != OutcomeFailed || tr.Reason != ReasonUnsupported {
		t.Fatalf("unexpected trace: %+v (found=%v)", tr, ok)
	}
	if tr.PayloadShape != "absent" || !tr.HasCallback {
		t.Fatalf("trace lacks context: %+v", tr)
	}
}

func TestReportFailuresInvokesCallbackWithReason(t *testing.T) {
	page := newTestPage(t)
	b := New(Options{
		Evaluator:      page,
		Devices:        &device.Set{Camera: &stubCamera{err: device.ErrPermissionDenied}, Scanner: device.Unsupported{}},
		ReportFailures: true,
	})
	defer b.Close()

	post(t, b, "f2", map[string]any{"message": "TakePhoto", "callback": resultCallback})
	b.Wait()

	got := page.jsonOf(t, "results")
	if !strings.HasPrefix(got, `[[null,"permission_denied: `) {
		t.Fatalf("results = %s", got)
	}
}

func TestTakePhotoReturnsBase64AndArchives(t *testing.T) {
	page := newTestPage(t)
	camera := &stubCamera{data: []byte{0x89, 'P', 'N', 'G'}}
	archive := &recordingArchive{}
	b := New(Options{
		Evaluator: page,
		Devices:   &device.Set{Camera: camera, Scanner: device.Unsupported{}},
		Photos:    archive,
	})
	defer b.Close()

	post(t, b, "p1", map[string]any{"message": "TakePhoto", "callback": resultCallback})
	b.Wait()

	if got := page.jsonOf(t, "results"); got != `[["iVBORw==",null]]` {
		t.Fatalf("results = %s", got)
	}
	if got := page.jsonOf(t, "events"); got != `[]` {
		t.Fatalf("TakePhoto triggered events: %s", got)
	}
	if camera.facing != device.FacingFront {
		t.Fatalf("facing = %s, want front", camera.facing)
	}
	if len(archive.saved) != 1 {
		t.Fatalf("archived %d photos, want 1", len(archive.saved))
	}
}

func TestInitializationPassesArgumentsObject(t *testing.T) {
	page := newTestPage(t)
	b := New(Options{
		Evaluator: page,
		Arguments: mapArgs{args: map[string]string{"user": "ada", "station": "7"}, exists: true},
	})
	defer b.Close()

	post(t, b, "i1", map[string]any{"message": "Initialization", "payload": 99,
		"callback": "function(args) { results.push(args.user + '@' + args.station); }"})

	if got := page.jsonOf(t, "results"); got != `["ada@7"]` {
		t.Fatalf("results = %s", got)
	}
}

func TestInitializationWithoutStoredArguments(t *testing.T) {
	for name, args := range map[string]ArgumentsReader{
		"missing": mapArgs{},
		"nil":     nil,
		"error":   mapArgs{err: errors.New("disk gone")},
	} {
		t.Run(name, func(t *testing.T) {
			page := newTestPage(t)
			b := New(Options{Evaluator: page, Arguments: args})
			defer b.Close()

			post(t, b, "i2", map[string]any{"message": "Initialization", "callback": resultCallback})
			if len(page.scripts) != 0 {
				t.Fatalf("evaluated scripts: %v", page.scripts)
			}
		})
	}
}

func TestInitializationEmptyArgumentsStillCalls(t *testing.T) {
	page := newTestPage(t)
	b := New(Options{Evaluator: page, Arguments: mapArgs{args: map[string]string{}, exists: true}})
	defer b.Close()

	post(t, b, "i3", map[string]any{"message": "Initialization", "callback": resultCallback})
	if got := page.jsonOf(t, "results"); got != `[[{},null]]` {
		t.Fatalf("results = %s", got)
	}
}

func TestMalformedCallbackFailsClosed(t *testing.T) {
	var log traceLog
	page := newTestPage(t)
	b := New(Options{
		Evaluator:      page,
		Devices:        &device.Set{Scanner: &stubScanner{text: "ABC"}, Camera: device.Unsupported{}},
		ReportFailures: true,
	})
	b.OnTrace(log.hook)
	defer b.Close()

	post(t, b, "m1", map[string]any{"message": "ScanBarcode", "callback": "(r) => results.push(r)"})
	b.Wait()

	if len(page.errs) != 0 {
		t.Fatalf("malformed script reached the page: %v", page.errs)
	}
	if got := page.jsonOf(t, "results"); got != `[]` {
		t.Fatalf("results = %s", got)
	}
	// the event path is independent of the callback
	if got := page.jsonOf(t, "events"); got != `[["ScanSuccess","ABC"]]` {
		t.Fatalf("events = %s", got)
	}
	if tr, _ := log.terminal("m1"); tr.Reason != ReasonMalformedCallback {
		t.Fatalf("reason = %q, want malformed_callback", tr.Reason)
	}
}

func TestBusyCapabilityIsRejected(t *testing.T) {
	var log traceLog
	page := newTestPage(t)
	scanner := &stubScanner{text: "ONE", block: make(chan struct{}), started: make(chan struct{}, 2)}
	b := New(Options{
		Evaluator:  page,
		Devices:    &device.Set{Scanner: scanner, Camera: device.Unsupported{}},
		RejectBusy: true,
	})
	b.OnTrace(log.hook)
	defer b.Close()

	post(t, b, "b1", map[string]any{"message": "ScanBarcode"})
	<-scanner.started
	post(t, b, "b2", map[string]any{"message": "ScanBarcode"})

	tr, ok := log.terminal("b2")
	if !ok || tr.Reason != ReasonBusy {
		t.Fatalf("second scan trace = %+v (found=%v), want busy", tr, ok)
	}

	close(scanner.block)
	b.Wait()
	if tr, _ := log.terminal("b1"); tr.Outcome != OutcomeSucceeded {
		t.Fatalf("first scan trace = %+v", tr)
	}

	// the capability is free again once the first scan finished
	post(t, b, "b3", map[string]any{"message": "ScanBarcode"})
	<-scanner.started
	b.Wait()
	if tr, _ := log.terminal("b3"); tr.Outcome != OutcomeSucceeded {
		t.Fatalf("third scan trace = %+v", tr)
	}
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	var log traceLog
	page := newTestPage(t)
	b := New(Options{Evaluator: page})
	b.OnTrace(log.hook)
	defer b.Close()

	post(t, b, "u1", map[string]any{"message": "SelfDestruct", "callback": resultCallback})
	if len(page.scripts) != 0 {
		t.Fatalf("unknown command evaluated scripts: %v", page.scripts)
	}
	if tr, ok := log.terminal("u1"); !ok || tr.Outcome != OutcomeIgnored {
		t.Fatalf("trace = %+v (found=%v)", tr, ok)
	}
}

func TestMalformedMessageIsRejected(t *testing.T) {
	var log traceLog
	b := New(Options{})
	b.OnTrace(log.hook)
	defer b.Close()

	err := b.HandleMessage(bus.InboundMessage{Body: json.RawMessage(`{"payload":1}`), CorrelationID: "r1"})
	if !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("err = %v, want ErrInvalidCommand", err)
	}
	if tr, ok := log.terminal("r1"); !ok || tr.Outcome != OutcomeRejected {
		t.Fatalf("trace = %+v (found=%v)", tr, ok)
	}
}

func TestExtensionsCannotShadowBuiltins(t *testing.T) {
	called := false
	b := New(Options{Extensions: map[string]Handler{
		CmdTakePhoto: HandlerFunc(func(context.Context, *Call) { called = true }),
		"Vibrate":    HandlerFunc(func(context.Context, *Call) { called = true }),
	}})
	defer b.Close()

	want := []string{"Initialization", "ScanBarcode", "TakePhoto", "Vibrate"}
	if got := b.Commands(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Commands() = %v, want %v", got, want)
	}
	post(t, b, "e1", map[string]any{"message": "TakePhoto"})
	b.Wait()
	if called {
		t.Fatal("extension replaced the built-in TakePhoto")
	}
	post(t, b, "e2", map[string]any{"message": "Vibrate"})
	if !called {
		t.Fatal("extension command not dispatched")
	}
}

func TestIdleCancelsCapturesAndTriggersTimeout(t *testing.T) {
	var log traceLog
	page := newTestPage(t)
	scanner := &stubScanner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	b := New(Options{
		Evaluator: page,
		Devices:   &device.Set{Scanner: scanner, Camera: device.Unsupported{}},
	})
	b.OnTrace(log.hook)
	defer b.Close()

	post(t, b, "t1", map[string]any{"message": "ScanBarcode", "callback": resultCallback})
	<-scanner.started

	sig := idle.New(20 * time.Millisecond)
	fired := make(chan struct{})
	b.AttachIdle(sig)
	sig.OnIdle(func() { close(fired) })
	sig.Start()
	defer sig.Stop()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("idle signal did not fire")
	}
	b.Wait()

	if got := page.jsonOf(t, "events"); got != `[["Timeout"]]` {
		t.Fatalf("events = %s", got)
	}
	if tr, _ := log.terminal("t1"); tr.Reason != ReasonCancelled {
		t.Fatalf("capture trace = %+v, want cancelled", tr)
	}
}

func TestCaptureTimeout(t *testing.T) {
	var log traceLog
	scanner := &stubScanner{block: make(chan struct{})}
	b := New(Options{
		Devices:        &device.Set{Scanner: scanner, Camera: device.Unsupported{}},
		CaptureTimeout: 10 * time.Millisecond,
	})
	b.OnTrace(log.hook)
	defer b.Close()

	post(t, b, "to1", map[string]any{"message": "ScanBarcode"})
	b.Wait()
	tr, _ := log.terminal("to1")
	if tr.Outcome != OutcomeFailed {
		t.Fatalf("trace = %+v, want failed", tr)
	}
}

func TestTriggerWithoutPageDoesNotPanic(t *testing.T) {
	b := New(Options{})
	defer b.Close()
	if err := b.Trigger(EventTimeout); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if err := b.InvokeCallback("not a function", 1); !errors.Is(err, ErrMalformedCallback) {
		t.Fatalf("InvokeCallback err = %v, want ErrMalformedCallback", err)
	}
}

func TestInvalidGlobalNameFallsBack(t *testing.T) {
	b := New(Options{GlobalName: "rc hal; alert(1)"})
	defer b.Close()
	if b.GlobalName() != DefaultGlobalName {
		t.Fatalf("GlobalName() = %q", b.GlobalName())
	}
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		err  error
		want Reason
	}{
		{nil, ReasonNone},
		{device.ErrUnsupported, ReasonUnsupported},
		{device.ErrNoBarcode, ReasonUnavailable},
		{device.ErrCancelled, ReasonCancelled},
		{context.Canceled, ReasonCancelled},
		{errors.Join(device.ErrCancelled, context.DeadlineExceeded), ReasonTimeout},
		{ErrBusy, ReasonBusy},
		{ErrMalformedCallback, ReasonMalformedCallback},
		{errors.New("boom"), ReasonInternal},
	}
	for _, tt := range tests {
		if got := ReasonFor(tt.err); got != tt.want {
			t.Errorf("ReasonFor(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
