package bridge

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/dop251/goja"
)

func evalInt(t *testing.T, script string) int64 {
	t.Helper()
	vm := goja.New()
	v, err := vm.RunString(script)
	if err != nil {
		t.Fatalf("evaluate %q: %v", script, err)
	}
	return v.ToInteger()
}

func TestMakeCallExpressionAnonymous(t *testing.T) {
	script, err := MakeCallExpression("function(x){return x+1;}", []string{"41"})
	if err != nil {
		t.Fatalf("MakeCallExpression: %v", err)
	}
	if got := evalInt(t, script); got != 42 {
		t.Fatalf("result = %d, want 42", got)
	}
}

func TestMakeCallExpressionStripsName(t *testing.T) {
	script, err := MakeCallExpression("function named(a,b){return a+b;}", []string{"1", "2"})
	if err != nil {
		t.Fatalf("MakeCallExpression: %v", err)
	}
	if strings.Contains(script, "named") {
		t.Fatalf("name not stripped: %s", script)
	}
	if !strings.HasPrefix(script, "(function(a,b) ") || !strings.HasSuffix(script, ".call(null, 1, 2);") {
		t.Fatalf("unexpected shape: %s", script)
	}
	if got := evalInt(t, script); got != 3 {
		t.Fatalf("result = %d, want 3", got)
	}
}

func TestMakeCallExpressionTrimsInput(t *testing.T) {
	src := "\n  function  cb ( a ) {\n  return a * 2;\n}; "
	script, err := MakeCallExpression(src, []string{"  21 ", ""})
	if err != nil {
		t.Fatalf("MakeCallExpression: %v", err)
	}
	if !strings.HasSuffix(script, ".call(null, 21, undefined);") {
		t.Fatalf("arguments not normalized: %s", script)
	}
	if got := evalInt(t, script); got != 42 {
		t.Fatalf("result = %d, want 42", got)
	}
}

func TestMakeCallExpressionNoArgs(t *testing.T) {
	script, err := MakeCallExpression("function(){ return 7; }", nil)
	if err != nil {
		t.Fatalf("MakeCallExpression: %v", err)
	}
	if got := evalInt(t, script); got != 7 {
		t.Fatalf("result = %d, want 7", got)
	}
}

func TestMakeCallExpressionFailsClosed(t *testing.T) {
	for _, src := range []string{
		"",
		"return 1;",
		"(x) => x + 1",
		"async function(x) { return x; }",
		"function* gen() { yield 1; }",
		"function(a) return a;",
		"var f = function(a) { return a; }",
		"function(a(b)) { }",
	} {
		if _, err := MakeCallExpression(src, []string{"1"}); !errors.Is(err, ErrMalformedCallback) {
			t.Errorf("MakeCallExpression(%q) err = %v, want ErrMalformedCallback", src, err)
		}
	}
}

func TestEncodeArgsRoundTripThroughScript(t *testing.T) {
	args, err := EncodeArgs(
		"quote \" backslash \\ newline \n </script>  ",
		json.RawMessage(`{"user":"ada"}`),
		nil,
		3,
	)
	if err != nil {
		t.Fatalf("EncodeArgs: %v", err)
	}

	script, err := MakeCallExpression(
		"function(s, obj, n, k) { return JSON.stringify([s, obj.user, n, k]); }", args)
	if err != nil {
		t.Fatalf("MakeCallExpression: %v", err)
	}
	v, err := goja.New().RunString(script)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	var got []any
	if err := json.Unmarshal([]byte(v.String()), &got); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if got[0] != "quote \" backslash \\ newline \n </script>  " {
		t.Fatalf("string argument mangled: %q", got[0])
	}
	if got[1] != "ada" || got[2] != nil || got[3] != float64(3) {
		t.Fatalf("unexpected arguments: %v", got)
	}
}

func TestEncodeArgsRejectsUnencodable(t *testing.T) {
	if _, err := EncodeArgs(make(chan int)); err == nil {
		t.Fatal("expected error for channel argument")
	}
}

func TestEventScript(t *testing.T) {
	script, err := eventScript("rc_hal", "ScanSuccess", "ABC123")
	if err != nil {
		t.Fatal(err)
	}
	if script != `rc_hal.triggerEvent("ScanSuccess", "ABC123");` {
		t.Fatalf("eventScript() = %s", script)
	}
}
