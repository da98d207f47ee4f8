package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrMalformedCallback = errors.New("malformed callback source")

// functionHead matches `function [name](params)` at the start of a source.
// It is a textual match, not a parse: nested functions or strings in the body
// are never inspected, and sources whose head differs (arrow functions,
// generators, async functions, methods) are rejected.
var functionHead = regexp.MustCompile(`^function\s*(?:[A-Za-z_$][\w$]*)?\s*\(([^()]*)\)`)

// MakeCallExpression rewrites a serialized function into an anonymous,
// immediately invoked call with the given already-encoded argument
// expressions:
//
//	function named(a, b) { ... }  ->  (function(a, b) { ... }).call(null, 1, 2);
func MakeCallExpression(functionSource string, args []string) (string, error) {
	src := strings.TrimRight(strings.TrimSpace(functionSource), "; \t\r\n")

	loc := functionHead.FindStringSubmatchIndex(src)
	if loc == nil {
		return "", fmt.Errorf("%w: no function head", ErrMalformedCallback)
	}
	params := strings.TrimSpace(src[loc[2]:loc[3]])
	body := strings.TrimSpace(src[loc[1]:])
	if !strings.HasPrefix(body, "{") || !strings.HasSuffix(body, "}") {
		return "", fmt.Errorf("%w: missing function body", ErrMalformedCallback)
	}

	var b strings.Builder
	b.WriteString("(function(")
	b.WriteString(params)
	b.WriteString(") ")
	b.WriteString(body)
	b.WriteString(").call(null")
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			arg = "undefined"
		}
		b.WriteString(", ")
		b.WriteString(arg)
	}
	b.WriteString(");")
	return b.String(), nil
}

// EncodeArgs turns native values into script argument expressions. Strings
// become quoted literals, maps and structs object literals and
// json.RawMessage is embedded as is.
func EncodeArgs(values ...any) ([]string, error) {
	out := make([]string, 0, len(values))
	for i, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		out = append(out, string(data))
	}
	return out, nil
}

// eventScript builds `global.triggerEvent("name", args...);`.
func eventScript(global, event string, args ...any) (string, error) {
	encoded, err := EncodeArgs(append([]any{event}, args...)...)
	if err != nil {
		return "", err
	}
	return global + ".triggerEvent(" + strings.Join(encoded, ", ") + ");", nil
}
