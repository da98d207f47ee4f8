// Package bridge is the native half of the page bridge: it decodes commands
// posted by the page, routes them to capability handlers and returns results
// by evaluating synthesized script back in the page.
package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Built-in command names.
const (
	CmdScanBarcode    = "ScanBarcode"
	CmdTakePhoto      = "TakePhoto"
	CmdInitialization = "Initialization"
)

// Page events triggered from native code.
const (
	EventScanSuccess = "ScanSuccess"
	EventTimeout     = "Timeout"
)

var ErrInvalidCommand = errors.New("invalid command")

// Command is one page-to-native request envelope.
type Command struct {
	Name     string          `json:"message"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Callback string          `json:"callback,omitempty"`
}

// DecodeCommand parses a posted message body. The body must be a JSON object
// with a non-empty string "message"; "callback" must be a string when present.
func DecodeCommand(body []byte) (Command, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if fields == nil {
		return Command{}, fmt.Errorf("%w: body is not an object", ErrInvalidCommand)
	}

	var cmd Command
	rawName, ok := fields["message"]
	if !ok {
		return Command{}, fmt.Errorf("%w: missing message", ErrInvalidCommand)
	}
	if err := json.Unmarshal(rawName, &cmd.Name); err != nil {
		return Command{}, fmt.Errorf("%w: message is not a string", ErrInvalidCommand)
	}
	if strings.TrimSpace(cmd.Name) == "" {
		return Command{}, fmt.Errorf("%w: empty message", ErrInvalidCommand)
	}

	if rawCallback, ok := fields["callback"]; ok && !isNull(rawCallback) {
		if err := json.Unmarshal(rawCallback, &cmd.Callback); err != nil {
			return Command{}, fmt.Errorf("%w: callback is not a string", ErrInvalidCommand)
		}
	}

	if rawPayload, ok := fields["payload"]; ok {
		cmd.Payload = rawPayload
	}
	return cmd, nil
}

// PayloadString returns the payload when it is a JSON string.
func (c Command) PayloadString() (string, bool) {
	if PayloadShape(c.Payload) != "string" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(c.Payload, &s); err != nil {
		return "", false
	}
	return s, true
}

func (c Command) HasCallback() bool {
	return c.Callback != ""
}

// Kind is the closed set of built-in commands plus KindExtension for every
// other name.
type Kind int

const (
	KindExtension Kind = iota
	KindScanBarcode
	KindTakePhoto
	KindInitialization
)

func KindOf(name string) Kind {
	switch name {
	case CmdScanBarcode:
		return KindScanBarcode
	case CmdTakePhoto:
		return KindTakePhoto
	case CmdInitialization:
		return KindInitialization
	default:
		return KindExtension
	}
}

func (k Kind) String() string {
	switch k {
	case KindScanBarcode:
		return CmdScanBarcode
	case KindTakePhoto:
		return CmdTakePhoto
	case KindInitialization:
		return CmdInitialization
	default:
		return "extension"
	}
}

// PayloadShape describes a raw payload for diagnostics without logging its
// contents.
func PayloadShape(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "absent"
	}
	switch trimmed[0] {
	case 'n':
		return "null"
	case '"':
		return "string"
	case 't', 'f':
		return "bool"
	case '{':
		return "object"
	case '[':
		return "array"
	default:
		return "number"
	}
}

func isNull(raw json.RawMessage) bool {
	return PayloadShape(raw) == "null"
}
