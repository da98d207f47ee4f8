package bridge

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantName string
		wantCb   string
		wantErr  bool
	}{
		{"full", `{"message":"ScanBarcode","payload":"front","callback":"function(r){}"}`, "ScanBarcode", "function(r){}", false},
		{"no payload", `{"message":"Initialization"}`, "Initialization", "", false},
		{"null callback", `{"message":"TakePhoto","callback":null}`, "TakePhoto", "", false},
		{"missing message", `{"payload":1}`, "", "", true},
		{"empty message", `{"message":"  "}`, "", "", true},
		{"numeric message", `{"message":3}`, "", "", true},
		{"callback object", `{"message":"X","callback":{}}`, "", "", true},
		{"array body", `[1,2]`, "", "", true},
		{"null body", `null`, "", "", true},
		{"garbage", `{`, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCommand) {
					t.Fatalf("err = %v, want ErrInvalidCommand", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeCommand: %v", err)
			}
			if cmd.Name != tt.wantName || cmd.Callback != tt.wantCb {
				t.Fatalf("got %+v", cmd)
			}
		})
	}
}

func TestPayloadString(t *testing.T) {
	cmd := Command{Name: "ScanBarcode", Payload: json.RawMessage(`"front"`)}
	if s, ok := cmd.PayloadString(); !ok || s != "front" {
		t.Fatalf("PayloadString() = %q, %v", s, ok)
	}
	cmd.Payload = json.RawMessage(`{"facing":"front"}`)
	if _, ok := cmd.PayloadString(); ok {
		t.Fatal("object payload reported as string")
	}
}

func TestPayloadShape(t *testing.T) {
	tests := map[string]string{
		``:         "absent",
		`null`:     "null",
		`"x"`:      "string",
		`12.5`:     "number",
		`-1`:       "number",
		`true`:     "bool",
		` {"a":1}`: "object",
		`[1]`:      "array",
	}
	for in, want := range tests {
		if got := PayloadShape(json.RawMessage(in)); got != want {
			t.Errorf("PayloadShape(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKindOf(t *testing.T) {
	if KindOf("ScanBarcode") != KindScanBarcode || KindOf("TakePhoto") != KindTakePhoto ||
		KindOf("Initialization") != KindInitialization {
		t.Fatal("built-in names not mapped to their kinds")
	}
	if k := KindOf("Vibrate"); k != KindExtension || k.String() != "extension" {
		t.Fatalf("KindOf(Vibrate) = %v", k)
	}
}
