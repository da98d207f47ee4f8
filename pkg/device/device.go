// Package device provides the native capability providers behind the bridge
// commands: a camera that returns PNG data and a barcode scanner that returns
// the decoded text.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Facing string

const (
	FacingFront Facing = "front"
	FacingBack  Facing = "back"
)

// ParseFacing accepts "front" or "back"; anything else yields def.
func ParseFacing(s string, def Facing) Facing {
	switch Facing(strings.ToLower(strings.TrimSpace(s))) {
	case FacingFront:
		return FacingFront
	case FacingBack:
		return FacingBack
	default:
		return def
	}
}

var (
	ErrUnsupported      = errors.New("device not supported")
	ErrUnavailable      = errors.New("capture device unavailable")
	ErrPermissionDenied = errors.New("permission denied")
	ErrCancelled        = errors.New("capture cancelled")
	ErrNoBarcode        = errors.New("no barcode found")
)

// Camera captures a still image and returns it PNG-encoded.
type Camera interface {
	TakePhoto(ctx context.Context, facing Facing) ([]byte, error)
}

// Scanner captures and decodes a single barcode.
type Scanner interface {
	ScanBarcode(ctx context.Context, facing Facing) (string, error)
}

type Options struct {
	FrontCameraID     int
	BackCameraID      int
	MaxPhotoDimension int
	// TempDir receives intermediate capture files.
	TempDir         string
	StaticBarcode   string
	StaticPhotoPath string
}

// Set is the provider pair wired into the bridge.
type Set struct {
	Camera  Camera
	Scanner Scanner
}

const (
	BackendTermux = "termux"
	BackendStatic = "static"
	BackendNone   = "none"
)

// New builds the providers for a backend name.
func New(backend string, opts Options) (*Set, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendTermux, "":
		t := newTermux(opts)
		return &Set{Camera: t, Scanner: t}, nil
	case BackendStatic:
		s := NewStatic(opts.StaticBarcode, opts.StaticPhotoPath, opts.MaxPhotoDimension)
		return &Set{Camera: s, Scanner: s}, nil
	case BackendAuto:
		c := newChain().
			add(BackendTermux, newTermux(opts)).
			add(BackendStatic, NewStatic(opts.StaticBarcode, opts.StaticPhotoPath, opts.MaxPhotoDimension))
		return &Set{Camera: c, Scanner: c}, nil
	case BackendNone:
		u := Unsupported{}
		return &Set{Camera: u, Scanner: u}, nil
	default:
		return nil, fmt.Errorf("unknown device backend %q", backend)
	}
}

// Unsupported fails every capture with ErrUnsupported.
type Unsupported struct{}

func (Unsupported) TakePhoto(ctx context.Context, facing Facing) ([]byte, error) {
	return nil, ErrUnsupported
}

func (Unsupported) ScanBarcode(ctx context.Context, facing Facing) (string, error) {
	return "", ErrUnsupported
}

// contextErr maps a finished context onto the capture error taxonomy.
func contextErr(ctx context.Context) error {
	switch ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return fmt.Errorf("%w: %w", ErrCancelled, context.DeadlineExceeded)
	default:
		return ErrCancelled
	}
}
