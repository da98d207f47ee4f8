//go:build linux

package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sipeed/halbridge/pkg/logger"
	"github.com/sipeed/halbridge/pkg/utils"
)

const cameraPhotoCmd = "termux-camera-photo"

// termux drives the camera through termux-api on Android.
type termux struct {
	opts      Options
	run       func(ctx context.Context, name string, args ...string) (string, error)
	available func() bool
}

func newTermux(opts Options) *termux {
	return &termux{
		opts:      opts,
		run:       runTermuxCommandImpl,
		available: termuxAvailable,
	}
}

func termuxAvailable() bool {
	return utils.IsTermux() && utils.HasCommand(cameraPhotoCmd)
}

// runTermuxCommandImpl executes a termux-api binary and returns its combined output.
func runTermuxCommandImpl(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s: %w (output: %s)", name, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (t *termux) cameraID(facing Facing) int {
	if facing == FacingFront {
		return t.opts.FrontCameraID
	}
	return t.opts.BackCameraID
}

// capture takes one raw JPEG with termux-camera-photo.
func (t *termux) capture(ctx context.Context, facing Facing) ([]byte, error) {
	if !t.available() {
		return nil, ErrUnsupported
	}

	dir := t.opts.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("capture_%s.jpg", time.Now().Format("20060102_150405.000")))
	defer os.Remove(path)

	out, err := t.run(ctx, cameraPhotoCmd, "-c", strconv.Itoa(t.cameraID(facing)), path)
	if cerr := contextErr(ctx); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		return nil, classifyTermuxFailure(out, err)
	}
	// termux-api reports some failures on stdout with a zero exit status
	if strings.Contains(strings.ToLower(out), "permission") {
		return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, strings.TrimSpace(out))
	}

	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		logger.WarnCF("device", "Camera produced no image", map[string]interface{}{
			"camera_id": t.cameraID(facing),
			"output":    strings.TrimSpace(out),
		})
		return nil, ErrUnavailable
	}
	return data, nil
}

func classifyTermuxFailure(out string, err error) error {
	lower := strings.ToLower(out)
	switch {
	case strings.Contains(lower, "permission"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (t *termux) TakePhoto(ctx context.Context, facing Facing) ([]byte, error) {
	raw, err := t.capture(ctx, facing)
	if err != nil {
		return nil, err
	}
	return utils.NormalizePhoto(raw, t.opts.MaxPhotoDimension)
}

func (t *termux) ScanBarcode(ctx context.Context, facing Facing) (string, error) {
	raw, err := t.capture(ctx, facing)
	if err != nil {
		return "", err
	}
	return DecodeBarcodeBytes(raw)
}
