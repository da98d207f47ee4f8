package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sipeed/halbridge/pkg/device"
	"github.com/sipeed/halbridge/pkg/logger"
	"github.com/sipeed/halbridge/pkg/utils"
)

// handleScanBarcode scans with the requested facing (default back). On
// success the page gets a ScanSuccess event and, independently, the
// callback.
func (b *Bridge) handleScanBarcode(_ context.Context, call *Call) {
	requested, _ := call.PayloadString()
	facing := device.ParseFacing(requested, device.FacingBack)

	b.runCapture(call, func(ctx context.Context) (string, error) {
		text, err := b.devices.Scanner.ScanBarcode(ctx, facing)
		if err != nil {
			return "", err
		}
		if err := b.Trigger(EventScanSuccess, text); err != nil {
			return "", err
		}
		if call.HasCallback() {
			if err := b.invokeCallback(call.Callback, call.CorrelationID, text); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("facing=%s length=%d", facing, len(text)), nil
	})
}

// handleTakePhoto captures a PNG (default front camera) and hands it to the
// callback base64-encoded. No page event is triggered.
func (b *Bridge) handleTakePhoto(_ context.Context, call *Call) {
	requested, _ := call.PayloadString()
	facing := device.ParseFacing(requested, device.FacingFront)

	b.runCapture(call, func(ctx context.Context) (string, error) {
		data, err := b.devices.Camera.TakePhoto(ctx, facing)
		if err != nil {
			return "", err
		}

		if b.photos != nil {
			if err := b.photos.Archive(data, string(facing), call.CorrelationID); err != nil {
				logger.WarnCF("bridge", "Failed to archive photo", map[string]interface{}{
					"correlation_id": call.CorrelationID,
					"error":          err.Error(),
				})
			}
		}

		if call.HasCallback() {
			if err := b.invokeCallback(call.Callback, call.CorrelationID, utils.EncodeBase64(data)); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("facing=%s bytes=%d", facing, len(data)), nil
	})
}

// handleInitialization passes the stored arguments to the callback as a
// JSON object. Nothing happens without a callback or stored arguments.
func (b *Bridge) handleInitialization(_ context.Context, call *Call) {
	if !call.HasCallback() {
		b.finish(call, "no callback", nil)
		return
	}
	if b.args == nil {
		b.finish(call, "no argument store", nil)
		return
	}

	args, exists, err := b.args.Load()
	if err != nil {
		b.finish(call, "", fmt.Errorf("load stored arguments: %w", err))
		return
	}
	if !exists {
		b.finish(call, "no stored arguments", nil)
		return
	}

	encoded, err := json.Marshal(args)
	if err != nil {
		b.finish(call, "", fmt.Errorf("encode stored arguments: %w", err))
		return
	}
	if err := b.invokeCallback(call.Callback, call.CorrelationID, json.RawMessage(encoded)); err != nil {
		b.finish(call, "", err)
		return
	}
	b.finish(call, fmt.Sprintf("arguments=%d", len(args)), nil)
}
