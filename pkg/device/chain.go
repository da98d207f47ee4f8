package device

import (
	"context"
	"errors"

	"github.com/sipeed/halbridge/pkg/logger"
)

// BackendAuto tries the termux backend and falls back to the static one.
const BackendAuto = "auto"

// Chain routes each capture to the first provider that supports it. A
// provider answering ErrUnsupported passes the capture to the next one; any
// other error, including cancellation, ends the capture.
type Chain struct {
	names     []string
	providers []provider
}

type provider interface {
	Camera
	Scanner
}

func newChain() *Chain {
	return &Chain{}
}

func (c *Chain) add(name string, p provider) *Chain {
	for _, n := range c.names {
		if n == name {
			return c
		}
	}
	c.names = append(c.names, name)
	c.providers = append(c.providers, p)
	return c
}

// Backends lists the chain in try order.
func (c *Chain) Backends() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

func (c *Chain) ScanBarcode(ctx context.Context, facing Facing) (string, error) {
	for i, p := range c.providers {
		text, err := p.ScanBarcode(ctx, facing)
		if !errors.Is(err, ErrUnsupported) {
			return text, err
		}
		c.logFallthrough("scan", i)
	}
	return "", ErrUnsupported
}

func (c *Chain) TakePhoto(ctx context.Context, facing Facing) ([]byte, error) {
	for i, p := range c.providers {
		data, err := p.TakePhoto(ctx, facing)
		if !errors.Is(err, ErrUnsupported) {
			return data, err
		}
		c.logFallthrough("photo", i)
	}
	return nil, ErrUnsupported
}

func (c *Chain) logFallthrough(capture string, i int) {
	next := ""
	if i+1 < len(c.names) {
		next = c.names[i+1]
	}
	logger.DebugCF("device", "Backend unsupported, trying next", map[string]interface{}{
		"capture": capture,
		"backend": c.names[i],
		"next":    next,
	})
}
