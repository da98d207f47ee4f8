package device

import (
	"context"
	"fmt"
	"os"

	"github.com/sipeed/halbridge/pkg/utils"
)

// Static answers captures from configuration: a fixed barcode text and a photo
// file. Used on hosts without camera hardware and in demos.
type Static struct {
	barcode   string
	photoPath string
	maxDim    int
}

func NewStatic(barcode, photoPath string, maxDim int) *Static {
	return &Static{barcode: barcode, photoPath: photoPath, maxDim: maxDim}
}

func (s *Static) ScanBarcode(ctx context.Context, facing Facing) (string, error) {
	if err := contextErr(ctx); err != nil {
		return "", err
	}
	if s.barcode == "" {
		return "", ErrUnavailable
	}
	return s.barcode, nil
}

func (s *Static) TakePhoto(ctx context.Context, facing Facing) ([]byte, error) {
	if err := contextErr(ctx); err != nil {
		return nil, err
	}
	if s.photoPath == "" {
		return nil, ErrUnavailable
	}
	if !utils.IsImageFile(s.photoPath) {
		return nil, fmt.Errorf("%w: %s is not an image", ErrUnavailable, s.photoPath)
	}
	data, err := os.ReadFile(s.photoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return utils.NormalizePhoto(data, s.maxDim)
}
