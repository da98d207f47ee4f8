package device

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// barcodeReaders are tried in order; QR first since that is what pages
// overwhelmingly ask for.
func barcodeReaders() []gozxing.Reader {
	return []gozxing.Reader{
		qrcode.NewQRCodeReader(),
		oned.NewCode128Reader(),
		oned.NewEAN13Reader(),
	}
}

// DecodeBarcode returns the text of the first barcode found in img.
func DecodeBarcode(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("binarize capture: %w", err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	for _, r := range barcodeReaders() {
		result, err := r.Decode(bmp, hints)
		if err == nil && result != nil && result.GetText() != "" {
			return result.GetText(), nil
		}
	}
	return "", ErrNoBarcode
}

// DecodeBarcodeBytes decodes an encoded JPEG/PNG capture.
func DecodeBarcodeBytes(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", errors.Join(ErrNoBarcode, fmt.Errorf("decode capture: %w", err))
	}
	return DecodeBarcode(img)
}
