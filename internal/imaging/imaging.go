// Package imaging turns uploaded photos into the JPEG assets stored for a box.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/nfnt/resize"
	"github.com/vbonduro/storagesync/internal/domain"
)

// MimeType is the content type of every normalized image.
const MimeType = "image/jpeg"

// Quality is the JPEG quality used when re-encoding.
const Quality = 80

// MaxPixels bounds the declared size of an upload. Decoders allocate the
// whole pixel buffer from the header, so larger images are refused before
// decoding.
const MaxPixels = 40_000_000

// Normalize decodes a JPEG, PNG or GIF image, shrinks it to fit within
// maxDimension on its longest side, and re-encodes it as JPEG. Images that
// already fit are re-encoded at their original size. A zero maxDimension
// disables resizing. Every failure is a *domain.ConversionError.
func Normalize(r io.Reader, maxDimension uint) ([]byte, error) {
	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return nil, &domain.ConversionError{Op: "decode", Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &domain.ConversionError{Op: "decode", Err: errEmptyImage}
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, &domain.ConversionError{
			Op:  "decode",
			Err: fmt.Errorf("%dx%d exceeds %d pixels: %w", cfg.Width, cfg.Height, MaxPixels, errTooLarge),
		}
	}

	img, _, err := image.Decode(io.MultiReader(&header, r))
	if err != nil {
		return nil, &domain.ConversionError{Op: "decode", Err: err}
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, &domain.ConversionError{Op: "decode", Err: errEmptyImage}
	}

	if maxDimension > 0 && (uint(bounds.Dx()) > maxDimension || uint(bounds.Dy()) > maxDimension) {
		img = resize.Thumbnail(maxDimension, maxDimension, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, &domain.ConversionError{Op: "encode", Err: err}
	}
	return buf.Bytes(), nil
}

var (
	errEmptyImage = errors.New("image has no pixels")
	errTooLarge   = errors.New("image too large")
)
