package model

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/nfnt/resize"
)

// DefaultMaxPixels bounds the decoded size of an upload (about 100 MB of RGBA).
const DefaultMaxPixels = 25_000_000

// DecodeImage reads a JPEG, PNG or GIF image. The header is checked first
// so an image declaring more than maxPixels pixels is rejected before any
// pixel buffer is allocated. maxPixels <= 0 uses DefaultMaxPixels.
func DecodeImage(r io.Reader, maxPixels int) (image.Image, string, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: empty image", ErrDecode)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", ErrDecode, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(io.MultiReader(&header, r))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", fmt.Errorf("%w: empty image", ErrDecode)
	}
	return img, format, nil
}

// Preprocess resizes img to the model resolution and fills a freshly
// allocated [1,H,W,3] (or [1,3,H,W]) tensor with values in [0,1].
func Preprocess(alloc *Allocator, img image.Image, meta Metadata) (*Tensor, error) {
	size := meta.ImageSize
	if size <= 0 {
		return nil, fmt.Errorf("%w: image size %d", ErrShape, size)
	}

	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var t *Tensor
	if meta.Layout == LayoutNCHW {
		t = alloc.NewTensor(1, 3, int64(height), int64(width))
	} else {
		t = alloc.NewTensor(1, int64(height), int64(width), 3)
	}
	if want := meta.InputSize(); want != 0 && want != len(t.Data) {
		t.Release()
		return nil, fmt.Errorf("%w: preprocessed %d values, model expects %d", ErrShape, 3*width*height, want)
	}

	plane := width * height
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			rNorm := float32(r) / 65535.0
			gNorm := float32(g) / 65535.0
			bNorm := float32(b) / 65535.0

			pixelIndex := y*width + x
			if meta.Layout == LayoutNCHW {
				t.Data[pixelIndex] = rNorm
				t.Data[plane+pixelIndex] = gNorm
				t.Data[2*plane+pixelIndex] = bNorm
			} else {
				t.Data[3*pixelIndex] = rNorm
				t.Data[3*pixelIndex+1] = gNorm
				t.Data[3*pixelIndex+2] = bNorm
			}
		}
	}

	return t, nil
}
