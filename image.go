package tricolor

import (
	"errors"
	"image"
	"image/color"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ErrInvalidChannelCount is returned when the input is not a 3 channel RGB
// image.
var ErrInvalidChannelCount = errors.New("tricolor: image must have exactly 3 channels")

// Channels reports the number of meaningful channels of img. Gray and alpha
// images have 1, CMYK images and images with any translucent pixel have 4,
// everything else has 3.
func Channels(img image.Image) int {
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model, color.AlphaModel, color.Alpha16Model:
		return 1
	case color.CMYKModel:
		return 4
	}

	if o, ok := img.(interface{ Opaque() bool }); ok && !o.Opaque() {
		return 4
	}

	return 3
}

// GridFromImage copies an RGB image into a Grid.
func GridFromImage(img image.Image) (*Grid, error) {
	if Channels(img) != 3 {
		return nil, ErrInvalidChannelCount
	}

	bounds := img.Bounds()
	g := NewGrid(bounds.Dx(), bounds.Dy())
	for y := 0; y < g.Height; y++ {
		readRow(g.Pix[y*g.Stride:y*g.Stride+g.Width], img, bounds.Min.Y+y)
	}

	return g, nil
}

// readRow fills dst with the pixels of row y of img.
func readRow(dst []Pixel, img image.Image, y int) {
	minX := img.Bounds().Min.X

	switch src := img.(type) {
	case *image.RGBA:
		off := src.PixOffset(minX, y)
		for x := range dst {
			p := src.Pix[off+x*4 : off+x*4+3]
			dst[x] = Pixel{R: p[0], G: p[1], B: p[2]}
		}
	case *image.NRGBA:
		off := src.PixOffset(minX, y)
		for x := range dst {
			p := src.Pix[off+x*4 : off+x*4+3]
			dst[x] = Pixel{R: p[0], G: p[1], B: p[2]}
		}
	default:
		for x := range dst {
			dst[x] = pixelOf(img.At(minX+x, y))
		}
	}
}

// PackOptions configures PackImage.
type PackOptions struct {
	// Workers is the number of row bands packed concurrently. Zero uses one
	// band per CPU.
	Workers int
}

// PackImage quantizes and packs an RGB image. Rows are split into contiguous
// bands that are packed concurrently, each into its own range of the output,
// so the result is identical to Pack on the same pixels.
func PackImage(img image.Image, opts PackOptions) (*Bitmap, error) {
	if Channels(img) != 3 {
		return nil, ErrInvalidChannelCount
	}

	bounds := img.Bounds()
	b := newBitmap(bounds.Dx(), bounds.Dy())

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > b.Height {
		workers = b.Height
	}
	if workers == 0 || b.Stride() == 0 {
		return b, nil
	}

	band := (b.Height + workers - 1) / workers

	var g errgroup.Group
	for start := 0; start < b.Height; start += band {
		start, end := start, start+band
		if end > b.Height {
			end = b.Height
		}

		g.Go(func() error {
			row := make([]Pixel, b.Width)
			for y := start; y < end; y++ {
				readRow(row, img, bounds.Min.Y+y)
				packRow(b.row(y), row)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return b, nil
}
