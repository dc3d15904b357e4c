package tricolor

import (
	"errors"
	"fmt"
	"image"
)

// Options configures Convert.
type Options struct {
	// Name is the base name of the generated constants. Empty means "IMAGE".
	Name   string
	Format CodeFormat
	// Width and Height resize the image before packing. Zero keeps the
	// aspect ratio, both zero disables resizing.
	Width   int
	Height  int
	Workers int
}

func (o *Options) validate() error {
	if o.Width < 0 {
		return errors.New("tricolor: Convert: width must not be negative")
	}
	if o.Height < 0 {
		return errors.New("tricolor: Convert: height must not be negative")
	}
	if o.Workers < 0 {
		return errors.New("tricolor: Convert: workers must not be negative")
	}
	if o.Format != FormatRust && o.Format != FormatC {
		return fmt.Errorf("tricolor: Convert: unsupported format %v", o.Format)
	}
	return nil
}

// Result is the outcome of a conversion.
type Result struct {
	Bitmap *Bitmap
	Code   []byte
	Report Report
}

// Convert resizes, quantizes and packs img and renders the generated code.
func Convert(img image.Image, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if Channels(img) != 3 {
		return nil, ErrInvalidChannelCount
	}

	img = Resize(img, opts.Width, opts.Height)

	bitmap, err := PackImage(img, PackOptions{Workers: opts.Workers})
	if err != nil {
		return nil, fmt.Errorf("tricolor: Convert: %w", err)
	}

	code, err := GenerateCode(opts.Name, bitmap, opts.Format)
	if err != nil {
		return nil, err
	}

	return &Result{
		Bitmap: bitmap,
		Code:   code,
		Report: Measure(img, bitmap),
	}, nil
}
