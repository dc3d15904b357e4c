package tricolor

import (
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"

	// Supported input formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/gift"
)

// Decode decodes a PNG, JPEG, GIF, BMP, TIFF or WebP image.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("tricolor: decode: %w", err)
	}
	return img, format, nil
}

// Resize scales img to w x h with Lanczos resampling. If one of w or h is zero
// the aspect ratio is kept; if both are zero img is returned unchanged. A
// resized image is always opaque, so only resize images that already are.
func Resize(img image.Image, w, h int) image.Image {
	if w <= 0 && h <= 0 {
		return img
	}

	filter := gift.Resize(w, h, gift.LanczosResampling)
	dst := image.NewRGBA(filter.Bounds(img.Bounds()))
	filter.Draw(dst, img, &gift.Options{
		Parallelization: true,
	})

	// Resampling can leave alpha a hair below opaque at the edges.
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xFF
	}

	return dst
}

// ParseSize parses a "WxH" size. Either side may be empty or 0 to keep the
// aspect ratio, and an empty string means no resize.
func ParseSize(s string) (w, h int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, nil
	}

	parts := strings.Split(strings.ToLower(s), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("tricolor: invalid size %q, want WxH", s)
	}

	dims := [2]int{}
	for i, p := range parts {
		if p == "" {
			continue
		}
		dims[i], err = strconv.Atoi(p)
		if err != nil || dims[i] < 0 {
			return 0, 0, fmt.Errorf("tricolor: invalid size %q, want WxH", s)
		}
	}

	return dims[0], dims[1], nil
}
