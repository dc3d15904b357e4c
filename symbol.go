package tricolor

import (
	"image/color"
)

// Symbol is the 2-bit code of a single pixel on a tri-color panel.
type Symbol uint8

// Symbols understood by the panel. The value 3 is reserved and is never
// produced by Classify.
const (
	White Symbol = 0
	Black Symbol = 1
	Red   Symbol = 2
)

// Fixed thresholds of the color model.
const (
	// RedChroma is the chroma a pixel has to exceed to be considered red.
	RedChroma = 85
	// BlackBrightness is the brightness below which a pixel is black.
	BlackBrightness = 128
)

// Pixel is a single 8-bit per channel RGB pixel.
type Pixel struct {
	R, G, B uint8
}

// Classify maps a pixel to its symbol. Saturated reds win over the brightness
// threshold, so a dark red is still red.
func Classify(p Pixel) Symbol {
	hi, lo := p.R, p.R
	if p.G > hi {
		hi = p.G
	}
	if p.B > hi {
		hi = p.B
	}
	if p.G < lo {
		lo = p.G
	}
	if p.B < lo {
		lo = p.B
	}

	if hi-lo > RedChroma && p.R > p.G && p.R > p.B {
		return Red
	}
	if hi < BlackBrightness {
		return Black
	}
	return White
}

// DecodeSymbol decodes a 2-bit cell the way the panel controller does. The
// black bit takes precedence, so the reserved value decodes as Black.
func DecodeSymbol(v uint8) Symbol {
	switch {
	case v&0x01 != 0:
		return Black
	case v&0x02 != 0:
		return Red
	default:
		return White
	}
}

// RGBA implements color.Color.
func (s Symbol) RGBA() (r, g, b, a uint32) {
	switch s {
	case Black:
		return 0, 0, 0, 0xFFFF
	case Red:
		return 0xFFFF, 0, 0, 0xFFFF
	default:
		return 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF
	}
}

func (s Symbol) String() string {
	switch s {
	case White:
		return "white"
	case Black:
		return "black"
	case Red:
		return "red"
	default:
		return "reserved"
	}
}

func toSymbol(c color.Color) color.Color {
	if s, ok := c.(Symbol); ok {
		return s
	}
	return Classify(pixelOf(c))
}

func pixelOf(c color.Color) Pixel {
	switch v := c.(type) {
	case color.RGBA:
		return Pixel{R: v.R, G: v.G, B: v.B}
	case color.NRGBA:
		return Pixel{R: v.R, G: v.G, B: v.B}
	}
	r, g, b, _ := c.RGBA()
	return Pixel{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
}

// Model converts colors to Symbol.
var Model = color.ModelFunc(toSymbol)

// Palette holds the symbol colors indexed by their 2-bit value.
var Palette = color.Palette{White, Black, Red}
