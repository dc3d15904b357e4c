package tricolor

import (
	"fmt"
	"image"

	"github.com/lucasb-eyer/go-colorful"
)

// Report summarizes how far a packed bitmap strays from its source image.
type Report struct {
	Stats
	// MeanDistance and MaxDistance are CIE Lab distances between the source
	// pixels and the colors of their symbols.
	MeanDistance float64 `json:"mean_distance"`
	MaxDistance  float64 `json:"max_distance"`
}

var symbolLab = [3]colorful.Color{
	White: {R: 1, G: 1, B: 1},
	Black: {R: 0, G: 0, B: 0},
	Red:   {R: 1, G: 0, B: 0},
}

// Measure compares img with its packed bitmap b. Both must have the same
// size; pixels outside the overlap are ignored.
func Measure(img image.Image, b *Bitmap) Report {
	r := Report{Stats: b.Stats()}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if b.Width < w {
		w = b.Width
	}
	if b.Height < h {
		h = b.Height
	}
	if w <= 0 || h <= 0 {
		return r
	}

	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := pixelOf(img.At(bounds.Min.X+x, bounds.Min.Y+y))
			src := colorful.Color{
				R: float64(p.R) / 255,
				G: float64(p.G) / 255,
				B: float64(p.B) / 255,
			}

			d := src.DistanceLab(symbolLab[b.SymbolAt(x, y)])
			sum += d
			if d > r.MaxDistance {
				r.MaxDistance = d
			}
		}
	}
	r.MeanDistance = sum / float64(w*h)

	return r
}

func (r Report) String() string {
	return fmt.Sprintf("white=%d black=%d red=%d mean_lab=%.4f max_lab=%.4f",
		r.White, r.Black, r.Red, r.MeanDistance, r.MaxDistance)
}
