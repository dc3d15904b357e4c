package tricolor

// SymbolsPerByte is the number of 2-bit symbols packed into one byte.
const SymbolsPerByte = 4

// PaddedWidth rounds w up to the next multiple of four so every row packs
// into a whole number of bytes.
func PaddedWidth(w int) int {
	if w <= 0 {
		return 0
	}
	return (w + SymbolsPerByte - 1) / SymbolsPerByte * SymbolsPerByte
}

// Grid is a read-only, row-major grid of pixels. Row y starts at
// Pix[y*Stride]; only the first Width pixels of each row are used.
type Grid struct {
	Pix    []Pixel
	Stride int
	Width  int
	Height int
}

// NewGrid returns an empty grid of the given size.
func NewGrid(width, height int) *Grid {
	if width < 0 || height < 0 {
		return &Grid{}
	}
	return &Grid{
		Pix:    make([]Pixel, width*height),
		Stride: width,
		Width:  width,
		Height: height,
	}
}

// At returns the pixel at (x, y).
func (g *Grid) At(x, y int) Pixel {
	return g.Pix[y*g.Stride+x]
}

// Set sets the pixel at (x, y).
func (g *Grid) Set(x, y int, p Pixel) {
	g.Pix[y*g.Stride+x] = p
}

// Pack quantizes and packs the grid. Padding columns are encoded as White.
func Pack(g *Grid) *Bitmap {
	b := newBitmap(g.Width, g.Height)
	for y := 0; y < g.Height; y++ {
		packRow(b.row(y), g.Pix[y*g.Stride:y*g.Stride+g.Width])
	}
	return b
}

// packRow writes one row of symbols into dst, which must hold exactly
// PaddedWidth(len(row))/4 bytes.
func packRow(dst []byte, row []Pixel) {
	for i := range dst {
		var v byte
		for j := 0; j < SymbolsPerByte; j++ {
			var s Symbol
			if x := i*SymbolsPerByte + j; x < len(row) {
				s = Classify(row[x])
			}
			v = v<<2 | byte(s)
		}
		dst[i] = v
	}
}
