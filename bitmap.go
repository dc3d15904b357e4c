package tricolor

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
)

// Bitmap is a packed tri-color image: four symbols per byte, most significant
// bits first, every row padded with White to PaddedWidth.
type Bitmap struct {
	// Width is the original, unpadded width in pixels.
	Width       int
	PaddedWidth int
	Height      int
	Pix         []byte
}

func newBitmap(width, height int) *Bitmap {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	padded := PaddedWidth(width)
	return &Bitmap{
		Width:       width,
		PaddedWidth: padded,
		Height:      height,
		Pix:         make([]byte, height*padded/SymbolsPerByte),
	}
}

// Stride returns the number of bytes per row.
func (b *Bitmap) Stride() int {
	return b.PaddedWidth / SymbolsPerByte
}

func (b *Bitmap) row(y int) []byte {
	s := b.Stride()
	return b.Pix[y*s : (y+1)*s]
}

// SymbolAt returns the symbol at (x, y). Pixels outside the image, padding
// included, are White.
func (b *Bitmap) SymbolAt(x, y int) Symbol {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return White
	}
	v := b.Pix[y*b.Stride()+x/SymbolsPerByte]
	shift := uint(6 - 2*(x%SymbolsPerByte))
	return DecodeSymbol((v >> shift) & 0x03)
}

// ColorModel implements image.Image.
func (b *Bitmap) ColorModel() color.Model {
	return Model
}

// Bounds implements image.Image.
func (b *Bitmap) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.Width, b.Height)
}

// At implements image.Image.
func (b *Bitmap) At(x, y int) color.Color {
	return b.SymbolAt(x, y)
}

// Paletted returns the bitmap as a paletted image, suitable for compact PNG
// previews.
func (b *Bitmap) Paletted() *image.Paletted {
	img := image.NewPaletted(b.Bounds(), Palette)
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			img.SetColorIndex(x, y, uint8(b.SymbolAt(x, y)))
		}
	}
	return img
}

// Planes splits the bitmap into the black and red 1-bit planes the panel
// controller expects: 8 pixels per byte, leftmost pixel in the most
// significant bit, rows padded to whole bytes.
func (b *Bitmap) Planes() (black, red []byte) {
	stride := (b.Width + 7) / 8
	black = make([]byte, stride*b.Height)
	red = make([]byte, stride*b.Height)
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			mask := byte(1) << uint(7-x%8)
			i := y*stride + x/8
			switch b.SymbolAt(x, y) {
			case Black:
				black[i] |= mask
			case Red:
				red[i] |= mask
			}
		}
	}
	return black, red
}

// Stats counts the symbols of the real (unpadded) pixels.
type Stats struct {
	White int `json:"white"`
	Black int `json:"black"`
	Red   int `json:"red"`
}

// Stats returns the symbol counts of the bitmap.
func (b *Bitmap) Stats() Stats {
	var s Stats
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			switch b.SymbolAt(x, y) {
			case White:
				s.White++
			case Black:
				s.Black++
			case Red:
				s.Red++
			}
		}
	}
	return s
}

var magic = [3]byte{'T', 'R', 'I'}

const containerVersion = 1

// Errors returned by ReadBitmap.
var (
	ErrBadMagic   = errors.New("tricolor: not a packed bitmap")
	ErrBadVersion = errors.New("tricolor: unsupported bitmap version")
)

// WriteTo writes the bitmap as a small binary container: the magic "TRI", a
// version byte, big endian uint16 width and height, then the packed bytes.
func (b *Bitmap) WriteTo(w io.Writer) (int64, error) {
	if b.Width > 0xFFFF || b.Height > 0xFFFF {
		return 0, fmt.Errorf("tricolor: bitmap too large to encode: %dx%d",
			b.Width, b.Height)
	}

	wr := bufio.NewWriter(w)
	var hdr [8]byte
	copy(hdr[:3], magic[:])
	hdr[3] = containerVersion
	binary.BigEndian.PutUint16(hdr[4:], uint16(b.Width))
	binary.BigEndian.PutUint16(hdr[6:], uint16(b.Height))

	var total int64
	n, err := wr.Write(hdr[:])
	total += int64(n)
	if err != nil {
		return total, err
	}

	n, err = wr.Write(b.Pix)
	total += int64(n)
	if err != nil {
		return total, err
	}

	return total, wr.Flush()
}

// ReadBitmap reads a bitmap written by WriteTo.
func ReadBitmap(r io.Reader) (*Bitmap, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("tricolor: ReadBitmap: header: %w", err)
	}
	if hdr[0] != magic[0] || hdr[1] != magic[1] || hdr[2] != magic[2] {
		return nil, ErrBadMagic
	}
	if hdr[3] != containerVersion {
		return nil, ErrBadVersion
	}

	w := int(binary.BigEndian.Uint16(hdr[4:]))
	h := int(binary.BigEndian.Uint16(hdr[6:]))

	// The header is untrusted, so the buffer only grows with the bytes
	// actually read.
	var pix bytes.Buffer
	if _, err := io.CopyN(&pix, r, int64(h*PaddedWidth(w)/SymbolsPerByte)); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("tricolor: ReadBitmap: pixels: %w", err)
	}

	b := newBitmap(w, h)
	copy(b.Pix, pix.Bytes())
	return b, nil
}
