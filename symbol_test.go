package tricolor

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		p    Pixel
		want Symbol
	}{
		{"black", Pixel{0, 0, 0}, Black},
		{"white", Pixel{255, 255, 255}, White},
		{"pure red", Pixel{255, 0, 0}, Red},
		{"muted red", Pixel{200, 50, 50}, Red},
		{"dark red beats brightness", Pixel{100, 0, 0}, Red},
		{"chroma at threshold", Pixel{185, 100, 100}, White},
		{"chroma just above threshold", Pixel{186, 100, 100}, Red},
		{"dark chroma at threshold", Pixel{85, 0, 0}, Black},
		{"red tied with green", Pixel{200, 200, 0}, White},
		{"red tied with blue", Pixel{200, 0, 200}, White},
		{"saturated green", Pixel{0, 255, 0}, White},
		{"saturated dark blue", Pixel{0, 0, 120}, Black},
		{"brightness 127", Pixel{127, 127, 127}, Black},
		{"brightness 128", Pixel{128, 128, 128}, White},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.p))
		})
	}
}

func TestClassifyGray(t *testing.T) {
	for v := 0; v < 256; v++ {
		want := White
		if v < BlackBrightness {
			want = Black
		}
		p := Pixel{uint8(v), uint8(v), uint8(v)}
		assert.Equal(t, want, Classify(p), "gray %d", v)
	}
}

func TestClassifyNeverReserved(t *testing.T) {
	for r := 0; r < 256; r += 3 {
		for g := 0; g < 256; g += 5 {
			for b := 0; b < 256; b += 7 {
				s := Classify(Pixel{uint8(r), uint8(g), uint8(b)})
				if s > Red {
					t.Fatalf("Classify(%d, %d, %d) = %d", r, g, b, s)
				}
			}
		}
	}
}

func TestDecodeSymbol(t *testing.T) {
	assert.Equal(t, White, DecodeSymbol(0b00))
	assert.Equal(t, Black, DecodeSymbol(0b01))
	assert.Equal(t, Red, DecodeSymbol(0b10))
	assert.Equal(t, Black, DecodeSymbol(0b11))
}

func TestSymbolColor(t *testing.T) {
	assert.Equal(t, color.RGBAModel.Convert(color.White), color.RGBAModel.Convert(White))
	assert.Equal(t, color.RGBAModel.Convert(color.Black), color.RGBAModel.Convert(Black))
	assert.Equal(t, color.RGBA{0xFF, 0, 0, 0xFF}, color.RGBAModel.Convert(Red))
	assert.Equal(t, "red", Red.String())
	assert.Equal(t, "reserved", Symbol(3).String())
}

func TestModelConvert(t *testing.T) {
	tests := []struct {
		name  string
		input color.Color
		want  Symbol
	}{
		{"symbol passthrough", Red, Red},
		{"black", color.Black, Black},
		{"white", color.White, White},
		{"rgba red", color.RGBA{200, 50, 50, 0xFF}, Red},
		{"nrgba gray", color.NRGBA{100, 100, 100, 0xFF}, Black},
		{"gray16", color.Gray16{0xC000}, White},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Model.Convert(tt.input))
		})
	}
}
