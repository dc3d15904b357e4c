package tricolor

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// CodeFormat selects the language GenerateCode emits.
type CodeFormat int

// Supported code formats.
const (
	FormatRust CodeFormat = iota
	FormatC
)

const (
	rustBytesPerLine = 31
	cBytesPerLine    = 12
)

// ParseCodeFormat parses a format name as accepted on the command line.
func ParseCodeFormat(s string) (CodeFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rust", "rs":
		return FormatRust, nil
	case "c", "h":
		return FormatC, nil
	}
	return 0, fmt.Errorf("tricolor: unknown code format %q", s)
}

func (f CodeFormat) String() string {
	switch f {
	case FormatRust:
		return "rust"
	case FormatC:
		return "c"
	}
	return fmt.Sprintf("CodeFormat(%d)", int(f))
}

// ConstName derives a constant name from an image path, e.g. "img/ferris.bmp"
// becomes "FERRIS".
func ConstName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if stem == "." || stem == string(filepath.Separator) {
		stem = ""
	}
	return Identifier(stem)
}

// Identifier upper-cases s and replaces everything but ASCII letters and
// digits with underscores, so that it is a valid Rust and C identifier.
// An empty s becomes "IMAGE".
func Identifier(s string) string {
	if s == "" {
		return "IMAGE"
	}

	name := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, s)

	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

// GenerateCode renders the bitmap as two constants: the original image width
// and the packed bytes, in exactly the order of b.Pix.
func GenerateCode(name string, b *Bitmap, f CodeFormat) ([]byte, error) {
	if name == "" {
		name = "IMAGE"
	}

	buf := new(bytes.Buffer)

	switch f {
	case FormatRust:
		name = strings.ToUpper(name)
		fmt.Fprintf(buf, "const %s_WIDTH: u32 = %d;\n", name, b.Width)
		fmt.Fprintf(buf, "const %s_IMG: &[u8] = &[\n", name)
		writeBytes(buf, b.Pix, rustBytesPerLine, "%d")
		buf.WriteString("];\n")
	case FormatC:
		name = strings.ToLower(name)
		fmt.Fprintf(buf, "const uint32_t %s_width = %d;\n", name, b.Width)
		fmt.Fprintf(buf, "const uint8_t %s_img[%d] = {\n", name, len(b.Pix))
		writeBytes(buf, b.Pix, cBytesPerLine, "0x%02X")
		buf.WriteString("};\n")
	default:
		return nil, fmt.Errorf("tricolor: GenerateCode: unsupported format %v", f)
	}

	return buf.Bytes(), nil
}

func writeBytes(buf *bytes.Buffer, data []byte, perLine int, verb string) {
	for i, v := range data {
		if i%perLine == 0 {
			buf.WriteString("    ")
		}
		fmt.Fprintf(buf, verb, v)
		buf.WriteByte(',')
		if (i+1)%perLine == 0 || i == len(data)-1 {
			buf.WriteByte('\n')
		} else {
			buf.WriteByte(' ')
		}
	}
}
