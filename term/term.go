// Package term previews packed bitmaps in a terminal.
package term

import (
	"github.com/gdamore/tcell/v2"
	"github.com/tmpim/tricolor"
)

// upperHalf draws the top pixel in the foreground and the bottom one in the
// background, so each cell shows two rows.
const upperHalf = '▀'

var symbolColors = [3]tcell.Color{
	tricolor.White: tcell.NewRGBColor(0xFF, 0xFF, 0xFF),
	tricolor.Black: tcell.NewRGBColor(0x00, 0x00, 0x00),
	tricolor.Red:   tcell.NewRGBColor(0xFF, 0x00, 0x00),
}

// Draw renders b on s starting at the top left corner, clipped to the screen.
// It does not call Show.
func Draw(s tcell.Screen, b *tricolor.Bitmap) {
	w, h := s.Size()
	if b.Width < w {
		w = b.Width
	}
	if rows := (b.Height + 1) / 2; rows < h {
		h = rows
	}

	for cy := 0; cy < h; cy++ {
		for x := 0; x < w; x++ {
			top := b.SymbolAt(x, 2*cy)
			bottom := b.SymbolAt(x, 2*cy+1)
			style := tcell.StyleDefault.
				Foreground(symbolColors[top]).
				Background(symbolColors[bottom])
			s.SetContent(x, cy, upperHalf, nil, style)
		}
	}
}

// Show displays b on the terminal until a key is pressed.
func Show(b *tricolor.Bitmap) error {
	s, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	defer s.Fini()

	return run(s, b)
}

func run(s tcell.Screen, b *tricolor.Bitmap) error {
	redraw := func() {
		s.Clear()
		Draw(s, b)
		s.Show()
	}
	redraw()

	for {
		switch s.PollEvent().(type) {
		case *tcell.EventResize:
			s.Sync()
			redraw()
		case *tcell.EventKey:
			return nil
		case nil:
			return nil
		}
	}
}
