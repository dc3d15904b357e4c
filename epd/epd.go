// Package epd drives Spectra tri-color (white, black, red) e-paper panels over
// SPI.
//
// The panel keeps two 1-bit planes, one for black and one for red. Dev.Update
// splits a packed tricolor.Bitmap into those planes, uploads them and
// triggers a full refresh, which takes several seconds on the larger panels.
package epd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"time"

	"github.com/tmpim/tricolor"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Controller commands.
const (
	cmdPSR         = 0x00
	cmdPowerOff    = 0x02
	cmdPowerOn     = 0x04
	cmdBufferBlack = 0x10
	cmdRefresh     = 0x12
	cmdBufferRed   = 0x13
	cmdActiveTemp  = 0xE0
	cmdInputTemp   = 0xE5
)

var (
	regSoftReset = []byte{0x0E}
	regInputTemp = []byte{0x19}
	regActiveTmp = []byte{0x02}
	regPSR       = []byte{0xCF, 0x8D}
)

// DefaultBusyTimeout bounds a single wait on the BUSY line.
const DefaultBusyTimeout = 60 * time.Second

// ErrHalted is returned by operations on a powered off panel.
var ErrHalted = errors.New("epd: halted")

// Panels lists the supported panel sizes by their diagonal.
var Panels = map[string]image.Point{
	"1in54": {X: 152, Y: 152},
	"2in13": {X: 104, Y: 212},
	"2in66": {X: 152, Y: 296},
	"2in71": {X: 176, Y: 264},
	"2in87": {X: 128, Y: 296},
	"3in70": {X: 240, Y: 416},
	"4in17": {X: 400, Y: 300},
	"4in37": {X: 176, Y: 480},
}

// PanelNames returns the keys of Panels in order.
func PanelNames() []string {
	names := make([]string, 0, len(Panels))
	for name := range Panels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rotation maps image coordinates onto the panel in 90 degree steps,
// clockwise.
type Rotation int

// Supported rotations.
const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

// ParseRotation converts a clockwise angle in degrees to a Rotation.
func ParseRotation(degrees int) (Rotation, error) {
	switch degrees {
	case 0:
		return Rotate0, nil
	case 90:
		return Rotate90, nil
	case 180:
		return Rotate180, nil
	case 270:
		return Rotate270, nil
	}
	return Rotate0, fmt.Errorf("epd: unsupported rotation %d, want 0, 90, 180 or 270", degrees)
}

// Size returns the image size that fills a w x h panel under r.
func (r Rotation) Size(w, h int) image.Point {
	if r == Rotate90 || r == Rotate270 {
		return image.Pt(h, w)
	}
	return image.Pt(w, h)
}

func (r Rotation) String() string {
	switch r {
	case Rotate0, Rotate90, Rotate180, Rotate270:
		return fmt.Sprintf("%d°", int(r)*90)
	}
	return fmt.Sprintf("Rotation(%d)", int(r))
}

// Opts is the configuration for a panel.
type Opts struct {
	W int // Width in pixels, multiple of 8
	H int // Height in pixels

	// ChunkSize splits SPI writes into transfers of at most this many bytes,
	// 0 sends each buffer in one transfer. Linux spidev defaults to 4096.
	ChunkSize int

	// BusyTimeout bounds each wait on the BUSY line (default: 60s).
	BusyTimeout time.Duration

	// Rotation of the image on the panel. Rotate90 and Rotate270 expect an
	// H x W bitmap.
	Rotation Rotation
}

func (o *Opts) validate() error {
	if o.W <= 0 || o.W%8 != 0 {
		return errors.New("epd: width must be a positive multiple of 8")
	}
	if o.H <= 0 {
		return errors.New("epd: height must be positive")
	}
	if o.ChunkSize < 0 {
		return errors.New("epd: chunk size must not be negative")
	}
	if o.BusyTimeout < 0 {
		return errors.New("epd: busy timeout must not be negative")
	}
	if o.Rotation < Rotate0 || o.Rotation > Rotate270 {
		return fmt.Errorf("epd: invalid rotation %d", int(o.Rotation))
	}
	return nil
}

type levelReader interface {
	Read() gpio.Level
}

type levelWriter interface {
	Out(l gpio.Level) error
}

// Dev is a handle to a panel.
type Dev struct {
	c    conn.Conn
	busy levelReader // active low
	dc   levelWriter // data high, command low
	rst  levelWriter // active low

	rect        image.Rectangle // panel, unrotated
	rotation    Rotation
	chunkSize   int
	busyTimeout time.Duration
	sleep       func(time.Duration)

	halted bool
}

// NewSPI connects to a panel and runs its initialization sequence.
//
// The SPI port is configured for 4MHz, Mode0, 8-bit transfers.
func NewSPI(p spi.Port, busy gpio.PinIn, dc, rst gpio.PinOut, opts *Opts) (*Dev, error) {
	if opts == nil {
		return nil, errors.New("epd: options must be specified")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	c, err := p.Connect(4*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("epd: connect: %w", err)
	}

	return newDev(c, busy, dc, rst, opts, time.Sleep)
}

func newDev(c conn.Conn, busy levelReader, dc, rst levelWriter, opts *Opts,
	sleep func(time.Duration)) (*Dev, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	d := &Dev{
		c:           c,
		busy:        busy,
		dc:          dc,
		rst:         rst,
		rect:        image.Rect(0, 0, opts.W, opts.H),
		rotation:    opts.Rotation,
		chunkSize:   opts.ChunkSize,
		busyTimeout: opts.BusyTimeout,
		sleep:       sleep,
	}
	if d.busyTimeout == 0 {
		d.busyTimeout = DefaultBusyTimeout
	}

	if err := d.init(context.Background()); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *Dev) init(ctx context.Context) error {
	if err := d.dc.Out(gpio.High); err != nil {
		return fmt.Errorf("epd: failed to set DC: %w", err)
	}
	if err := d.Reset(); err != nil {
		return err
	}

	if err := d.sendAndWait(ctx, cmdPSR, regSoftReset); err != nil {
		return err
	}
	if err := d.send(cmdInputTemp, regInputTemp); err != nil {
		return err
	}
	if err := d.send(cmdActiveTemp, regActiveTmp); err != nil {
		return err
	}
	return d.send(cmdPSR, regPSR)
}

// Reset pulses the reset line.
func (d *Dev) Reset() error {
	steps := []struct {
		l     gpio.Level
		delay time.Duration
	}{
		{gpio.High, 5 * time.Millisecond},
		{gpio.Low, 10 * time.Millisecond},
		{gpio.High, 5 * time.Millisecond},
	}

	d.sleep(time.Millisecond)
	for _, s := range steps {
		if err := d.rst.Out(s.l); err != nil {
			return fmt.Errorf("epd: failed to set RST %s: %w", s.l, err)
		}
		d.sleep(s.delay)
	}

	return nil
}

// Bounds returns the size of the image the panel accepts, after rotation.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rectangle{Max: d.rotation.Size(d.rect.Dx(), d.rect.Dy())}
}

func (d *Dev) String() string {
	return fmt.Sprintf("epd.Dev{%dx%d}", d.rect.Dx(), d.rect.Dy())
}

// Update uploads b and refreshes the panel. b must match Bounds.
func (d *Dev) Update(ctx context.Context, b *tricolor.Bitmap) error {
	if d.halted {
		return ErrHalted
	}
	if size := d.Bounds().Size(); b.Width != size.X || b.Height != size.Y {
		return fmt.Errorf("epd: bitmap is %dx%d, panel expects %dx%d",
			b.Width, b.Height, size.X, size.Y)
	}

	black, red := d.planes(b)
	if err := d.send(cmdBufferBlack, black); err != nil {
		return err
	}
	if err := d.send(cmdBufferRed, red); err != nil {
		return err
	}
	if err := d.sendAndWait(ctx, cmdPowerOn, []byte{0x00}); err != nil {
		return err
	}
	return d.sendAndWait(ctx, cmdRefresh, []byte{0x00})
}

// PowerOff turns the panel's charge pump off and holds it in reset. The
// image stays visible.
func (d *Dev) PowerOff(ctx context.Context) error {
	if d.halted {
		return ErrHalted
	}
	if err := d.sendAndWait(ctx, cmdPowerOff, []byte{0x00}); err != nil {
		return err
	}
	if err := d.dc.Out(gpio.Low); err != nil {
		return fmt.Errorf("epd: failed to set DC: %w", err)
	}
	d.sleep(150 * time.Millisecond)
	if err := d.rst.Out(gpio.Low); err != nil {
		return fmt.Errorf("epd: failed to set RST: %w", err)
	}
	d.halted = true
	return nil
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return d.PowerOff(context.Background())
}

// planes splits b into the panel's black and red planes, rotated into panel
// coordinates.
func (d *Dev) planes(b *tricolor.Bitmap) (black, red []byte) {
	if d.rotation == Rotate0 {
		return b.Planes()
	}

	w, h := d.rect.Dx(), d.rect.Dy()
	stride := w / 8
	black = make([]byte, stride*h)
	red = make([]byte, stride*h)
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			var px, py int
			switch d.rotation {
			case Rotate90:
				px, py = w-1-y, x
			case Rotate180:
				px, py = w-1-x, h-1-y
			case Rotate270:
				px, py = y, h-1-x
			}

			mask := byte(1) << uint(7-px%8)
			i := py*stride + px/8
			switch b.SymbolAt(x, y) {
			case tricolor.Black:
				black[i] |= mask
			case tricolor.Red:
				red[i] |= mask
			}
		}
	}
	return black, red
}

func (d *Dev) send(cmd byte, data []byte) error {
	if err := d.dc.Out(gpio.Low); err != nil {
		return fmt.Errorf("epd: failed to set DC: %w", err)
	}
	if err := d.c.Tx([]byte{cmd}, nil); err != nil {
		return fmt.Errorf("epd: command 0x%02X: %w", cmd, err)
	}
	if err := d.dc.Out(gpio.High); err != nil {
		return fmt.Errorf("epd: failed to set DC: %w", err)
	}
	if err := d.write(data); err != nil {
		return fmt.Errorf("epd: command 0x%02X data: %w", cmd, err)
	}
	return nil
}

func (d *Dev) sendAndWait(ctx context.Context, cmd byte, data []byte) error {
	if err := d.send(cmd, data); err != nil {
		return err
	}
	return d.waitBusy(ctx)
}

func (d *Dev) write(data []byte) error {
	if d.chunkSize <= 0 {
		return d.c.Tx(data, nil)
	}
	for len(data) > 0 {
		n := d.chunkSize
		if n > len(data) {
			n = len(data)
		}
		if err := d.c.Tx(data[:n], nil); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (d *Dev) waitBusy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.busyTimeout)
	defer cancel()

	for d.busy.Read() == gpio.Low {
		select {
		case <-ctx.Done():
			return fmt.Errorf("epd: waiting for BUSY: %w", ctx.Err())
		default:
		}
		d.sleep(time.Millisecond)
	}
	return nil
}

var _ conn.Resource = &Dev{}
