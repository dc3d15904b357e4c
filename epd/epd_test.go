package epd

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmpim/tricolor"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// tx is a single SPI transfer and the level of DC while it happened.
type tx struct {
	dc   gpio.Level
	data []byte
}

type fakeBus struct {
	dc   fakePin
	rst  fakePin
	txs  []tx
	fail error
}

func (b *fakeBus) String() string     { return "fake" }
func (b *fakeBus) Duplex() conn.Duplex { return conn.Half }
func (b *fakeBus) Tx(w, r []byte) error {
	if b.fail != nil {
		return b.fail
	}
	b.txs = append(b.txs, tx{dc: b.dc.level, data: append([]byte(nil), w...)})
	return nil
}

// commands returns the command bytes sent, in order.
func (b *fakeBus) commands() []byte {
	var cmds []byte
	for _, t := range b.txs {
		if t.dc == gpio.Low {
			cmds = append(cmds, t.data[0])
		}
	}
	return cmds
}

// data returns the data sent after the last occurrence of cmd, joined.
func (b *fakeBus) data(cmd byte) []byte {
	var out []byte
	for i, t := range b.txs {
		if t.dc == gpio.Low && t.data[0] == cmd {
			out = nil
			for _, d := range b.txs[i+1:] {
				if d.dc == gpio.Low {
					break
				}
				out = append(out, d.data...)
			}
		}
	}
	return out
}

type fakePin struct {
	level   gpio.Level
	history []gpio.Level
}

func (p *fakePin) Out(l gpio.Level) error {
	p.level = l
	p.history = append(p.history, l)
	return nil
}

// busyPin reports busy (low) for a number of reads after each command.
type busyPin struct {
	lowReads int
	left     int
}

func (p *busyPin) Read() gpio.Level {
	if p.left > 0 {
		p.left--
		return gpio.Low
	}
	p.left = p.lowReads
	return gpio.High
}

type sleeper struct {
	total time.Duration
}

func (s *sleeper) sleep(d time.Duration) {
	s.total += d
}

func newTestDev(t *testing.T, opts *Opts) (*Dev, *fakeBus, *sleeper) {
	t.Helper()
	bus := &fakeBus{}
	s := &sleeper{}
	d, err := newDev(bus, &busyPin{lowReads: 2}, &bus.dc, &bus.rst, opts, s.sleep)
	require.NoError(t, err)
	return d, bus, s
}

func TestOptsValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Opts
		wantErr bool
	}{
		{"valid 152x296", Opts{W: 152, H: 296}, false},
		{"valid with chunks", Opts{W: 8, H: 1, ChunkSize: 4096}, false},
		{"width not multiple of 8", Opts{W: 150, H: 296}, true},
		{"width zero", Opts{W: 0, H: 296}, true},
		{"height zero", Opts{W: 152, H: 0}, true},
		{"negative chunk", Opts{W: 152, H: 296, ChunkSize: -1}, true},
		{"negative timeout", Opts{W: 152, H: 296, BusyTimeout: -time.Second}, true},
		{"rotated", Opts{W: 152, H: 296, Rotation: Rotate270}, false},
		{"bad rotation", Opts{W: 152, H: 296, Rotation: 4}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPanels(t *testing.T) {
	names := PanelNames()
	assert.Len(t, names, len(Panels))
	assert.Equal(t, "1in54", names[0])

	for name, size := range Panels {
		opts := Opts{W: size.X, H: size.Y}
		assert.NoError(t, opts.validate(), name)
	}
}

func TestInitSequence(t *testing.T) {
	d, bus, s := newTestDev(t, &Opts{W: 152, H: 296})

	assert.Equal(t, []byte{cmdPSR, cmdInputTemp, cmdActiveTemp, cmdPSR}, bus.commands())
	assert.Equal(t, regPSR, bus.data(cmdPSR))
	assert.Equal(t, regInputTemp, bus.data(cmdInputTemp))
	assert.Equal(t, regActiveTmp, bus.data(cmdActiveTemp))
	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low, gpio.High}, bus.rst.history)
	assert.Equal(t, gpio.High, bus.dc.history[0])
	assert.GreaterOrEqual(t, s.total, 21*time.Millisecond)
	assert.Equal(t, "epd.Dev{152x296}", d.String())
}

func TestUpdate(t *testing.T) {
	d, bus, _ := newTestDev(t, &Opts{W: 8, H: 2})
	bus.txs = nil

	g := tricolor.NewGrid(8, 2)
	for i := range g.Pix {
		g.Pix[i] = tricolor.Pixel{R: 255, G: 255, B: 255}
	}
	g.Set(0, 0, tricolor.Pixel{})
	g.Set(7, 1, tricolor.Pixel{R: 255})

	require.NoError(t, d.Update(context.Background(), tricolor.Pack(g)))

	assert.Equal(t, []byte{cmdBufferBlack, cmdBufferRed, cmdPowerOn, cmdRefresh}, bus.commands())
	assert.Equal(t, []byte{0x80, 0x00}, bus.data(cmdBufferBlack))
	assert.Equal(t, []byte{0x00, 0x01}, bus.data(cmdBufferRed))
}

func TestUpdateChunks(t *testing.T) {
	d, bus, _ := newTestDev(t, &Opts{W: 16, H: 4, ChunkSize: 3})
	bus.txs = nil

	require.NoError(t, d.Update(context.Background(), tricolor.Pack(tricolor.NewGrid(16, 4))))

	// 8 bytes per plane in transfers of 3, 3 and 2.
	var sizes []int
	for _, x := range bus.txs[1:4] {
		sizes = append(sizes, len(x.data))
	}
	assert.Equal(t, []int{3, 3, 2}, sizes)
	assert.Len(t, bus.data(cmdBufferBlack), 8)
}

func whiteGrid(w, h int) *tricolor.Grid {
	g := tricolor.NewGrid(w, h)
	for i := range g.Pix {
		g.Pix[i] = tricolor.Pixel{R: 255, G: 255, B: 255}
	}
	return g
}

func TestParseRotation(t *testing.T) {
	for deg, want := range map[int]Rotation{0: Rotate0, 90: Rotate90, 180: Rotate180, 270: Rotate270} {
		r, err := ParseRotation(deg)
		require.NoError(t, err)
		assert.Equal(t, want, r)
	}

	_, err := ParseRotation(45)
	assert.Error(t, err)
	assert.Equal(t, "90°", Rotate90.String())
}

func TestUpdateRotated(t *testing.T) {
	tests := []struct {
		name      string
		rotation  Rotation
		w, h      int
		blackAt   image.Point
		redAt     image.Point
		wantBlack []byte
		wantRed   []byte
	}{
		{"0", Rotate0, 8, 2, image.Pt(0, 0), image.Pt(7, 1), []byte{0x80, 0x00}, []byte{0x00, 0x01}},
		{"90", Rotate90, 2, 8, image.Pt(0, 0), image.Pt(1, 7), []byte{0x01, 0x00}, []byte{0x00, 0x80}},
		{"180", Rotate180, 8, 2, image.Pt(0, 0), image.Pt(7, 1), []byte{0x00, 0x01}, []byte{0x80, 0x00}},
		{"270", Rotate270, 2, 8, image.Pt(0, 0), image.Pt(1, 7), []byte{0x00, 0x80}, []byte{0x01, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, bus, _ := newTestDev(t, &Opts{W: 8, H: 2, Rotation: tt.rotation})
			bus.txs = nil
			assert.Equal(t, image.Rect(0, 0, tt.w, tt.h), d.Bounds())

			g := whiteGrid(tt.w, tt.h)
			g.Set(tt.blackAt.X, tt.blackAt.Y, tricolor.Pixel{})
			g.Set(tt.redAt.X, tt.redAt.Y, tricolor.Pixel{R: 255})

			require.NoError(t, d.Update(context.Background(), tricolor.Pack(g)))
			assert.Equal(t, tt.wantBlack, bus.data(cmdBufferBlack))
			assert.Equal(t, tt.wantRed, bus.data(cmdBufferRed))
		})
	}
}

func TestUpdateRotatedWrongSize(t *testing.T) {
	d, _, _ := newTestDev(t, &Opts{W: 8, H: 2, Rotation: Rotate90})
	err := d.Update(context.Background(), tricolor.Pack(whiteGrid(8, 2)))
	assert.Error(t, err)
}

func TestUpdateWrongSize(t *testing.T) {
	d, _, _ := newTestDev(t, &Opts{W: 8, H: 2})
	err := d.Update(context.Background(), tricolor.Pack(tricolor.NewGrid(4, 2)))
	assert.Error(t, err)
}

func TestUpdateTxError(t *testing.T) {
	d, bus, _ := newTestDev(t, &Opts{W: 8, H: 1})
	bus.fail = errors.New("spi down")

	err := d.Update(context.Background(), tricolor.Pack(tricolor.NewGrid(8, 1)))
	assert.ErrorIs(t, err, bus.fail)
}

func TestPowerOff(t *testing.T) {
	d, bus, _ := newTestDev(t, &Opts{W: 8, H: 1})
	bus.txs = nil

	require.NoError(t, d.PowerOff(context.Background()))
	assert.Equal(t, []byte{cmdPowerOff}, bus.commands())
	assert.Equal(t, gpio.Low, bus.dc.level)
	assert.Equal(t, gpio.Low, bus.rst.level)

	assert.ErrorIs(t, d.PowerOff(context.Background()), ErrHalted)
	assert.ErrorIs(t, d.Update(context.Background(), tricolor.Pack(tricolor.NewGrid(8, 1))), ErrHalted)
}

func TestWaitBusyCancelled(t *testing.T) {
	bus := &fakeBus{}
	d := &Dev{
		c:           bus,
		busy:        &busyPin{left: 1 << 30},
		dc:          &bus.dc,
		rst:         &bus.rst,
		busyTimeout: time.Hour,
		sleep:       func(time.Duration) {},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.waitBusy(ctx), context.Canceled)
}

func TestWaitBusyTimeout(t *testing.T) {
	bus := &fakeBus{}
	d := &Dev{
		c:           bus,
		busy:        &busyPin{left: 1 << 30},
		dc:          &bus.dc,
		rst:         &bus.rst,
		busyTimeout: 5 * time.Millisecond,
		sleep:       time.Sleep,
	}

	assert.ErrorIs(t, d.waitBusy(context.Background()), context.DeadlineExceeded)
}
