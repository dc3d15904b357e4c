package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tmpim/tricolor"
	"github.com/tmpim/tricolor/epd"
	"github.com/tmpim/tricolor/term"
	"github.com/urfave/cli"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const defaultInput = "ferris.bmp"

var resizeFlag = cli.StringFlag{
	Name:  "resize, r",
	Usage: "resize the image to `WxH` before packing (either side may be omitted)",
}

var workersFlag = cli.IntFlag{
	Name:  "workers, j",
	Usage: "number of row bands packed concurrently (0 = one per CPU)",
}

func main() {
	log.SetFlags(0)

	if err := newApp().Run(os.Args); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "tricolor"
	app.Usage = "convert images into packed tri-color e-paper bitmaps"
	app.UsageText = "tricolor [options] [input_image]"
	app.Version = "1.0.0"
	app.Description = "Images are quantized to white, black and red, packed four pixels " +
		"per byte and printed as source code constants. " +
		"Input images must be RGB; images with an alpha channel or grayscale images are rejected."

	convertFlags := []cli.Flag{
		cli.StringFlag{
			Name:  "name, n",
			Usage: "base name of the generated constants (default: input file name)",
		},
		cli.StringFlag{
			Name:  "format, f",
			Value: "rust",
			Usage: "output format: rust, c or bin",
		},
		cli.StringFlag{
			Name:  "out, o",
			Usage: "write output to `FILE` instead of stdout",
		},
		cli.StringFlag{
			Name:  "preview, p",
			Usage: "also write a PNG preview of the packed image to `FILE`",
		},
		cli.BoolFlag{
			Name:  "stats, s",
			Usage: "log symbol counts and quantization error",
		},
		resizeFlag,
		workersFlag,
	}

	app.Flags = convertFlags
	app.Action = convertAction

	app.Commands = []cli.Command{
		{
			Name:      "convert",
			Usage:     "convert an image into source code (default)",
			ArgsUsage: "[input_image]",
			Flags:     convertFlags,
			Action:    convertAction,
		},
		{
			Name:      "batch",
			Usage:     "convert every image in a directory, writing code, previews and stats",
			ArgsUsage: "input_dir",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "out, o",
					Value: "output",
					Usage: "output `DIR`",
				},
				cli.StringFlag{
					Name:  "format, f",
					Value: "rust",
					Usage: "output format: rust or c",
				},
				resizeFlag,
				workersFlag,
			},
			Action: batchAction,
		},
		{
			Name:      "view",
			Usage:     "preview the packed image in the terminal",
			ArgsUsage: "[input_image]",
			Flags:     []cli.Flag{resizeFlag, workersFlag},
			Action:    viewAction,
		},
		{
			Name:      "flash",
			Usage:     "show the image on a Spectra e-paper panel over SPI",
			ArgsUsage: "[input_image]",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "panel",
					Value: "2in66",
					Usage: "panel size: " + strings.Join(epd.PanelNames(), ", "),
				},
				cli.StringFlag{Name: "spi", Usage: "SPI port name (empty for default)"},
				cli.StringFlag{Name: "busy", Value: "GPIO24", Usage: "BUSY pin name"},
				cli.StringFlag{Name: "dc", Value: "GPIO25", Usage: "Data/Command pin name"},
				cli.StringFlag{Name: "rst", Value: "GPIO17", Usage: "RESET pin name"},
				cli.IntFlag{Name: "chunk", Value: 4096, Usage: "maximum bytes per SPI transfer"},
				cli.DurationFlag{Name: "timeout", Value: 2 * time.Minute, Usage: "overall refresh timeout"},
				cli.IntFlag{Name: "rotate", Usage: "rotate the image clockwise by 0, 90, 180 or 270 degrees"},
				workersFlag,
			},
			Action: flashAction,
		},
	}

	return app
}

func inputPath(c *cli.Context) string {
	if path := c.Args().First(); path != "" {
		return path
	}
	return defaultInput
}

func loadImage(path string) (image.Image, error) {
	input, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer input.Close()

	img, _, err := tricolor.Decode(input)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	if tricolor.Channels(img) != 3 {
		return nil, fmt.Errorf("%s: %w", path, tricolor.ErrInvalidChannelCount)
	}

	return img, nil
}

func loadBitmap(c *cli.Context) (*tricolor.Bitmap, error) {
	img, err := loadImage(inputPath(c))
	if err != nil {
		return nil, err
	}

	w, h, err := tricolor.ParseSize(c.String("resize"))
	if err != nil {
		return nil, err
	}

	return tricolor.PackImage(tricolor.Resize(img, w, h),
		tricolor.PackOptions{Workers: c.Int("workers")})
}

func convertAction(c *cli.Context) error {
	start := time.Now()
	path := inputPath(c)

	log.Printf("Converting image %s", path)

	img, err := loadImage(path)
	if err != nil {
		return err
	}

	w, h, err := tricolor.ParseSize(c.String("resize"))
	if err != nil {
		return err
	}

	name := tricolor.ConstName(path)
	if c.String("name") != "" {
		name = tricolor.Identifier(c.String("name"))
	}

	binary := strings.EqualFold(c.String("format"), "bin")
	format := tricolor.FormatRust
	if !binary {
		if format, err = tricolor.ParseCodeFormat(c.String("format")); err != nil {
			return err
		}
	}

	res, err := tricolor.Convert(img, tricolor.Options{
		Name:    name,
		Format:  format,
		Width:   w,
		Height:  h,
		Workers: c.Int("workers"),
	})
	if err != nil {
		return fmt.Errorf("failed to convert image: %w", err)
	}

	if c.Bool("stats") {
		log.Println("Stats:", res.Report)
	}

	if preview := c.String("preview"); preview != "" {
		if err := writePreview(preview, res.Bitmap); err != nil {
			log.Println("Warning: failed to write preview image:", err)
		}
	}

	out := io.Writer(os.Stdout)
	if path := c.String("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if binary {
		_, err = res.Bitmap.WriteTo(out)
	} else {
		_, err = out.Write(res.Code)
	}
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	log.Printf("Done! %dx%d (padded width %d, %d bytes) in %s.",
		res.Bitmap.Width, res.Bitmap.Height, res.Bitmap.PaddedWidth,
		len(res.Bitmap.Pix), time.Since(start))

	return nil
}

var codeExt = map[tricolor.CodeFormat]string{
	tricolor.FormatRust: ".rs",
	tricolor.FormatC:    ".h",
}

func batchAction(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return errors.New("batch: input directory must be specified")
	}

	format, err := tricolor.ParseCodeFormat(c.String("format"))
	if err != nil {
		return err
	}

	w, h, err := tricolor.ParseSize(c.String("resize"))
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	outDir := c.String("out")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	failed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		start := time.Now()
		path := filepath.Join(dir, entry.Name())

		img, err := loadImage(path)
		if err != nil {
			log.Println("Skipping", entry.Name()+":", err)
			failed++
			continue
		}

		name := tricolor.ConstName(path)
		res, err := tricolor.Convert(img, tricolor.Options{
			Name:    name,
			Format:  format,
			Width:   w,
			Height:  h,
			Workers: c.Int("workers"),
		})
		if err != nil {
			log.Println("Failed to convert", entry.Name()+":", err)
			failed++
			continue
		}

		base := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		err = os.WriteFile(filepath.Join(outDir, base+codeExt[format]), res.Code, 0644)
		if err != nil {
			return err
		}

		if err := writePreview(filepath.Join(outDir, base+".png"), res.Bitmap); err != nil {
			log.Println("Warning: failed to write preview image:", err)
		}

		log.Printf("[%s] %s (%s)", entry.Name(), res.Report, time.Since(start))
	}

	if failed > 0 {
		return fmt.Errorf("batch: %d of %d files failed", failed, len(entries))
	}
	return nil
}

func writePreview(path string, b *tricolor.Bitmap) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := png.Encode(f, b.Paletted()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func viewAction(c *cli.Context) error {
	b, err := loadBitmap(c)
	if err != nil {
		return err
	}
	return term.Show(b)
}

func flashAction(c *cli.Context) error {
	size, ok := epd.Panels[c.String("panel")]
	if !ok {
		return fmt.Errorf("unknown panel %q, want one of: %s", c.String("panel"),
			strings.Join(epd.PanelNames(), ", "))
	}

	rotation, err := epd.ParseRotation(c.Int("rotate"))
	if err != nil {
		return err
	}

	img, err := loadImage(inputPath(c))
	if err != nil {
		return err
	}

	fit := rotation.Size(size.X, size.Y)
	b, err := tricolor.PackImage(tricolor.Resize(img, fit.X, fit.Y),
		tricolor.PackOptions{Workers: c.Int("workers")})
	if err != nil {
		return err
	}

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph.io: %w", err)
	}

	port, err := spireg.Open(c.String("spi"))
	if err != nil {
		return fmt.Errorf("failed to open SPI port: %w", err)
	}
	defer port.Close()

	pins := map[string]string{
		"busy": c.String("busy"),
		"dc":   c.String("dc"),
		"rst":  c.String("rst"),
	}
	for flag, name := range pins {
		if gpioreg.ByName(name) == nil {
			return fmt.Errorf("GPIO pin %s (--%s) not found", name, flag)
		}
	}

	dev, err := epd.NewSPI(port, gpioreg.ByName(pins["busy"]),
		gpioreg.ByName(pins["dc"]), gpioreg.ByName(pins["rst"]), &epd.Opts{
			W:         size.X,
			H:         size.Y,
			ChunkSize: c.Int("chunk"),
			Rotation:  rotation,
		})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()

	log.Printf("Refreshing %s panel (%s)...", c.String("panel"), rotation)
	return refresh(ctx, dev, b)
}

type panel interface {
	Update(ctx context.Context, b *tricolor.Bitmap) error
	PowerOff(ctx context.Context) error
}

// refresh shows b on p and powers it off, also when the update fails.
func refresh(ctx context.Context, p panel, b *tricolor.Bitmap) error {
	if err := p.Update(ctx, b); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Println("Panel did not finish refreshing in time.")
		}

		// ctx may already be done.
		offCtx, cancel := context.WithTimeout(context.Background(), epd.DefaultBusyTimeout)
		defer cancel()
		if offErr := p.PowerOff(offCtx); offErr != nil {
			log.Println("Warning: failed to power off panel:", offErr)
		}
		return err
	}

	return p.PowerOff(ctx)
}
