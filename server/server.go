// Package server exposes the converter over HTTP.
//
// Endpoints:
//
//	POST /api/convert?name=&format=rust|c|bin&resize=WxH  image body -> source code or container
//	POST /api/pack?name=&resize=WxH                       image body -> JSON
//	GET  /api/stream?resize=WxH                           websocket, image frames in, containers out
package server

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
	gbytes "github.com/labstack/gommon/bytes"
	"github.com/tmpim/tricolor"
)

// Options configures the server.
type Options struct {
	// BodyLimit caps request and message sizes, e.g. "16M". Empty means "16M".
	BodyLimit string
	// Workers is passed on to tricolor.PackImage.
	Workers int
	// Quiet disables request logging.
	Quiet bool
}

type server struct {
	opts      Options
	readLimit int64
	upgrader  websocket.Upgrader
}

// New returns an echo instance serving the API.
func New(opts Options) (*echo.Echo, error) {
	if opts.BodyLimit == "" {
		opts.BodyLimit = "16M"
	}

	limit, err := gbytes.Parse(opts.BodyLimit)
	if err != nil || limit <= 0 {
		return nil, fmt.Errorf("server: invalid body limit %q", opts.BodyLimit)
	}

	s := &server{
		opts:      opts,
		readLimit: limit,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
		},
	}

	e := echo.New()
	e.HideBanner = true

	if !opts.Quiet {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	api := e.Group("/api")
	api.POST("/convert", s.convert, middleware.BodyLimit(opts.BodyLimit))
	api.POST("/pack", s.pack, middleware.BodyLimit(opts.BodyLimit))
	api.GET("/stream", s.stream)

	return e, nil
}

// request holds the query parameters shared by all endpoints.
type request struct {
	name   string
	format string
	width  int
	height int
}

func parseRequest(c echo.Context) (request, error) {
	r := request{
		name:   c.QueryParam("name"),
		format: strings.ToLower(c.QueryParam("format")),
	}
	if r.name == "" {
		r.name = "IMAGE"
	}

	var err error
	r.width, r.height, err = tricolor.ParseSize(c.QueryParam("resize"))
	if err != nil {
		return r, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return r, nil
}

func (s *server) packBody(data []byte, r request) (*tricolor.Bitmap, image.Image, error) {
	img, _, err := tricolor.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if tricolor.Channels(img) != 3 {
		return nil, nil, echo.NewHTTPError(http.StatusUnprocessableEntity,
			tricolor.ErrInvalidChannelCount.Error())
	}

	img = tricolor.Resize(img, r.width, r.height)
	b, err := tricolor.PackImage(img, tricolor.PackOptions{Workers: s.opts.Workers})
	if err != nil {
		return nil, nil, err
	}

	return b, img, nil
}

func readBody(c echo.Context) ([]byte, error) {
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(c.Request().Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *server) convert(c echo.Context) error {
	r, err := parseRequest(c)
	if err != nil {
		return err
	}

	format := tricolor.FormatRust
	if r.format != "bin" {
		format, err = tricolor.ParseCodeFormat(r.format)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	data, err := readBody(c)
	if err != nil {
		return err
	}

	b, _, err := s.packBody(data, r)
	if err != nil {
		return err
	}

	if r.format == "bin" {
		buf := new(bytes.Buffer)
		if _, err := b.WriteTo(buf); err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return c.Blob(http.StatusOK, echo.MIMEOctetStream, buf.Bytes())
	}

	code, err := tricolor.GenerateCode(tricolor.ConstName(r.name), b, format)
	if err != nil {
		return err
	}

	return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, code)
}

// PackResponse is the body returned by /api/pack.
type PackResponse struct {
	Name        string         `json:"name"`
	Width       int            `json:"width"`
	PaddedWidth int            `json:"padded_width"`
	Height      int            `json:"height"`
	Bytes       []byte         `json:"bytes"`
	Stats       tricolor.Stats `json:"stats"`

	MeanDistance float64 `json:"mean_distance"`
	MaxDistance  float64 `json:"max_distance"`
}

func (s *server) pack(c echo.Context) error {
	r, err := parseRequest(c)
	if err != nil {
		return err
	}

	data, err := readBody(c)
	if err != nil {
		return err
	}

	b, img, err := s.packBody(data, r)
	if err != nil {
		return err
	}

	report := tricolor.Measure(img, b)
	return c.JSON(http.StatusOK, &PackResponse{
		Name:        tricolor.ConstName(r.name),
		Width:       b.Width,
		PaddedWidth: b.PaddedWidth,
		Height:      b.Height,
		Bytes:       b.Pix,
		Stats:       report.Stats,

		MeanDistance: report.MeanDistance,
		MaxDistance:  report.MaxDistance,
	})
}

func (s *server) stream(c echo.Context) error {
	r, err := parseRequest(c)
	if err != nil {
		return err
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	ws.SetReadLimit(s.readLimit)

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Println("tricolor server: stream:", err)
			}
			return nil
		}

		if kind != websocket.BinaryMessage {
			if err := writeError(ws, errors.New("frames must be binary messages")); err != nil {
				return nil
			}
			continue
		}

		b, _, err := s.packBody(data, r)
		if err != nil {
			if err := writeError(ws, err); err != nil {
				return nil
			}
			continue
		}

		w, err := ws.NextWriter(websocket.BinaryMessage)
		if err != nil {
			return nil
		}
		if _, err := b.WriteTo(w); err != nil {
			w.Close()
			return nil
		}
		if err := w.Close(); err != nil {
			return nil
		}
	}
}

func writeError(ws *websocket.Conn, err error) error {
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	return ws.WriteMessage(websocket.TextMessage, []byte("error: "+msg))
}
