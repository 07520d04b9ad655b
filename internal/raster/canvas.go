// Package raster is an in-memory whiteboard canvas drawn with gg. It renders
// the same strokes and shapes a browser client would and encodes snapshots as
// PNG data URLs, so headless clients and tests can take part in a room.
package raster

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/manpreetbhatti/sketchroom/backend/internal/protocol"
)

const (
	DefaultBackground = "#FFFFFF"

	gridColor = "#E5E7EB"
	gridSize  = 20
	gridWidth = 0.5

	dataURLPrefix = "data:image/png;base64,"
)

var ErrInvalidDataURL = errors.New("invalid image data URL")

type Options struct {
	Width      int
	Height     int
	Background string
	Grid       bool
}

// Canvas implements clientsync.Renderer. Safe for concurrent use.
type Canvas struct {
	mu   sync.Mutex
	dc   *gg.Context
	opts Options

	// Last point of the stroke in progress, per origin connection.
	// "" is the local user.
	pens map[string]protocol.Point
}

func New(opts Options) *Canvas {
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 720
	}
	if opts.Background == "" {
		opts.Background = DefaultBackground
	}

	c := &Canvas{
		dc:   gg.NewContext(opts.Width, opts.Height),
		opts: opts,
		pens: make(map[string]protocol.Point),
	}
	c.dc.SetLineCapRound()
	c.dc.SetLineJoinRound()
	c.fill()
	return c
}

// Size after defaults are applied
func (c *Canvas) Width() int  { return c.opts.Width }
func (c *Canvas) Height() int { return c.opts.Height }

// fill paints the background (and grid) over everything
func (c *Canvas) fill() {
	c.dc.SetHexColor(c.opts.Background)
	c.dc.Clear()

	if !c.opts.Grid {
		return
	}
	c.dc.SetHexColor(gridColor)
	c.dc.SetLineWidth(gridWidth)
	w, h := float64(c.opts.Width), float64(c.opts.Height)
	for x := 0.0; x <= w; x += gridSize {
		c.dc.DrawLine(x, 0, x, h)
	}
	for y := 0.0; y <= h; y += gridSize {
		c.dc.DrawLine(0, y, w, y)
	}
	c.dc.Stroke()
}

// DrawPath extends the stroke of origin to p. A point flagged Begin, or the
// first point seen from an origin, only moves the pen.
func (c *Canvas) DrawPath(origin string, p protocol.Path) {
	c.mu.Lock()
	defer c.mu.Unlock()

	to := protocol.Point{X: p.X, Y: p.Y}
	from, ok := c.pens[origin]
	c.pens[origin] = to
	if p.Begin || !ok {
		return
	}

	if p.Tool == protocol.ToolEraser {
		c.dc.SetHexColor(c.opts.Background)
	} else {
		c.dc.SetHexColor(p.Color)
	}
	c.dc.SetLineWidth(p.Size)
	c.dc.DrawLine(from.X, from.Y, to.X, to.Y)
	c.dc.Stroke()
}

// EndPath forgets the stroke in progress for origin
func (c *Canvas) EndPath(origin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pens, origin)
}

func (c *Canvas) DrawShape(s protocol.Shape) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dc.SetHexColor(s.Color)
	c.dc.SetLineWidth(s.Size)

	width := s.EndPos.X - s.StartPos.X
	height := s.EndPos.Y - s.StartPos.Y

	switch s.Tool {
	case protocol.ToolLine:
		c.dc.DrawLine(s.StartPos.X, s.StartPos.Y, s.EndPos.X, s.EndPos.Y)
	case protocol.ToolRectangle:
		c.dc.DrawRectangle(s.StartPos.X, s.StartPos.Y, width, height)
	case protocol.ToolCircle:
		// The drag is the circle's diameter
		radius := math.Sqrt(width*width+height*height) / 2
		c.dc.DrawCircle(s.StartPos.X+width/2, s.StartPos.Y+height/2, radius)
	default:
		return
	}
	c.dc.Stroke()
}

func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fill()
	c.pens = make(map[string]protocol.Point)
}

// Snapshot encodes the canvas as a PNG data URL
func (c *Canvas) Snapshot() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf bytes.Buffer
	if err := png.Encode(&buf, c.dc.Image()); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Restore replaces the canvas with a snapshot, drawn at the top-left corner
func (c *Canvas) Restore(snapshot string) error {
	img, err := DecodeDataURL(snapshot)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fill()
	c.dc.DrawImage(img, 0, 0)
	c.pens = make(map[string]protocol.Point)
	return nil
}

// LoadImage replaces the canvas with img scaled to fit and centered
func (c *Canvas) LoadImage(img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fill()
	c.pens = make(map[string]protocol.Point)

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return
	}

	w, h := float64(c.opts.Width), float64(c.opts.Height)
	aspect := float64(bounds.Dx()) / float64(bounds.Dy())
	drawW, drawH := w, w/aspect
	if drawH > h {
		drawH = h
		drawW = h * aspect
	}
	scale := drawW / float64(bounds.Dx())

	c.dc.Push()
	c.dc.Translate((w-drawW)/2, (h-drawH)/2)
	c.dc.Scale(scale, scale)
	c.dc.DrawImage(img, -bounds.Min.X, -bounds.Min.Y)
	c.dc.Pop()
}

// Image returns a copy of the current pixels
func (c *Canvas) Image() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()

	src := c.dc.Image()
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}

func (c *Canvas) SavePNG(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc.SavePNG(path)
}

// DecodeDataURL decodes a base64 image data URL (png, jpeg or gif)
func DecodeDataURL(s string) (image.Image, error) {
	if !strings.HasPrefix(s, "data:image/") {
		return nil, ErrInvalidDataURL
	}
	_, encoded, ok := strings.Cut(s, ";base64,")
	if !ok {
		return nil, ErrInvalidDataURL
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
