// Command sketchbot joins a room as a headless participant, scribbles random
// strokes and shapes, and writes what its canvas looks like at the end to a
// PNG file. Handy for load testing and for checking a deployment end to end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manpreetbhatti/sketchroom/backend/internal/clientsync"
	"github.com/manpreetbhatti/sketchroom/backend/internal/protocol"
	"github.com/manpreetbhatti/sketchroom/backend/internal/raster"
)

var palette = []string{"#000000", "#EF4444", "#F59E0B", "#10B981", "#3B82F6", "#8B5CF6", "#EC4899"}

var tools = []string{
	protocol.ToolPen, protocol.ToolPen, protocol.ToolPen,
	protocol.ToolEraser, protocol.ToolLine, protocol.ToolRectangle, protocol.ToolCircle,
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "server websocket endpoint")
	roomID := flag.String("room", "", "room to join (empty creates one)")
	actions := flag.Int("actions", 20, "number of strokes and shapes to draw")
	interval := flag.Duration("interval", 250*time.Millisecond, "pause between actions")
	undoRate := flag.Float64("undo", 0.1, "probability of undoing after an action")
	policyName := flag.String("policy", "local", "history policy: local or server")
	width := flag.Int("width", 1280, "canvas width")
	height := flag.Int("height", 720, "canvas height")
	out := flag.String("out", "sketch.png", "where to write the final canvas")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	policy := clientsync.PolicyLocal
	switch *policyName {
	case "local":
	case "server":
		policy = clientsync.PolicyServer
	default:
		log.Fatalf("Unknown policy %q", *policyName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, botConfig{
		url:      *url,
		roomID:   *roomID,
		actions:  *actions,
		interval: *interval,
		undoRate: *undoRate,
		policy:   policy,
		width:    *width,
		height:   *height,
		out:      *out,
		rng:      rand.New(rand.NewSource(*seed)),
	}); err != nil {
		log.Fatalf("sketchbot: %v", err)
	}
}

type botConfig struct {
	url      string
	roomID   string
	actions  int
	interval time.Duration
	undoRate float64
	policy   clientsync.Policy
	width    int
	height   int
	out      string
	rng      *rand.Rand
}

func run(ctx context.Context, cfg botConfig) error {
	conn, err := clientsync.Dial(ctx, cfg.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	canvas := raster.New(raster.Options{Width: cfg.width, Height: cfg.height})
	state, err := clientsync.New(canvas, conn, clientsync.Options{Policy: cfg.policy})
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(ctx, state) }()

	if err := conn.Join(cfg.roomID); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	if err := waitForRoom(ctx, state); err != nil {
		return err
	}
	log.Printf("🤖 Joined room %s (%d users)", state.RoomID(), state.Users())

	b := bot{state: state, rng: cfg.rng, width: float64(canvas.Width()), height: float64(canvas.Height())}
	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	for i := 0; i < cfg.actions; i++ {
		select {
		case <-ctx.Done():
			log.Println("Interrupted")
			return save(canvas, cfg.out)
		case err := <-runErr:
			if err == nil {
				return errors.New("server closed the connection")
			}
			return fmt.Errorf("connection lost: %w", err)
		case <-ticker.C:
		}

		if err := b.act(); err != nil {
			return err
		}
		if cfg.rng.Float64() < cfg.undoRate {
			if _, err := state.Undo(); err != nil {
				return err
			}
		}
	}

	log.Printf("✏️ Drew %d actions, local history has %d entries", cfg.actions, len(state.History()))
	return save(canvas, cfg.out)
}

func waitForRoom(ctx context.Context, state *clientsync.State) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for state.RoomID() == "" {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for room: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func save(canvas *raster.Canvas, path string) error {
	if err := canvas.SavePNG(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	log.Printf("💾 Canvas written to %s", path)
	return nil
}

type bot struct {
	state  *clientsync.State
	rng    *rand.Rand
	width  float64
	height float64
}

func (b *bot) point() protocol.Point {
	return protocol.Point{X: b.rng.Float64() * b.width, Y: b.rng.Float64() * b.height}
}

// act draws one random stroke or shape
func (b *bot) act() error {
	b.state.SetPen(clientsync.Pen{
		Tool:  tools[b.rng.Intn(len(tools))],
		Color: palette[b.rng.Intn(len(palette))],
		Size:  float64(2 + b.rng.Intn(10)),
	})

	at := b.point()
	if err := b.state.PointerDown(at); err != nil {
		return err
	}

	// A short random walk; shapes only use the last point
	steps := 5 + b.rng.Intn(20)
	for i := 0; i < steps; i++ {
		at.X = clamp(at.X+b.rng.NormFloat64()*20, 0, b.width)
		at.Y = clamp(at.Y+b.rng.NormFloat64()*20, 0, b.height)
		if err := b.state.PointerMove(at); err != nil {
			return err
		}
	}
	return b.state.PointerUp(at)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
