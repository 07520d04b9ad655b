package clientsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/manpreetbhatti/sketchroom/backend/internal/protocol"
	"github.com/manpreetbhatti/sketchroom/backend/internal/raster"
	"github.com/manpreetbhatti/sketchroom/backend/internal/ws"
)

var _ Renderer = (*raster.Canvas)(nil)

type peer struct {
	conn   *Conn
	canvas *raster.Canvas
	state  *State
}

func connect(t *testing.T, ctx context.Context, url string, policy Policy) *peer {
	t.Helper()
	conn, err := Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	canvas := raster.New(raster.Options{Width: 100, Height: 100})
	state, err := New(canvas, conn, Options{Policy: policy})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	go conn.Run(ctx, state)
	t.Cleanup(func() { conn.Close() })
	return &peer{conn: conn, canvas: canvas, state: state}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func painted(c *raster.Canvas, x, y int) bool {
	r, g, b, _ := c.Image().At(x, y).RGBA()
	return r>>8 > 200 && g>>8 < 60 && b>>8 < 60
}

func drawLine(t *testing.T, s *State, from, to protocol.Point) {
	t.Helper()
	mid := protocol.Point{X: (from.X + to.X) / 2, Y: (from.Y + to.Y) / 2}
	if err := s.PointerDown(from); err != nil {
		t.Fatalf("PointerDown failed: %v", err)
	}
	for _, p := range []protocol.Point{mid, to} {
		if err := s.PointerMove(p); err != nil {
			t.Fatalf("PointerMove failed: %v", err)
		}
	}
	if err := s.PointerUp(to); err != nil {
		t.Fatalf("PointerUp failed: %v", err)
	}
}

func startHub(t *testing.T) (*ws.Hub, string) {
	t.Helper()
	hub := ws.NewHub(nil, ws.DefaultOptions())
	go hub.Run()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		server.Close()
		hub.Stop()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestTwoClientsShareACanvas(t *testing.T) {
	hub, url := startHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := connect(t, ctx, url, PolicyServer)
	if err := a.conn.Join(""); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	eventually(t, "room id", func() bool { return a.state.RoomID() != "" })

	b := connect(t, ctx, url, PolicyServer)
	if err := b.conn.Join(a.state.RoomID()); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	eventually(t, "two users", func() bool { return a.state.Users() == 2 && b.state.Users() == 2 })

	a.state.SetPen(Pen{Tool: protocol.ToolPen, Color: "#FF0000", Size: 6})
	drawLine(t, a.state, protocol.Point{X: 10, Y: 50}, protocol.Point{X: 90, Y: 50})

	eventually(t, "stroke on B", func() bool { return painted(b.canvas, 30, 50) && painted(b.canvas, 70, 50) })

	eventually(t, "snapshot saved", func() bool {
		summary, ok := hub.Room(a.state.RoomID())
		return ok && summary.HasSnapshot
	})

	// A late joiner sees the stroke through the saved snapshot
	c := connect(t, ctx, url, PolicyServer)
	if err := c.conn.Join(a.state.RoomID()); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	eventually(t, "snapshot on C", func() bool { return painted(c.canvas, 50, 50) })

	// Undo goes through the server and blanks everyone's canvas
	drawLine(t, a.state, protocol.Point{X: 50, Y: 10}, protocol.Point{X: 50, Y: 90})
	eventually(t, "second snapshot", func() bool {
		summary, _ := hub.Room(a.state.RoomID())
		return summary.HistoryLen == 2
	})

	if ok, err := a.state.Undo(); !ok || err != nil {
		t.Fatalf("Undo failed: %v %v", ok, err)
	}
	for _, p := range []*peer{a, b, c} {
		p := p
		eventually(t, "undo applied", func() bool { return !painted(p.canvas, 50, 20) && painted(p.canvas, 30, 50) })
	}
}

func TestServerUndoOfFirstStroke(t *testing.T) {
	hub, url := startHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := connect(t, ctx, url, PolicyServer)
	if err := a.conn.Join(""); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	eventually(t, "room id", func() bool { return a.state.RoomID() != "" })

	a.state.SetPen(Pen{Tool: protocol.ToolPen, Color: "#FF0000", Size: 6})
	drawLine(t, a.state, protocol.Point{X: 10, Y: 50}, protocol.Point{X: 90, Y: 50})
	eventually(t, "first snapshot", func() bool {
		summary, _ := hub.Room(a.state.RoomID())
		return summary.HistoryLen == 1
	})

	// The room holds a single entry, so there is nothing it could undo
	if ok, err := a.state.Undo(); ok || err != nil {
		t.Fatalf("Expected nothing to undo, got %v %v", ok, err)
	}
	if a.state.CanUndo() {
		t.Error("CanUndo should be false")
	}
	if !painted(a.canvas, 50, 50) {
		t.Error("First stroke should still be painted")
	}

	drawLine(t, a.state, protocol.Point{X: 50, Y: 10}, protocol.Point{X: 50, Y: 90})
	eventually(t, "second snapshot", func() bool {
		summary, _ := hub.Room(a.state.RoomID())
		return summary.HistoryLen == 2
	})
	if ok, err := a.state.Undo(); !ok || err != nil {
		t.Fatalf("Undo failed: %v %v", ok, err)
	}
	eventually(t, "undo answered", func() bool { return a.state.Cursor() == 1 })
	if painted(a.canvas, 50, 20) || !painted(a.canvas, 30, 50) {
		t.Error("Expected only the first stroke after undo")
	}
	if a.state.CanUndo() || len(a.state.History()) != 3 {
		t.Errorf("Expected to rest on the room's first entry, history %d", len(a.state.History()))
	}
}
