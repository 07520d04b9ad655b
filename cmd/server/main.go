package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manpreetbhatti/sketchroom/backend/internal/activity"
	"github.com/manpreetbhatti/sketchroom/backend/internal/api"
	"github.com/manpreetbhatti/sketchroom/backend/internal/config"
	"github.com/manpreetbhatti/sketchroom/backend/internal/db"
	"github.com/manpreetbhatti/sketchroom/backend/internal/ratelimit"
	"github.com/manpreetbhatti/sketchroom/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// Rooms live in memory only, so anything still open belongs to a
	// previous process
	if n, err := database.CloseDanglingSessions(time.Now()); err != nil {
		log.Printf("⚠️ Failed to close dangling sessions: %v", err)
	} else if n > 0 {
		log.Printf("🧹 Closed %d sessions left open by the last run", n)
	}

	recorder := activity.New(database, activity.Config{
		SweepInterval: cfg.ActivitySweepInterval,
		Retention:     cfg.ActivityRetention,
		QueueSize:     activity.DefaultConfig().QueueSize,
	})
	recorder.Start()

	hub := ws.NewHub(recorder, ws.Options{
		RoomIDLength:      cfg.RoomIDLength,
		MaxHistory:        cfg.MaxHistory,
		SendBuffer:        cfg.SendBuffer,
		WriteWait:         cfg.WriteWait,
		PongWait:          cfg.PongWait,
		MaxMessageSize:    cfg.MaxMessageSize,
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
		CheckOrigin: func(r *http.Request) bool {
			return cfg.OriginAllowed(r.Header.Get("Origin"))
		},
	})
	go hub.Run()

	limiter := ratelimit.NewKeyed(cfg.HTTPRequestsPerSecond, cfg.HTTPBurst)
	apiHandler := api.New(hub, database, recorder)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           apiHandler.Router(limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("⚠️ HTTP shutdown: %v", err)
		}
	}()

	log.Printf("🎨 Sketchroom server starting on :%s", cfg.Port)
	log.Printf("📁 Database: %s", cfg.DBPath)
	log.Printf("🕘 History depth: %d snapshots per room", cfg.MaxHistory)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Rooms:     GET /api/rooms")
	log.Println("  - Room:      GET /api/rooms/{id}")
	log.Println("  - Activity:  GET /api/rooms/{id}/activity")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("ListenAndServe: ", err)
	}

	// Websocket connections are hijacked and outlive Shutdown; the hub
	// closes them. Leave events are flushed before the database closes.
	hub.Stop()
	limiter.Stop()
	recorder.Stop()
	if _, err := database.CloseDanglingSessions(time.Now()); err != nil {
		log.Printf("⚠️ Failed to close sessions: %v", err)
	}
	log.Println("👋 Bye")
}
