package api

import (
	"log"
	"net"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/manpreetbhatti/sketchroom/backend/internal/ratelimit"
)

// Router wires every endpoint. limiter throttles /api per client address and
// may be nil.
func (a *API) Router(limiter *ratelimit.Keyed) http.Handler {
	r := mux.NewRouter()

	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(a.WebSocketHandler)
	r.Methods(http.MethodGet).Path("/health").HandlerFunc(a.HealthHandler)

	api := r.PathPrefix("/api").Subrouter()
	if limiter != nil {
		api.Use(rateLimitMiddleware(limiter))
	}
	api.Methods(http.MethodGet).Path("/stats").HandlerFunc(a.StatsHandler)
	api.Methods(http.MethodGet).Path("/rooms").HandlerFunc(a.ListRoomsHandler)
	api.Methods(http.MethodGet).Path("/rooms/{id}").HandlerFunc(a.GetRoomHandler)
	api.Methods(http.MethodGet).Path("/rooms/{id}/activity").HandlerFunc(a.RoomActivityHandler)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// Outside the router so preflight and unmatched requests are covered too
	return accessLogMiddleware(corsMiddleware(r))
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, m.Code, m.Duration)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func rateLimitMiddleware(limiter *ratelimit.Keyed) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientAddr(r)) {
				errorResponse(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
