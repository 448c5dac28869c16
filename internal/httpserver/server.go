// internal/httpserver/server.go
//
// HTTP server wiring for the skillgames backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs, access log).
//   - Public endpoints: "/", "/health", game list, featured game, leaderboards, catalog.
//   - Play endpoints (optional auth): mount an instance, read its view,
//     dispatch player actions, hand off to a catalog section.
//   - Auth + profile endpoints: /auth/*, /stats/me, /results/mine.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - Guests are identified by an anonymous cookie; the account id replaces
//     it once logged in. That identity owns instances and hand-off slots.
//   - Running instances live in the in-memory store; finished rounds are
//     recorded in SQLite through the results store.

package httpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/skillgames/internal/config"
	"github.com/robalobadob/skillgames/internal/content"
	"github.com/robalobadob/skillgames/internal/games"
	"github.com/robalobadob/skillgames/internal/results"
	"github.com/robalobadob/skillgames/internal/store"
	"github.com/robalobadob/skillgames/internal/timer"
)

// Options are the server's dependencies.
type Options struct {
	Config  config.Config
	DB      *sql.DB
	Store   store.Store
	Results *results.Store
	// Games carries the content library, model, hand-off slots and scheduler
	// handed to every new instance.
	Games games.Deps
	Now   func() time.Time
}

// Server bundles router, instance registry and DB handle.
type Server struct {
	r       *chi.Mux
	cfg     config.Config
	db      *sql.DB
	store   store.Store
	results *results.Store
	lib     *content.Library
	deps    games.Deps
	now     func() time.Time
}

// New constructs a Server, installs middleware, and registers routes.
func New(o Options) *Server {
	s := &Server{
		r:       chi.NewRouter(),
		cfg:     o.Config,
		db:      o.DB,
		store:   o.Store,
		results: o.Results,
		lib:     o.Games.Library,
		deps:    o.Games,
		now:     o.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	// --- middleware ---
	s.r.Use(chimw.RequestID)                 // add X-Request-ID
	s.r.Use(chimw.RealIP)                    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(accessLog)                       // one zerolog line per request
	s.r.Use(chimw.Recoverer)                 // recover from panics
	s.r.Use(chimw.Timeout(10 * time.Second)) // bound handler time
	s.r.Use(jsonContentType)                 // default JSON responses
	s.r.Use(cors(s.cfg.ClientOrigin))        // credentials-friendly CORS

	// --- diagnostics ---
	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service": "skillgames",
			"endpoints": []string{
				"/health", "/games", "/games/featured", "POST /games/{gameID}/play",
				"/play/{instanceID}", "/catalog/{subject}", "/auth/*",
			},
		})
	})
	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	// Games + play: OPTIONAL AUTH (guests can play)
	s.mountGames(s.r.With(s.withOptionalAuth()))
	s.mountPlay(s.r.With(s.withOptionalAuth()))
	s.mountCatalog(s.r)

	// Auth + profile (require auth)
	s.mountAuthRoutes()

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "path": r.URL.Path})
	})
	return s
}

// Handler exposes the router as an http.Handler.
func (s *Server) Handler() http.Handler { return s.r }

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// StartJanitor evicts instances idle for longer than idle, checking every
// interval. The returned func stops it.
func (s *Server) StartJanitor(sched timer.Scheduler, interval, idle time.Duration) (stop func()) {
	return sched.Every(interval, func() {
		if n := s.store.Evict(context.Background(), s.now().Add(-idle)); n > 0 {
			log.Info().Int("evicted", n).Msg("idle instances closed")
		}
	})
}

// Close shuts down every running instance.
func (s *Server) Close() { s.store.CloseAll() }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// cors enables credentialed CORS for a single origin.
func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// accessLog logs method, path, status and duration at debug level.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("reqId", chimw.GetReqID(r.Context())).
			Msg("http")
	})
}

// ------------------------------- helpers -----------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the {"error": code} body every failing endpoint uses.
func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
