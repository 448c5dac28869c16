// internal/httpserver/routes_games.go
//
// Game catalog routes:
//   - GET  /games                        → every game, answers stripped
//   - GET  /games/featured               → game of the day (HMAC of date + salt)
//   - GET  /games/{gameID}/leaderboard   → top results for one game
//   - POST /games/{gameID}/play          → mount a new instance
//
// Mounting restores the learner's pending hand-off for that game, if any,
// so coming back from a catalog section lands where they left off.

package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/skillgames/internal/daily"
	"github.com/robalobadob/skillgames/internal/games"
	"github.com/robalobadob/skillgames/internal/session"
	"github.com/robalobadob/skillgames/internal/store"
)

const (
	defaultLeaderboard = 20
	maxLeaderboard     = 100
)

// mountGames registers all /games routes.
func (s *Server) mountGames(r chi.Router) {
	r.Route("/games", func(r chi.Router) {
		r.Get("/", s.handleListGames)
		r.Get("/featured", s.handleFeatured)
		r.Get("/{gameID}/leaderboard", s.handleLeaderboard)
		r.Post("/{gameID}/play", s.handlePlay)
	})
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lib.Games())
}

func (s *Server) handleFeatured(w http.ResponseWriter, r *http.Request) {
	f, ok := daily.Pick(s.now(), s.cfg.DailySalt, s.lib.Games())
	if !ok {
		writeError(w, http.StatusNotFound, "no_games")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// lbRes is returned by /games/{gameID}/leaderboard.
type lbRes struct {
	GameID string `json:"gameId"`
	Top    any    `json:"top"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	if _, ok := s.lib.Game(gameID); !ok {
		writeError(w, http.StatusNotFound, "unknown_game")
		return
	}
	limit := defaultLeaderboard
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_limit")
			return
		}
		limit = min(n, maxLeaderboard)
	}
	rows, err := s.results.Leaderboard(r.Context(), gameID, limit)
	if err != nil {
		log.Error().Err(err).Str("game", gameID).Msg("leaderboard")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, lbRes{GameID: gameID, Top: rows})
}

// playRes is returned by POST /games/{gameID}/play.
type playRes struct {
	session.View
	Restored bool `json:"restored"`
}

// handlePlay creates an instance owned by the caller and mounts it.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	owner := s.owner(w, r)

	inst, err := games.New(gameID, uuid.NewString(), games.Player{
		OwnerID:  owner.ID(),
		Reporter: s.results.Reporter(owner),
	}, s.deps)
	if errors.Is(err, games.ErrUnknownGame) {
		writeError(w, http.StatusNotFound, "unknown_game")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("game", gameID).Msg("new instance")
		writeError(w, http.StatusInternalServerError, "create_failed")
		return
	}

	restored := inst.Mount(r.Context())
	if err := s.store.Save(r.Context(), store.Entry{Instance: inst, OwnerID: owner.ID()}); err != nil {
		inst.Close()
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}
	log.Info().Str("game", gameID).Str("instance", inst.ID()).Bool("restored", restored).Msg("instance mounted")
	writeJSON(w, http.StatusCreated, playRes{View: inst.View(), Restored: restored})
}
