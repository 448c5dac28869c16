// internal/httpserver/routes_play.go
//
// Routes for a running instance, all owner-checked:
//   - GET  /play/{instanceID}          → current view
//   - POST /play/{instanceID}/actions  → one player action, returns the new view
//   - POST /play/{instanceID}/handoff  → save to the hand-off slot, close the
//     instance and return the catalog URL to navigate to
//
// Plus the read-only catalog the insight recommends:
//   - GET /catalog/{subject}
//   - GET /catalog/{subject}/{topicID}
//
// Actions that are not valid in the current phase are not errors: the
// response is simply the unchanged view.

package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/skillgames/internal/session"
	"github.com/robalobadob/skillgames/internal/store"
)

// mountPlay registers all /play routes.
func (s *Server) mountPlay(r chi.Router) {
	r.Route("/play/{instanceID}", func(r chi.Router) {
		r.Get("/", s.handleView)
		r.Post("/actions", s.handleAction)
		r.Post("/handoff", s.handleHandoff)
	})
}

// mountCatalog registers the catalog routes.
func (s *Server) mountCatalog(r chi.Router) {
	r.Get("/catalog/{subject}", func(w http.ResponseWriter, r *http.Request) {
		sections := s.lib.Sections(chi.URLParam(r, "subject"))
		if sections == nil {
			writeError(w, http.StatusNotFound, "unknown_subject")
			return
		}
		writeJSON(w, http.StatusOK, sections)
	})
	r.Get("/catalog/{subject}/{topicID}", func(w http.ResponseWriter, r *http.Request) {
		sec, ok := s.lib.Section(chi.URLParam(r, "subject"), chi.URLParam(r, "topicID"))
		if !ok {
			writeError(w, http.StatusNotFound, "unknown_section")
			return
		}
		writeJSON(w, http.StatusOK, sec)
	})
}

// entry loads the instance and checks the caller owns it. Someone else's
// instance is reported as missing.
func (s *Server) entry(w http.ResponseWriter, r *http.Request) (store.Entry, bool) {
	e, err := s.store.Get(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil || !s.owns(w, r, e.OwnerID) {
		writeError(w, http.StatusNotFound, "not_found")
		return store.Entry{}, false
	}
	return e, true
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.Instance.View())
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	var cmd session.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	v, err := e.Instance.Do(cmd)
	switch {
	case errors.Is(err, session.ErrUnknownCommand):
		writeError(w, http.StatusBadRequest, "unknown_command")
		return
	case errors.Is(err, session.ErrBadPayload):
		writeError(w, http.StatusBadRequest, "bad_payload")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "action_failed")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type handoffReq struct {
	To string `json:"to"`
}

type handoffRes struct {
	Redirect string `json:"redirect"`
}

// handleHandoff saves the session so the learner can read a catalog section
// and come back. The body is optional; without "to" the redirect is the
// subject's section list.
func (s *Server) handleHandoff(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	var req handoffReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	g, _ := s.lib.Game(e.Instance.GameID())
	redirect := "/catalog/" + g.Subject
	if req.To != "" {
		if _, ok := s.lib.Section(g.Subject, req.To); !ok {
			writeError(w, http.StatusBadRequest, "unknown_section")
			return
		}
		redirect += "/" + req.To
	}

	if err := e.Instance.Handoff(r.Context()); err != nil {
		log.Error().Err(err).Str("instance", e.Instance.ID()).Msg("handoff save")
		writeError(w, http.StatusInternalServerError, "handoff_failed")
		return
	}
	// Started as a guest, handed off after login: the next mount looks under
	// the account id.
	if cur := s.owner(w, r).ID(); cur != e.OwnerID {
		s.moveSlot(r.Context(), e.Instance.GameID(), e.OwnerID, cur)
	}
	if err := s.store.Delete(r.Context(), e.Instance.ID()); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Msg("close handed-off instance")
	}
	writeJSON(w, http.StatusOK, handoffRes{Redirect: redirect})
}
