package site

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/always-cache/render-cache/pkg/preferences"

	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"
)

const clientCookie = "client_id"

type themeView struct {
	Theme preferences.Theme `json:"theme"`
}

// clientID returns the id of the requesting client, assigning a new one if it has none.
func clientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(clientCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     clientCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   365 * 24 * 60 * 60,
	})
	return id
}

func (s *Site) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	if s.prefs == nil {
		http.NotFound(w, r)
		return
	}
	theme, err := s.prefs.Theme(r.Context(), clientID(w, r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, themeView{Theme: theme})
}

func (s *Site) handlePutTheme(w http.ResponseWriter, r *http.Request) {
	if s.prefs == nil {
		http.NotFound(w, r)
		return
	}
	var req themeView
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, errorView{Error: "invalid request body"})
		return
	}
	err := s.prefs.SetTheme(r.Context(), clientID(w, r), req.Theme)
	if errors.Is(err, preferences.ErrInvalidTheme) {
		s.writeJSON(w, r, http.StatusBadRequest, errorView{Error: "theme must be light or dark"})
		return
	}
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	hlog.FromRequest(r).Trace().Str("theme", string(req.Theme)).Msg("Stored theme")
	s.writeJSON(w, r, http.StatusOK, req)
}

func (s *Site) handleToggleTheme(w http.ResponseWriter, r *http.Request) {
	if s.prefs == nil {
		http.NotFound(w, r)
		return
	}
	theme, err := s.prefs.Toggle(r.Context(), clientID(w, r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, themeView{Theme: theme})
}
