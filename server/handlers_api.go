package server

import (
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/onnwee/commentcast/config"
	"github.com/onnwee/commentcast/pipeline"
	"github.com/onnwee/commentcast/sound"
	"github.com/onnwee/commentcast/telemetry"
)

// HandleResponses proxies a board fetch: GET /api/responses?url=&after=.
func (h *Handlers) HandleResponses(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	threadURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if threadURL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	after := parseIntQuery(r, "after", 0)
	if after < 0 {
		after = 0
	}
	rows, err := h.deps.Fetcher.FetchResponses(r.Context(), threadURL, after)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("board proxy fetch failed", slog.String("thread", threadURL), slog.Any("err", err))
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// HandleAck records a "finished" signal from an overlay page or external
// player: POST /api/ack/sound and /api/ack/speech.
func (h *Handlers) HandleAck(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	switch path.Base(r.URL.Path) {
	case "sound":
		h.deps.SoundAck.Signal()
	case "speech":
		h.deps.SpeechAck.Signal()
	default:
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCommentTest sends a canned comment through the presentation path.
func (h *Handlers) HandleCommentTest(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	c, err := h.deps.Session.CommentTest(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleSession starts (POST) or stops (DELETE) the relay session.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost, http.MethodDelete) {
		return
	}
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "http"))
	var err error
	if r.Method == http.MethodPost {
		err = h.deps.Session.Start(h.ctx)
	} else {
		err = h.deps.Session.Stop()
	}
	var cerr *config.ConfigError
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrSessionRunning), errors.Is(err, pipeline.ErrSessionStopped):
		writeError(w, http.StatusConflict, err)
		return
	case errors.As(err, &cerr):
		writeError(w, http.StatusBadRequest, err)
		return
	default:
		log.Error("session control failed", slog.String("method", r.Method), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running":    h.deps.Session.Running(),
		"generation": h.deps.Session.Generation(),
	})
}

// HandleHistory lists archived comments: GET /api/history?limit=.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if h.deps.History == nil {
		writeError(w, http.StatusNotFound, errors.New("archive disabled"))
		return
	}
	limit := parseIntQuery(r, "limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	recs, err := h.deps.History.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleSoundClip serves clips from the configured sound directory under
// /se/ for the browser sound player.
func (h *Handlers) HandleSoundClip(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	dir := h.deps.Session.Config().SEPath
	name := strings.TrimPrefix(r.URL.Path, "/se/")
	if dir == "" || name == "" || strings.Contains(name, "/") || !sound.IsClip(name) {
		http.NotFound(w, r)
		return
	}
	http.StripPrefix("/se/", http.FileServer(http.Dir(dir))).ServeHTTP(w, r)
}
