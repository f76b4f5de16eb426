package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/commentcast/config"
	"github.com/onnwee/commentcast/pipeline"
	"github.com/onnwee/commentcast/telemetry"
)

// HandleConfig serves the active config with credentials removed (GET) and
// replaces it (PUT). A PUT body is merged over the active config, so omitted
// keys, credentials included, keep their current values.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.deps.Session.Config().Redacted())
	case http.MethodPut:
		next := h.deps.Session.Config().Clone()
		if err := json.NewDecoder(r.Body).Decode(next); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid json"))
			return
		}
		err := h.deps.Session.ApplyConfig(r.Context(), next)
		var cerr *config.ConfigError
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, h.deps.Session.Config().Redacted())
		case errors.As(err, &cerr):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, pipeline.ErrThreadUnreadable):
			writeError(w, http.StatusUnprocessableEntity, err)
		default:
			telemetry.LoggerWithCorr(r.Context()).Error("failed to apply config", slog.Any("err", err), slog.String("component", "http"))
			writeError(w, http.StatusInternalServerError, err)
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleStatus returns a summary of the session: run state, source status
// lines, thread cursor, queue depths and listener counts.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	s := h.deps.Session
	thread, last := s.Cursor().Snapshot()
	state, streak := s.PollerState()
	presentation, translation := s.QueueDepths()

	resp := map[string]any{
		"running":    s.Running(),
		"generation": s.Generation(),
		"thread": map[string]any{
			"url":                thread,
			"last":               last,
			"poller":             state.String(),
			"consecutive_errors": streak,
		},
		"queue": map[string]int{
			"presentation": presentation,
			"translation":  translation,
		},
		"sources": s.Status().Snapshot(),
		"listeners": map[Topic]int{
			TopicBroadcast: h.deps.Hub.Listeners(TopicBroadcast),
			TopicOverlay:   h.deps.Hub.Listeners(TopicOverlay),
			TopicTranslate: h.deps.Hub.Listeners(TopicTranslate),
		},
		"archive": h.deps.History != nil,
	}
	writeJSON(w, http.StatusOK, resp)
}
