package wasp

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/waspswithbazookas/wwb/internal/httpserver"
	"github.com/waspswithbazookas/wwb/internal/protocol"
)

const (
	CodeInvalid = "INVALID_REQUEST"
	CodeBusy    = "BUSY"
	CodeIdle    = "IDLE"
	CodeNone    = "NO_RESULT"
)

// Handler mounts the wasp API on r. The metrics handler is served at /metrics
// when non-nil.
func (w *Wasp) Handler(r chi.Router, metrics http.Handler) http.Handler {
	r.Put(protocol.PathFire, w.handleFire)
	r.Delete(protocol.PathDie, w.handleDie)
	r.Get(protocol.PathBoop, w.handleBoop)
	r.Get(protocol.PathCeasefire, w.handleCeasefire)
	r.Get(protocol.PathBattleReport, w.handleBattleReport)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

func (w *Wasp) handleFire(rw http.ResponseWriter, r *http.Request) {
	var req protocol.JobRequest
	if err := httpserver.DecodeJSON(r, &req); err != nil {
		httpserver.WriteError(rw, http.StatusBadRequest, "invalid job: "+err.Error(), CodeInvalid)
		return
	}
	err := w.Fire(req)
	switch {
	case err == nil:
		httpserver.WriteJSON(rw, http.StatusOK, protocol.Ack{Status: "ok", Message: "firing at " + req.Target})
	case errors.Is(err, ErrBusy):
		httpserver.WriteError(rw, http.StatusConflict, err.Error(), CodeBusy)
	case protocol.IsValidation(err):
		httpserver.WriteError(rw, http.StatusBadRequest, err.Error(), CodeInvalid)
	default:
		httpserver.WriteError(rw, http.StatusInternalServerError, err.Error(), "")
	}
}

func (w *Wasp) handleDie(rw http.ResponseWriter, r *http.Request) {
	if err := w.Die(); err != nil {
		httpserver.WriteError(rw, http.StatusBadRequest, "cannot die while a job is running", CodeBusy)
		return
	}
	httpserver.WriteJSON(rw, http.StatusOK, protocol.Ack{Status: "ok", Message: "goodbye"})
}

func (w *Wasp) handleBoop(rw http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(rw, http.StatusOK, protocol.Ack{Status: "ok", Message: "snoot booped"})
}

func (w *Wasp) handleCeasefire(rw http.ResponseWriter, r *http.Request) {
	err := w.Ceasefire()
	switch {
	case err == nil:
		httpserver.WriteJSON(rw, http.StatusOK, protocol.Ack{Status: "ok", Message: "ceasefire"})
	case errors.Is(err, ErrIdle):
		httpserver.WriteError(rw, http.StatusBadRequest, err.Error(), CodeIdle)
	default:
		httpserver.WriteError(rw, http.StatusInternalServerError, err.Error(), "")
	}
}

func (w *Wasp) handleBattleReport(rw http.ResponseWriter, r *http.Request) {
	br, ok := w.LastResult()
	if !ok {
		httpserver.WriteError(rw, http.StatusNotFound, "no battle to report yet", CodeNone)
		return
	}
	httpserver.WriteJSON(rw, http.StatusOK, br)
}
