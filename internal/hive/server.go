package hive

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/waspswithbazookas/wwb/internal/httpserver"
	"github.com/waspswithbazookas/wwb/internal/protocol"
	"github.com/waspswithbazookas/wwb/internal/registry"
)

// Error codes carried in protocol.ErrorBody.
const (
	CodeInvalid     = "INVALID_REQUEST"
	CodeNoWasps     = "NO_WASPS"
	CodeBusy        = "BUSY"
	CodeIdle        = "IDLE"
	CodeUnknownWasp = "UNKNOWN_WASP"
	CodeNoReport    = "NO_REPORT"
	CodeUnknownPath = "UNKNOWN_FIELD"
	CodeSpawn       = "SPAWN_FAILED"
)

// Handler returns the hive's HTTP API mounted on r. The metrics handler is
// served at /metrics when non-nil.
func (h *Hive) Handler(r chi.Router, metrics http.Handler) http.Handler {
	r.Get(protocol.PathCheckin, h.handleCheckin)
	r.Get(protocol.PathHeartbeat, h.handleHeartbeat)
	r.Get(protocol.PathList, h.handleList)
	r.Get(protocol.PathBoopSnoots, h.handleBoopSnoots)
	r.Put(protocol.PathReportIn, h.handleReportIn)
	r.Put(protocol.PathReportFailed, h.handleReportFailed)

	r.Put(protocol.PathPoke, h.handlePoke)
	r.Get(protocol.PathHiveCeasefire, h.handleCeasefire)
	r.Delete(protocol.PathTorch, h.handleTorch)
	r.Delete(protocol.PathTorchLocal, h.handleTorchLocal)
	r.Get(protocol.PathStatus, h.handleStatus)
	r.Get(protocol.PathStatusDone, h.handleDone)
	r.Get(protocol.PathReport, h.handleReport)
	r.Get(protocol.PathReportField, h.handleReportField)
	r.Get(protocol.PathSpawnLocal, h.handleSpawnLocal)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

// callerPort parses {port} and resolves the caller's host.
func callerPort(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	port, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil || port < 1 || port > 65535 {
		httpserver.WriteError(w, http.StatusBadRequest, "port must be between 1 and 65535", CodeInvalid)
		return "", 0, false
	}
	host := r.URL.Query().Get("host")
	if host == "" {
		host = httpserver.RemoteHost(r)
	}
	return host, port, true
}

func (h *Hive) handleCheckin(w http.ResponseWriter, r *http.Request) {
	host, port, ok := callerPort(w, r)
	if !ok {
		return
	}
	wasp := h.Checkin(host, port)
	httpserver.WriteJSON(w, http.StatusOK, protocol.CheckinResponse{ID: wasp.ID})
}

func (h *Hive) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	host, port, ok := callerPort(w, r)
	if !ok {
		return
	}
	if err := h.Heartbeat(host, port); err != nil {
		log.WithField("addr", registry.Addr(host, port)).Debug("heartbeat from unknown wasp")
		httpserver.WriteError(w, http.StatusBadRequest, err.Error(), CodeUnknownWasp)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, protocol.Ack{Status: "ok"})
}

func (h *Hive) handleList(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, h.Wasps())
}

func (h *Hive) handleBoopSnoots(w http.ResponseWriter, r *http.Request) {
	res, err := h.BoopSnoots(r.Context())
	switch {
	case errors.Is(err, ErrRunning):
		httpserver.WriteError(w, http.StatusBadRequest, "cannot boop snoots while a run is in progress", CodeBusy)
		return
	case errors.Is(err, ErrNoWorkers):
		httpserver.WriteError(w, http.StatusBadRequest, "there are no wasps to boop", CodeNoWasps)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, protocol.Ack{
		Status:  "ok",
		Count:   res.Alive,
		Message: fmt.Sprintf("%d wasps answered, %d removed, %d replaced", res.Alive, res.Removed, res.Replaced),
	})
}

func (h *Hive) handleReportIn(w http.ResponseWriter, r *http.Request) {
	var stats protocol.Stats
	if err := httpserver.DecodeJSON(r, &stats); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid stats: "+err.Error(), CodeInvalid)
		return
	}
	h.acceptReport(w, chi.URLParam(r, "id"), Success(stats))
}

func (h *Hive) handleReportFailed(w http.ResponseWriter, r *http.Request) {
	text, err := httpserver.ReadText(r)
	if err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "read body: "+err.Error(), CodeInvalid)
		return
	}
	h.acceptReport(w, chi.URLParam(r, "id"), Failure(text))
}

func (h *Hive) acceptReport(w http.ResponseWriter, id string, o Outcome) {
	if err := h.ReportIn(id, o); err != nil {
		if errors.Is(err, registry.ErrUnknownWorker) {
			log.WithError(err).Warn("report ignored")
			httpserver.WriteJSON(w, http.StatusOK, protocol.Ack{Status: "ignored", Message: err.Error()})
			return
		}
		httpserver.WriteError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, protocol.Ack{Status: "ok"})
}

func (h *Hive) handlePoke(w http.ResponseWriter, r *http.Request) {
	var req protocol.JobRequest
	if err := httpserver.DecodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid job: "+err.Error(), CodeInvalid)
		return
	}
	info, err := h.Dispatch(r.Context(), req)
	if err != nil {
		var busy *BusyError
		switch {
		case errors.As(err, &busy):
			httpserver.WriteJSON(w, http.StatusTooEarly, busy.Progress)
		case errors.Is(err, ErrNoWorkers):
			httpserver.WriteError(w, http.StatusBadRequest, "there are no wasps to poke", CodeNoWasps)
		case protocol.IsValidation(err):
			httpserver.WriteError(w, http.StatusBadRequest, err.Error(), CodeInvalid)
		default:
			httpserver.WriteError(w, http.StatusInternalServerError, err.Error(), "")
		}
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, protocol.Ack{
		Status:  "ok",
		Count:   info.Wasps,
		Message: fmt.Sprintf("run %s: %d wasps attacking %s for %s", info.ID, info.Wasps, info.Spec.Target, info.Spec.Duration),
	})
}

func (h *Hive) handleCeasefire(w http.ResponseWriter, r *http.Request) {
	if err := h.Ceasefire(r.Context()); err != nil {
		if errors.Is(err, ErrIdle) {
			httpserver.WriteError(w, http.StatusBadRequest, "no run in progress", CodeIdle)
			return
		}
		httpserver.WriteError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, protocol.Ack{Status: "ok", Message: "ceasefire sent"})
}

func (h *Hive) handleTorch(w http.ResponseWriter, r *http.Request) {
	n := h.Torch(r.Context())
	httpserver.WriteJSON(w, http.StatusOK, protocol.Ack{Status: "ok", Count: n, Message: fmt.Sprintf("torched %d wasps", n)})
}

func (h *Hive) handleTorchLocal(w http.ResponseWriter, r *http.Request) {
	n := h.TorchLocal(r.Context())
	httpserver.WriteJSON(w, http.StatusOK, protocol.Ack{Status: "ok", Count: n, Message: fmt.Sprintf("torched %d local wasps", n)})
}

func (h *Hive) handleStatus(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, h.Status())
}

func (h *Hive) handleDone(w http.ResponseWriter, r *http.Request) {
	if h.Running() {
		httpserver.WriteText(w, http.StatusTooEarly, "running")
		return
	}
	httpserver.WriteText(w, http.StatusOK, "done")
}

func (h *Hive) lastReportJSON(w http.ResponseWriter) ([]byte, bool) {
	rep, err := h.LastReport()
	switch {
	case errors.Is(err, ErrRunning):
		httpserver.WriteError(w, http.StatusBadRequest, "a run is in progress, check back when it is done", CodeBusy)
		return nil, false
	case errors.Is(err, ErrNoReport):
		httpserver.WriteError(w, http.StatusBadRequest, "no report yet, poke the hive first", CodeNoReport)
		return nil, false
	case err != nil:
		httpserver.WriteError(w, http.StatusInternalServerError, err.Error(), "")
		return nil, false
	}
	data, err := json.Marshal(rep)
	if err != nil {
		httpserver.WriteError(w, http.StatusInternalServerError, err.Error(), "")
		return nil, false
	}
	return data, true
}

func (h *Hive) handleReport(w http.ResponseWriter, r *http.Request) {
	data, ok := h.lastReportJSON(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Hive) handleReportField(w http.ResponseWriter, r *http.Request) {
	field, err := url.PathUnescape(chi.URLParam(r, "field"))
	if err != nil || field == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid field", CodeInvalid)
		return
	}
	data, ok := h.lastReportJSON(w)
	if !ok {
		return
	}
	res := gjson.GetBytes(data, field)
	if !res.Exists() {
		httpserver.WriteError(w, http.StatusBadRequest, fmt.Sprintf("report has no field %q", field), CodeUnknownPath)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(res.Raw))
}

func (h *Hive) handleSpawnLocal(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "amount"))
	if err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "amount must be a number", CodeInvalid)
		return
	}
	wasps, err := h.SpawnLocal(r.Context(), n)
	switch {
	case errors.Is(err, ErrRunning):
		httpserver.WriteError(w, http.StatusBadRequest, "cannot spawn while a run is in progress", CodeBusy)
		return
	case protocol.IsValidation(err), errors.Is(err, ErrNoSupervisor):
		httpserver.WriteError(w, http.StatusBadRequest, err.Error(), CodeInvalid)
		return
	case err != nil && len(wasps) == 0:
		httpserver.WriteError(w, http.StatusInternalServerError, err.Error(), CodeSpawn)
		return
	case err != nil:
		log.WithError(err).Warn("some local wasps failed to spawn")
	}
	httpserver.WriteJSON(w, http.StatusOK, protocol.Ack{
		Status:  "ok",
		Count:   len(wasps),
		Message: fmt.Sprintf("spawned %d of %d local wasps", len(wasps), n),
	})
}
