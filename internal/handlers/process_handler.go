package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"procpanel/internal/gateway"
	"procpanel/internal/models"

	"github.com/gorilla/mux"
)

type ProcessHandler struct {
	gw *gateway.Gateway
}

func NewProcessHandler(gw *gateway.Gateway) *ProcessHandler {
	return &ProcessHandler{gw: gw}
}

type StartResponse struct {
	OK  bool `json:"ok"`
	Pid int  `json:"pid"`
	ID  int  `json:"id"`
}

func (h *ProcessHandler) List(w http.ResponseWriter, r *http.Request) {
	processes, err := h.gw.List(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, processes)
}

func (h *ProcessHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req models.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.gw.Start(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	slog.Info("process started", "name", req.Name, "script", req.Script, "id", result.ID, "pid", result.Pid)
	writeJSON(w, http.StatusOK, StartResponse{OK: true, Pid: result.Pid, ID: result.ID})
}

func (h *ProcessHandler) Restart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.writeResult(w, "restart", id, h.gw.Restart(r.Context(), id))
}

func (h *ProcessHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.writeResult(w, "stop", id, h.gw.Stop(r.Context(), id))
}

func (h *ProcessHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.writeResult(w, "delete", id, h.gw.Delete(r.Context(), id))
}

func (h *ProcessHandler) RestartAll(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, "restart", models.TargetAll, h.gw.RestartAll(r.Context()))
}

func (h *ProcessHandler) StopAll(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, "stop", models.TargetAll, h.gw.StopAll(r.Context()))
}

func (h *ProcessHandler) Describe(w http.ResponseWriter, r *http.Request) {
	detail, err := h.gw.Describe(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// writeResult reports a control operation in the body; the status is 200
// either way.
func (h *ProcessHandler) writeResult(w http.ResponseWriter, op, target string, err error) {
	if err != nil {
		slog.Warn("process operation failed", "op", op, "target", target, "error", err)
		writeJSON(w, http.StatusOK, ResultResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{OK: true})
}
