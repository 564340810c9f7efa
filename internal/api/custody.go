package api

import (
	"log/slog"
	"net/http"

	"github.com/erazemk/armory/internal/model"
	"github.com/erazemk/armory/internal/orchestrator"
)

// CustodyHandler handles custody transactions.
type CustodyHandler struct {
	Orchestrator *orchestrator.Orchestrator
}

type resolveRequest struct {
	Items []model.ItemRef `json:"items"`
}

type batchResponse struct {
	*orchestrator.Result
	NotificationError string `json:"notification_error,omitempty"`
}

// writeBatch reports a finished batch: 200 when every item moved, 207 when
// some failed. A notification failure alone does not change the status.
func writeBatch(w http.ResponseWriter, r *http.Request, res *orchestrator.Result, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := batchResponse{Result: res}
	if nerr := res.NotificationErr(); nerr != nil {
		resp.NotificationError = nerr.Error()
	}

	status := http.StatusOK
	if res.Err() != nil {
		status = http.StatusMultiStatus
		slog.Warn("custody batch partially failed", "action", string(res.Action), "user", actor(r).Username, "error", res.Err())
	}
	jsonResponse(w, status, resp)
}

// Resolve handles POST /api/custody/resolve. It shows what a selection
// expands to without changing anything.
func (h *CustodyHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	exp, err := h.Orchestrator.Resolve(r.Context(), req.Items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, exp)
}

// Deposit handles POST /api/custody/deposit.
func (h *CustodyHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.DepositRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.Orchestrator.Deposit(r.Context(), actor(r), req)
	writeBatch(w, r, res, err)
}

// Release handles POST /api/custody/release.
func (h *CustodyHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.Orchestrator.Release(r.Context(), actor(r), req)
	writeBatch(w, r, res, err)
}

// Reassign handles POST /api/custody/reassign.
func (h *CustodyHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ReassignRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.Orchestrator.Reassign(r.Context(), actor(r), req)
	writeBatch(w, r, res, err)
}

// FullRelease handles POST /api/custody/full-release.
func (h *CustodyHandler) FullRelease(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.FullReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.Orchestrator.FullRelease(r.Context(), actor(r), req)
	writeBatch(w, r, res, err)
}
