package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/custody"
	"github.com/erazemk/armory/internal/directory"
	"github.com/erazemk/armory/internal/model"
)

// SoldiersHandler handles the soldier directory endpoints.
type SoldiersHandler struct {
	Soldiers  SoldierWriter
	Directory directory.Directory
	Ledger    *custody.Ledger
}

type equipmentResponse struct {
	Soldier model.Soldier          `json:"soldier"`
	Items   []model.SerializedItem `json:"items"`
	Bulk    []model.BulkRecord     `json:"bulk"`
}

// List handles GET /api/soldiers.
func (h *SoldiersHandler) List(w http.ResponseWriter, r *http.Request) {
	soldiers, err := h.Directory.Soldiers(r.Context(), r.URL.Query().Get("division"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if soldiers == nil {
		soldiers = []model.Soldier{}
	}
	jsonResponse(w, http.StatusOK, soldiers)
}

// Create handles POST /api/soldiers.
func (h *SoldiersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.Soldier
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || req.Name == "" || req.Division == "" {
		jsonError(w, http.StatusBadRequest, "id, name, and division required")
		return
	}

	claims := GetClaims(r.Context())
	if claims.Role != model.RoleAdmin && claims.Division != "" && claims.Division != req.Division {
		jsonError(w, http.StatusForbidden, "soldier belongs to another division")
		return
	}

	soldier, err := h.Soldiers.CreateSoldier(r.Context(), req)
	if err != nil {
		slog.Warn("failed to create soldier", "soldier", req.ID, "error", err)
		jsonError(w, http.StatusConflict, "soldier already exists")
		return
	}
	if inv, ok := h.Directory.(interface {
		Invalidate(ctx context.Context, id string) error
	}); ok {
		_ = inv.Invalidate(r.Context(), soldier.ID)
	}

	slog.Info("soldier created", "user", claims.Username, "soldier", soldier.ID, "division", soldier.Division)
	jsonResponse(w, http.StatusCreated, soldier)
}

// Get handles GET /api/soldiers/{id}.
func (h *SoldiersHandler) Get(w http.ResponseWriter, r *http.Request) {
	soldier, err := h.Directory.Soldier(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, soldier)
}

// Equipment handles GET /api/soldiers/{id}/equipment.
func (h *SoldiersHandler) Equipment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	soldier, err := h.Directory.Soldier(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items, err := h.Ledger.ItemsHeldBy(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	bulk, err := h.Ledger.BulkHeldBy(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.SerializedItem{}
	}
	if bulk == nil {
		bulk = []model.BulkRecord{}
	}
	jsonResponse(w, http.StatusOK, equipmentResponse{Soldier: *soldier, Items: items, Bulk: bulk})
}

// soldierExists is used to reject holders the directory does not know.
func soldierExists(ctx context.Context, d directory.Directory, id string) error {
	if id == "" {
		return nil
	}
	if _, err := d.Soldier(ctx, id); err != nil {
		if apperr.IsNotFound(err) {
			return apperr.Validation("assigned_to", "unknown soldier %q", id)
		}
		return err
	}
	return nil
}
