package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/custody"
	"github.com/erazemk/armory/internal/directory"
	"github.com/erazemk/armory/internal/model"
	"github.com/erazemk/armory/internal/split"
)

// ItemsHandler handles serialized item and bulk record endpoints.
type ItemsHandler struct {
	Ledger    *custody.Ledger
	Splitter  *split.Engine
	Directory directory.Directory
}

type consolidateRequest struct {
	Holder string `json:"holder"`
	Type   string `json:"type"`
}

func itemRef(r *http.Request) model.ItemRef {
	return model.ItemRef{Category: model.Category(chi.URLParam(r, "category")), ID: chi.URLParam(r, "id")}
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

// List handles GET /api/items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ItemFilter{
		Category:     model.Category(q.Get("category")),
		Type:         q.Get("type"),
		AssignedTo:   q.Get("assigned_to"),
		Unassigned:   queryBool(r, "unassigned"),
		ArmoryStatus: model.ArmoryStatus(q.Get("armory_status")),
		ParentID:     q.Get("parent_id"),
		Division:     q.Get("division"),
	}
	if filter.Category != "" && !filter.Category.Valid() {
		jsonError(w, http.StatusBadRequest, "invalid category")
		return
	}

	items, err := h.Ledger.FindItems(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.SerializedItem{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.SerializedItem
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := soldierExists(r.Context(), h.Directory, req.AssignedTo); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ParentID != "" {
		if _, err := h.Ledger.Item(r.Context(), model.ItemRef{Category: model.CategoryDroneSet, ID: req.ParentID}); err != nil {
			writeError(w, r, apperr.Validation("parent_id", "unknown drone set %q", req.ParentID))
			return
		}
	}

	item, err := h.Ledger.CreateItem(r.Context(), req)
	if err != nil {
		if apperr.IsValidation(err) {
			writeError(w, r, err)
			return
		}
		slog.Warn("failed to create item", "item", req.Ref(), "error", err)
		jsonError(w, http.StatusConflict, "item already exists")
		return
	}

	slog.Info("item created", "user", GetClaims(r.Context()).Username, "item", item.Ref(), "type", item.Type)
	jsonResponse(w, http.StatusCreated, item)
}

// Get handles GET /api/items/{category}/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.Ledger.Item(r.Context(), itemRef(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Delete handles DELETE /api/items/{category}/{id}.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ref := itemRef(r)
	if err := h.Ledger.DeleteItem(r.Context(), ref); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("item deleted", "user", GetClaims(r.Context()).Username, "item", ref)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "item deleted"})
}

// Components handles GET /api/items/{category}/{id}/components.
func (h *ItemsHandler) Components(w http.ResponseWriter, r *http.Request) {
	ref := itemRef(r)
	if ref.Category != model.CategoryDroneSet {
		jsonError(w, http.StatusBadRequest, "only drone sets have components")
		return
	}
	if _, err := h.Ledger.Item(r.Context(), ref); err != nil {
		writeError(w, r, err)
		return
	}
	comps, err := h.Ledger.Components(r.Context(), ref.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if comps == nil {
		comps = []model.SerializedItem{}
	}
	jsonResponse(w, http.StatusOK, comps)
}

// ListBulk handles GET /api/bulk.
func (h *ItemsHandler) ListBulk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recs, err := h.Ledger.FindBulk(r.Context(), model.BulkFilter{
		Type:         q.Get("type"),
		AssignedTo:   q.Get("assigned_to"),
		Unassigned:   queryBool(r, "unassigned"),
		ArmoryStatus: model.ArmoryStatus(q.Get("armory_status")),
		Division:     q.Get("division"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.BulkRecord{}
	}
	jsonResponse(w, http.StatusOK, recs)
}

// CreateBulk handles POST /api/bulk.
func (h *ItemsHandler) CreateBulk(w http.ResponseWriter, r *http.Request) {
	var req model.BulkRecord
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ID = ""
	if err := soldierExists(r.Context(), h.Directory, req.AssignedTo); err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := h.Ledger.CreateBulk(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("bulk record created", "user", GetClaims(r.Context()).Username, "bulk", rec.ID, "type", rec.Type, "quantity", rec.Quantity)
	jsonResponse(w, http.StatusCreated, rec)
}

// GetBulk handles GET /api/bulk/{id}.
func (h *ItemsHandler) GetBulk(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Ledger.Bulk(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, rec)
}

// Consolidate handles POST /api/bulk/consolidate. Records of one type and
// holder that are in the same state are merged.
func (h *ItemsHandler) Consolidate(w http.ResponseWriter, r *http.Request) {
	var req consolidateRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		jsonError(w, http.StatusBadRequest, "type required")
		return
	}

	recs, err := h.Splitter.Consolidate(r.Context(), req.Holder, req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.BulkRecord{}
	}
	jsonResponse(w, http.StatusOK, recs)
}
