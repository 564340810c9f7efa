package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/erazemk/armory/internal/model"
	"github.com/erazemk/armory/internal/verification"
)

// VerificationsHandler handles daily presence checks.
type VerificationsHandler struct {
	Tracker *verification.Tracker
	Now     func() time.Time
}

// asOf reads the optional ?date=YYYY-MM-DD parameter. Without it the
// request is pinned to the current time.
func (h *VerificationsHandler) asOf(r *http.Request) (time.Time, bool) {
	date := r.URL.Query().Get("date")
	if date == "" {
		return h.Now(), true
	}
	day, err := time.ParseInLocation(model.DateLayout, date, h.Tracker.Location())
	if err != nil {
		return time.Time{}, false
	}
	return day.Add(12 * time.Hour), true
}

// List handles GET /api/verifications. It returns the history of one
// soldier (?soldier=) or item (?category=&item=).
func (h *VerificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var subject model.Subject
	switch {
	case q.Get("soldier") != "":
		subject = model.SoldierSubject(q.Get("soldier"))
	case q.Get("item") != "":
		subject = model.ItemSubject(model.ItemRef{Category: model.Category(q.Get("category")), ID: q.Get("item")})
	default:
		jsonError(w, http.StatusBadRequest, "soldier or item required")
		return
	}

	history, err := h.Tracker.History(r.Context(), subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if history == nil {
		history = []model.Verification{}
	}
	jsonResponse(w, http.StatusOK, history)
}

// Summary handles GET /api/verifications/summary.
func (h *VerificationsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid date")
		return
	}
	sum, err := h.Tracker.Summary(r.Context(), asOf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, sum)
}

// VerifySoldier handles POST /api/verifications/soldiers/{id}.
func (h *VerificationsHandler) VerifySoldier(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	v, err := h.Tracker.VerifySoldier(r.Context(), h.Now(), chi.URLParam(r, "id"), claims.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("soldier verified", "user", claims.Username, "soldier", v.Subject.SoldierID, "items", len(v.CheckedIDs))
	jsonResponse(w, http.StatusCreated, v)
}

// VerifyItem handles POST /api/verifications/items/{category}/{id}.
func (h *VerificationsHandler) VerifyItem(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	v, err := h.Tracker.VerifyItem(r.Context(), h.Now(), itemRef(r), claims.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("item verified", "user", claims.Username, "item", itemRef(r))
	jsonResponse(w, http.StatusCreated, v)
}

// Undo handles DELETE /api/verifications/{id}.
func (h *VerificationsHandler) Undo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Tracker.Undo(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("verification undone", "user", GetClaims(r.Context()).Username, "verification", id)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "verification removed"})
}

// Status handles GET /api/verifications/status. It reports whether the
// soldier (?soldier=) or item (?category=&item=) was verified on ?date=.
func (h *VerificationsHandler) Status(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid date")
		return
	}

	q := r.URL.Query()
	var (
		verified bool
		err      error
	)
	switch {
	case q.Get("soldier") != "":
		verified, err = h.Tracker.IsSoldierVerified(r.Context(), asOf, q.Get("soldier"))
	case q.Get("item") != "":
		ref := model.ItemRef{Category: model.Category(q.Get("category")), ID: q.Get("item")}
		verified, err = h.Tracker.IsItemVerified(r.Context(), asOf, ref)
	default:
		jsonError(w, http.StatusBadRequest, "soldier or item required")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"date":     h.Tracker.Day(asOf),
		"verified": verified,
	})
}
