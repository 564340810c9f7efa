package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/audit"
)

// AuditHandler exposes custody records.
type AuditHandler struct {
	Log       *audit.LogSink
	Publisher *audit.Publisher
}

type flushResponse struct {
	Recorded int    `json:"recorded"`
	Pending  int    `json:"pending"`
	Error    string `json:"error,omitempty"`
}

// Get handles GET /api/audit/{id}. Events that never reached the audit
// trail are served from memory. With ?format=text the record is rendered
// for printing.
func (h *AuditHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := h.Log.Load(r.Context(), id)
	if apperr.IsNotFound(err) {
		if held, ok := h.Publisher.PendingEvent(id); ok {
			e, err = held, nil
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "text" || strings.HasPrefix(r.Header.Get("Accept"), "text/plain") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(audit.Render(*e)))
		return
	}
	jsonResponse(w, http.StatusOK, e)
}

// Pending handles GET /api/audit/pending.
func (h *AuditHandler) Pending(w http.ResponseWriter, r *http.Request) {
	pending := h.Publisher.Pending()
	if pending == nil {
		pending = []audit.Event{}
	}
	jsonResponse(w, http.StatusOK, pending)
}

// Flush handles POST /api/audit/flush.
func (h *AuditHandler) Flush(w http.ResponseWriter, r *http.Request) {
	n, err := h.Publisher.Flush(r.Context())
	resp := flushResponse{Recorded: n, Pending: len(h.Publisher.Pending())}
	if err != nil {
		resp.Error = err.Error()
		slog.Warn("audit flush incomplete", "recorded", n, "pending", resp.Pending, "error", err)
	}
	jsonResponse(w, http.StatusOK, resp)
}
