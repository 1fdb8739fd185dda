package chiserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jmerrifield20/agentkit/internal/ledger"
	"github.com/jmerrifield20/agentkit/internal/server/httpx"
)

type ledgerHandler struct {
	ledger ledger.Ledger
	logger *zap.Logger
}

func newLedgerHandler(l ledger.Ledger, logger *zap.Logger) *ledgerHandler {
	return &ledgerHandler{ledger: l, logger: logger}
}

func (h *ledgerHandler) Register(r chi.Router) {
	r.Get("/ledger", h.overview)
	r.Get("/ledger/verify", h.verify)
	r.Get("/ledger/entries/{idx}", h.entry)
}

func (h *ledgerHandler) overview(w http.ResponseWriter, r *http.Request) {
	count, err := h.ledger.Len(r.Context())
	if err != nil {
		h.logger.Error("ledger Len", zap.Error(err))
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to query ledger"})
		return
	}
	root, err := h.ledger.Root(r.Context())
	if err != nil {
		h.logger.Error("ledger Root", zap.Error(err))
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to query ledger root"})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": count, "root": root})
}

func (h *ledgerHandler) verify(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Verify(r.Context()); err != nil {
		h.logger.Warn("ledger integrity check failed", zap.Error(err))
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (h *ledgerHandler) entry(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil || idx < 0 {
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "idx must be a non-negative integer"})
		return
	}
	entry, err := h.ledger.Get(r.Context(), idx)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		httpx.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "entry not found"})
	case err != nil:
		h.logger.Error("ledger Get", zap.Int("idx", idx), zap.Error(err))
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to query ledger"})
	default:
		httpx.WriteJSON(w, http.StatusOK, entry)
	}
}
