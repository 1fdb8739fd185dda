package chiserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jmerrifield20/agentkit/internal/agent"
	"github.com/jmerrifield20/agentkit/internal/server/httpx"
)

type entrypointHandler struct {
	agent  *agent.Agent
	logger *zap.Logger
}

func newEntrypointHandler(a *agent.Agent, logger *zap.Logger) *entrypointHandler {
	return &entrypointHandler{agent: a, logger: logger}
}

func (h *entrypointHandler) Register(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/{key}/invoke", h.invoke)
	r.Post("/{key}/stream", h.stream)
}

func (h *entrypointHandler) list(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": h.agent.Summaries()})
}

func (h *entrypointHandler) invoke(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	input, err := httpx.DecodeInput(r.Body)
	if err != nil {
		h.fail(w, key, err)
		return
	}
	res, err := h.agent.Invoke(r.Context(), key, input)
	if err != nil {
		h.fail(w, key, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *entrypointHandler) stream(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	input, err := httpx.DecodeInput(r.Body)
	if err != nil {
		h.fail(w, key, err)
		return
	}

	stream := httpx.NewLazyEventStream(w)
	if _, err := h.agent.Stream(r.Context(), key, input, stream.Emit); err != nil {
		if !stream.Started() {
			h.fail(w, key, err)
			return
		}
		h.logger.Warn("stream ended with error", zap.String("entrypoint", key), zap.Error(err))
	}
}

func (h *entrypointHandler) fail(w http.ResponseWriter, key string, err error) {
	status, body := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("entrypoint failed", zap.String("entrypoint", key), zap.Error(err))
	}
	httpx.WriteJSON(w, status, body)
}
