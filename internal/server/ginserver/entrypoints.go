package ginserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/agentkit/internal/agent"
	"github.com/jmerrifield20/agentkit/internal/server/httpx"
)

// EntrypointHandler serves the entrypoint listing and the invoke and stream
// calls.
type EntrypointHandler struct {
	agent  *agent.Agent
	logger *zap.Logger
}

// NewEntrypointHandler creates a new EntrypointHandler.
func NewEntrypointHandler(a *agent.Agent, logger *zap.Logger) *EntrypointHandler {
	return &EntrypointHandler{agent: a, logger: logger}
}

// Register mounts the routes on a group rooted at <base>/entrypoints.
func (h *EntrypointHandler) Register(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("/:key/invoke", h.Invoke)
	rg.POST("/:key/stream", h.Stream)
}

// List handles GET /entrypoints.
func (h *EntrypointHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.agent.Summaries()})
}

// Invoke handles POST /entrypoints/:key/invoke.
func (h *EntrypointHandler) Invoke(c *gin.Context) {
	key := c.Param("key")
	input, err := httpx.DecodeInput(c.Request.Body)
	if err != nil {
		h.fail(c, key, err)
		return
	}

	res, err := h.agent.Invoke(c.Request.Context(), key, input)
	if err != nil {
		h.fail(c, key, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Stream handles POST /entrypoints/:key/stream as server-sent events.
func (h *EntrypointHandler) Stream(c *gin.Context) {
	key := c.Param("key")
	input, err := httpx.DecodeInput(c.Request.Body)
	if err != nil {
		h.fail(c, key, err)
		return
	}

	stream := httpx.NewLazyEventStream(c.Writer)
	if _, err := h.agent.Stream(c.Request.Context(), key, input, stream.Emit); err != nil {
		if !stream.Started() {
			h.fail(c, key, err)
			return
		}
		h.logger.Warn("stream ended with error", zap.String("entrypoint", key), zap.Error(err))
	}
}

func (h *EntrypointHandler) fail(c *gin.Context, key string, err error) {
	status, body := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("entrypoint failed", zap.String("entrypoint", key), zap.Error(err))
	}
	c.JSON(status, body)
}
