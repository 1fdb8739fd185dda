package ginserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/agentkit/internal/agent"
	"github.com/jmerrifield20/agentkit/internal/server/httpx"
)

// wellKnownHandler serves the agent card.
type wellKnownHandler struct {
	agent     *agent.Agent
	publicURL string
	logger    *zap.Logger
}

// ServeCard handles GET /.well-known/agent.json and agent-card.json. The card
// is rebuilt per request so its url follows the request origin.
func (h *wellKnownHandler) ServeCard(c *gin.Context) {
	card, err := h.agent.Manifest(httpx.Origin(c.Request, h.publicURL))
	if err != nil {
		h.logger.Error("build agent card", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build agent card"})
		return
	}
	c.JSON(http.StatusOK, card)
}
