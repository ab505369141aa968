package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	presenceinfra "github.com/AtRiskMedia/presence-go/internal/infrastructure/presence"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/observability/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebsocketHandler upgrades GET /ws/active-users connections and
// hands them to the presence fleet, which owns the rest of the
// connection's lifetime.
type WebsocketHandler struct {
	fleet  *presenceinfra.Fleet
	logger *logging.ChanneledLogger
}

// NewWebsocketHandler creates a websocket handler with injected dependencies.
func NewWebsocketHandler(fleet *presenceinfra.Fleet, logger *logging.ChanneledLogger) *WebsocketHandler {
	return &WebsocketHandler{fleet: fleet, logger: logger}
}

// Serve handles GET /ws/active-users.
func (h *WebsocketHandler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Websocket().Warn("upgrade failed", "error", err.Error())
		return
	}

	h.fleet.Accept(conn)
}
