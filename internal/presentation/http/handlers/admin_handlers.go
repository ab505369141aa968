package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/presence-go/internal/application/container"
	"github.com/AtRiskMedia/presence-go/internal/domain/presence"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/observability/logging"
)

// AdminHandlers exposes operational introspection over the presence
// fleet: connection counts, EMA freshness, pending disconnects, and
// the per-customer EMA alpha override table. There is no historical
// persistence here and no charting; this is a live snapshot, not the
// excluded analytics dashboard.
type AdminHandlers struct {
	container *container.Container
}

// NewAdminHandlers creates admin handlers with injected dependencies.
func NewAdminHandlers(container *container.Container) *AdminHandlers {
	return &AdminHandlers{container: container}
}

// GetSnapshot handles GET /presence/admin/snapshot.
func (h *AdminHandlers) GetSnapshot(c *gin.Context) {
	customerID := c.Query("customerId")
	if customerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "customerId is required"})
		return
	}

	snapshot := gin.H{
		"customerId":         customerID,
		"connectedClients":   h.container.Fleet.ClientCount(customerID),
		"pendingDisconnects": h.container.Resolver.PendingCount(customerID),
		"emaAlpha":           h.container.Registry.EMAAlpha(customerID, presence.DefaultEMAAlpha),
	}

	if t, ok := h.container.EMAEngine.LastTick(customerID); ok {
		snapshot["lastEmaTick"] = t
	}

	c.JSON(http.StatusOK, snapshot)
}

// emaAlphaRequest sets a per-customer EMA smoothing override.
type emaAlphaRequest struct {
	CustomerID string  `json:"customerId"`
	Alpha      float64 `json:"alpha"`
}

// PostEMAAlpha handles POST /presence/admin/ema-alpha.
func (h *AdminHandlers) PostEMAAlpha(c *gin.Context) {
	var req emaAlphaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.CustomerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "customerId is required"})
		return
	}

	if err := presence.ValidateAlpha(req.Alpha); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.container.Registry.SetEMAAlpha(req.CustomerID, req.Alpha)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetLogLevels handles GET /presence/admin/log-levels, returning the
// effective level of every logging channel.
func (h *AdminHandlers) GetLogLevels(c *gin.Context) {
	c.JSON(http.StatusOK, h.container.Logger.GetChannelLevels())
}

// logLevelRequest sets a single channel's log level at runtime.
type logLevelRequest struct {
	Channel string `json:"channel"`
	Level   string `json:"level"`
}

// PostLogLevel handles POST /presence/admin/log-levels, adjusting one
// channel's verbosity without a restart.
func (h *AdminHandlers) PostLogLevel(c *gin.Context) {
	var req logLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(req.Level)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid level"})
		return
	}

	if err := h.container.Logger.SetChannelLevel(logging.Channel(req.Channel), level); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
