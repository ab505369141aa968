// Package handlers provides HTTP request handlers for the presentation layer.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/presence-go/internal/application/services"
	"github.com/AtRiskMedia/presence-go/internal/domain/presence"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/presence-go/internal/presentation/http/middleware"
)

// PresenceHandlers contains the REST handlers that back the polling
// fallback transport: JOIN, LEAVE, and the metrics snapshot.
type PresenceHandlers struct {
	service *services.PresenceService
	logger  *logging.ChanneledLogger
}

// NewPresenceHandlers creates presence handlers with injected dependencies.
func NewPresenceHandlers(service *services.PresenceService, logger *logging.ChanneledLogger) *PresenceHandlers {
	return &PresenceHandlers{service: service, logger: logger}
}

// joinRequest mirrors what a browser tab sends on JOIN or a heartbeat.
type joinRequest struct {
	CustomerID                 string `json:"customerId"`
	SessionID                  string `json:"sessionId"`
	TabID                      string `json:"tabId"`
	IsLeader                   bool   `json:"isLeader"`
	Platform                   string `json:"platform"`
	Browser                    string `json:"browser"`
	Device                     string `json:"device"`
	DesktopMode                bool   `json:"desktop_mode"`
	TotalTabQuantity           int    `json:"total_tab_quantity"`
	TotalBackgroundTabQuantity int    `json:"total_backgroundTab_quantity"`
	SessionMode                string `json:"session_mode"`
}

func (r joinRequest) toServiceRequest() services.JoinRequest {
	return services.JoinRequest{
		CustomerID:                 r.CustomerID,
		SessionID:                  r.SessionID,
		TabID:                      r.TabID,
		Platform:                   r.Platform,
		Browser:                    r.Browser,
		Device:                     presence.Device(r.Device),
		DesktopMode:                r.DesktopMode,
		TotalTabQuantity:           r.TotalTabQuantity,
		TotalBackgroundTabQuantity: r.TotalBackgroundTabQuantity,
		SessionMode:                presence.SessionMode(r.SessionMode),
	}
}

// PostJoin handles POST /presence/join.
func (h *PresenceHandlers) PostJoin(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Presence().Warn("join request malformed", "error", err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := h.service.Join(c.Request.Context(), req.toServiceRequest())
	if err != nil {
		if errors.Is(err, services.ErrMissingFields) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
			return
		}
		h.logger.LogError(logging.ChannelPresence, "join", err, req.CustomerID, nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "join failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// PostBeat handles POST /presence/beat, a legacy heartbeat kept for
// clients that have not migrated to JOIN-as-heartbeat: it updates an
// existing record while preserving its remaining TTL (it does not
// extend it) and creates one with the default TTL if none exists yet,
// but (unlike JOIN) never cancels a pending disconnect timer or merges
// device fields.
func (h *PresenceHandlers) PostBeat(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.service.Beat(c.Request.Context(), req.toServiceRequest()); err != nil {
		if errors.Is(err, services.ErrMissingFields) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
			return
		}
		h.logger.LogError(logging.ChannelPresence, "beat", err, req.CustomerID, nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "beat failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// leaveRequest mirrors the beacon body sent on unload.
type leaveRequest struct {
	CustomerID string `json:"customerId"`
	SessionID  string `json:"sessionId"`
	TabID      string `json:"tabId"`
	Mode       string `json:"mode"`
	Reason     string `json:"reason"`
}

// PostLeave handles POST /presence/leave. Beacons arrive as either
// application/json or text/plain depending on the browser's
// sendBeacon implementation, so the body is parsed manually rather
// than through ShouldBindJSON's content-type check. Leave is
// dismissal-safe: a malformed or empty body never surfaces an error
// to the page that is already unloading.
func (h *PresenceHandlers) PostLeave(c *gin.Context) {
	body, _ := io.ReadAll(c.Request.Body)

	var req leaveRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.logger.Presence().Debug("leave beacon body unparsable, treating as empty", "error", err.Error())
		}
	}

	leaveID := c.GetHeader("X-Leave-Id")

	outcome, err := h.service.Leave(c.Request.Context(), services.LeaveRequest{
		CustomerID: req.CustomerID,
		SessionID:  req.SessionID,
		TabID:      req.TabID,
		Mode:       presence.LeaveMode(req.Mode),
		Reason:     presence.LeaveReason(req.Reason),
		LeaveID:    leaveID,
	})
	if err != nil && !errors.Is(err, services.ErrDismissalSafe) {
		h.logger.LogError(logging.ChannelPresence, "leave", err, req.CustomerID, nil)
	}

	if outcome == services.LeaveProcessed {
		c.Status(http.StatusOK)
		return
	}
	c.Status(http.StatusNoContent)
}

// PostRefreshTTL handles POST /presence/ttl-refresh, the polling
// fallback's periodic keepalive.
func (h *PresenceHandlers) PostRefreshTTL(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	mode := presence.SessionMode(req.SessionMode)
	if mode == "" {
		mode = presence.ModeActive
	}

	if err := h.service.RefreshTTL(c.Request.Context(), req.CustomerID, req.SessionID, req.TabID, mode); err != nil {
		h.logger.LogError(logging.ChannelPresence, "ttl_refresh", err, req.CustomerID, nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ttl refresh failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetMetrics handles GET /active-users/metrics, the polling
// fallback's counter endpoint.
func (h *PresenceHandlers) GetMetrics(c *gin.Context) {
	customerID, ok := middleware.GetCustomerID(c)
	if !ok || customerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "customerId is required"})
		return
	}

	count, ema, err := h.service.Metrics(c.Request.Context(), customerID)
	if err != nil {
		h.logger.LogError(logging.ChannelPresence, "metrics", err, customerID, nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics lookup failed"})
		return
	}

	h.logger.WithCustomer(logging.ChannelPresence, customerID).Debug("metrics served", "count", count, "ema", ema)

	c.JSON(http.StatusOK, gin.H{
		"customerId": customerID,
		"count":      count,
		"ema":        ema,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
