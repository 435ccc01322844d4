package handler

import (
	"context"
	"net/http"
	"time"

	"workbench/internal/service"

	"github.com/gin-gonic/gin"
)

// UsageReader reports the current usage picture for a user
type UsageReader interface {
	UserUsage(ctx context.Context, userID string, now time.Time) (*service.MeteredUsage, error)
}

// UsageHandler exposes metered usage over HTTP
type UsageHandler struct {
	usage UsageReader
}

// NewUsageHandler creates a usage handler
func NewUsageHandler(usage UsageReader) *UsageHandler {
	return &UsageHandler{usage: usage}
}

// Get returns the usage picture of the user's open billing period
func (h *UsageHandler) Get(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	usage, err := h.usage.UserUsage(c.Request.Context(), userID, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, usage)
}
