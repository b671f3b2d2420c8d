package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"schednotify/internal/service"
)

type NotificationHandler struct {
	svc    *service.NotificationService
	logger *zap.Logger
}

func NewNotificationHandler(svc *service.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: logger}
}

// GetPending handles GET /notifications/pending. The returned batch is
// claimed (is_sent flipped) on a cache miss and replayed verbatim inside the
// snapshot TTL; an empty array is a valid response.
func (h *NotificationHandler) GetPending(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	pending, err := h.svc.GetPending(c.Request.Context(), uid, time.Now().UTC())
	if err != nil {
		h.logger.Error("Failed to get pending notifications",
			zap.String("user_id", uid),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load notifications"})
		return
	}

	c.JSON(http.StatusOK, pending)
}

// Create handles POST /notifications.
func (h *NotificationHandler) Create(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var in service.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if in.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message required"})
		return
	}

	n, err := h.svc.Create(c.Request.Context(), uid, in)
	if err != nil {
		if errors.Is(err, service.ErrScheduleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		h.logger.Error("Failed to create notification",
			zap.String("user_id", uid),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create notification"})
		return
	}

	c.JSON(http.StatusCreated, n)
}

// Check handles POST /notifications/check. Ids not owned by the caller are
// skipped; the response reports how many rows changed.
func (h *NotificationHandler) Check(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var req struct {
		NotificationIDs []int64 `json:"notification_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	updated, err := h.svc.Check(c.Request.Context(), uid, req.NotificationIDs)
	if err != nil {
		h.logger.Error("Failed to check notifications",
			zap.String("user_id", uid),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// Delete handles DELETE /notifications/:id.
func (h *NotificationHandler) Delete(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}

	if err := h.svc.Delete(c.Request.Context(), uid, id); err != nil {
		if errors.Is(err, service.ErrNotificationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		h.logger.Error("Failed to delete notification",
			zap.String("user_id", uid),
			zap.Int64("notification_id", id),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete notification"})
		return
	}

	c.Status(http.StatusNoContent)
}
