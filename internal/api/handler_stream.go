package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"schednotify/internal/sse"
)

// StreamHandler serves the long-lived SSE endpoint. Each request owns exactly
// one connection queue; the loop drains it, falls back to a heartbeat frame
// when no event arrives within the heartbeat interval, and exits when the
// client drops the connection.
type StreamHandler struct {
	manager   *sse.Manager
	heartbeat time.Duration
	logger    *zap.Logger
}

func NewStreamHandler(manager *sse.Manager, heartbeat time.Duration, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		manager:   manager,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// Stream handles GET /events/stream.
func (h *StreamHandler) Stream(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	conn := h.manager.Connect(uid)
	defer h.manager.Disconnect(conn)

	// The first frame is always "connected", so the client can tell stream
	// open from first real event.
	h.writeFrame(c, flusher, "connected", gin.H{
		"user_id":   uid,
		"timestamp": time.Now().UTC(),
	})

	timer := time.NewTimer(h.heartbeat)
	defer timer.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-conn.Events():
			if !open {
				return
			}
			h.writeFrame(c, flusher, ev.Name, ev.Data)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(h.heartbeat)
		case <-timer.C:
			h.writeFrame(c, flusher, "heartbeat", gin.H{
				"timestamp": time.Now().UTC(),
			})
			timer.Reset(h.heartbeat)
		}
	}
}

// writeFrame emits one "event: <name>\ndata: <json>\n\n" frame and flushes it
// past any intermediating buffers.
func (h *StreamHandler) writeFrame(c *gin.Context, flusher http.Flusher, name string, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("Failed to marshal SSE frame", zap.String("event", name), zap.Error(err))
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", name, body)
	flusher.Flush()
}
