package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// beginSSE writes the streaming headers shared by every protocol frontend,
// grounded on the teacher's waitForSlotWithPing header set.
func beginSSE(c *gin.Context) (func(), bool) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, false
	}
	return flusher.Flush, true
}
