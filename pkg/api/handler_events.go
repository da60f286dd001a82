package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sigil-dev/sigil/pkg/events"
)

// streamTaskEvents handles GET /api/v1/tasks/:id/events as a server-sent
// event stream. Events flow until the client disconnects or the manager
// shuts down; a slow client loses events rather than stalling the engine,
// the persisted workspace stays authoritative.
func (s *Server) streamTaskEvents(c *gin.Context) {
	taskID := c.Param("id")
	ch, cancel := s.events.Subscribe(events.TaskChannel(taskID))
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("message", string(event))
			c.Writer.Flush()
		}
	}
}
