package api

import (
	"errors"
	"net/http"

	"forum-search-backend/hooks"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerHooks() {
	s.Router.POST(BasePath+"/hooks/:hook", requireHookToken, s.handleHook)
}

// handleHook queues a forum event. The body carries the ids, the hook name comes from the path.
func (s *Server) handleHook(c *gin.Context) {
	var ev hooks.Event
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	ev.Hook = c.Param("hook")

	err := s.events.Enqueue(ev)
	switch {
	case err == nil:
		c.Status(http.StatusAccepted)
	case errors.Is(err, hooks.ErrUnknownHook):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, hooks.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, hooks.ErrQueueFull), errors.Is(err, hooks.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
