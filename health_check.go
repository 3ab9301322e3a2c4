package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleHealthz reports liveness plus the engine's current status, the
// minimal shape an uptime monitor or load balancer probe needs. Adapted
// from the teacher's SimpleHealthCheck, wired onto gin and enriched with
// the run state this domain actually tracks.
func (s *Server) handleHealthz(c *gin.Context) {
	snap := s.state.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"time":          time.Now().Format(time.RFC3339),
		"engine_status": snap.Status,
		"is_running":    snap.IsRunning,
	})
}
