package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"forum-search-backend/reindex"
	"forum-search-backend/search"
	"forum-search-backend/settings"

	"github.com/gin-gonic/gin"
)

// AdminStatus is what the admin page shows.
type AdminStatus struct {
	Settings settings.Settings `json:"settings"`
	Stats    search.Stats      `json:"stats"`
	Reindex  reindex.Progress  `json:"reindex"`
	Pending  int               `json:"pendingEvents"`
}

func (s *Server) registerAdmin() {
	admin := s.Router.Group(BasePath+"/admin/solr", requireAdmin)
	admin.GET("", s.handleAdminStatus)
	admin.PUT("/settings", s.handleSaveSettings)
	admin.POST("/toggle", s.handleToggle)
	admin.DELETE("/flush", s.handleFlush)
	admin.POST("/rebuild", s.handleStartRebuild)
	admin.GET("/rebuild", s.handleRebuildProgress)
	admin.DELETE("/rebuild", s.handleCancelRebuild)
	admin.GET("/doc/:pid", s.handleDocument)
	admin.GET("/select", s.handleSolrSelect)
}

func (s *Server) handleAdminStatus(c *gin.Context) {
	status := AdminStatus{
		Settings: s.settings.Get(),
		Stats:    s.search.Stats(c.Request.Context()),
		Reindex:  s.reindex.Progress(),
	}
	if s.events != nil {
		status.Pending = s.events.Pending()
	}
	c.JSON(http.StatusOK, status)
}

// handleSaveSettings stores the settings form. Empty values fall back to defaults.
func (s *Server) handleSaveSettings(c *gin.Context) {
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.settings.Update(c.Request.Context(), values); err != nil {
		slog.Error("failed saving settings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.settings.Get())
}

func (s *Server) handleToggle(c *gin.Context) {
	enabled := !s.settings.Get().Enabled
	if value, ok := c.GetQuery("enabled"); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request parameter 'enabled' is not a boolean"})
			return
		}
		enabled = parsed
	}
	if err := s.settings.SetEnabled(c.Request.Context(), enabled); err != nil {
		slog.Error("failed toggling search", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	slog.Info("search toggled", "enabled", enabled)
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

func (s *Server) handleFlush(c *gin.Context) {
	if err := s.search.Flush(c.Request.Context()); err != nil {
		slog.Error("failed flushing index", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStartRebuild(c *gin.Context) {
	opts := reindex.Options{
		Recreate: c.Query("recreate") == "true",
		Resume:   c.Query("resume") == "true",
	}
	progress, err := s.reindex.Start(c.Request.Context(), opts)
	if errors.Is(err, reindex.ErrRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "progress": progress})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, progress)
}

func (s *Server) handleRebuildProgress(c *gin.Context) {
	progress := s.reindex.Progress()
	c.JSON(http.StatusOK, gin.H{"progress": progress, "percent": progress.Percent()})
}

func (s *Server) handleCancelRebuild(c *gin.Context) {
	if !s.reindex.Cancel() {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reindex running"})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleDocument(c *gin.Context) {
	pid, err := strconv.ParseInt(c.Param("pid"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid post id"})
		return
	}
	doc, err := s.search.Document(c.Request.Context(), pid)
	if errors.Is(err, search.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	} else if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}
