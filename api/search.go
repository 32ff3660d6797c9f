package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"forum-search-backend/base"
	"forum-search-backend/search"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerSearch() {
	s.Router.GET(BasePath+"/search", s.handleSearch)
}

// handleSearch runs a search. A search needs a term or at least one user or category filter.
func (s *Server) handleSearch(c *gin.Context) {
	req := search.Request{
		Term:  c.Query("term"),
		In:    c.Query("in"),
		Index: c.Query("index"),
		UIDs:  base.ParseIDs(c.QueryArray("uid")...),
		CIDs:  base.ParseIDs(c.QueryArray("cid")...),
	}
	var err error
	if req.Start, err = optionalInt(c, "start"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Rows, err = optionalInt(c, "rows"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Term) == "" && len(req.UIDs) == 0 && len(req.CIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing request parameter 'term'"})
		return
	}

	res, err := s.search.Search(c.Request.Context(), req)
	if errors.Is(err, search.ErrDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	} else if err != nil {
		slog.Error("search failed", "term", req.Term, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func optionalInt(c *gin.Context, name string) (int, error) {
	value := c.Query(name)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.New("request parameter '" + name + "' is not a number")
	}
	return n, nil
}
