package api

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
)

// handleSolrSelect proxies raw select queries to the configured collection.
func (s *Server) handleSolrSelect(c *gin.Context) {
	target, err := url.Parse(s.search.Client().Endpoint())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ModifyResponse = func(resp *http.Response) error {
		// CORS headers are set by our own handler chain
		resp.Header.Del("Access-Control-Allow-Origin")
		resp.Header.Del("Access-Control-Allow-Credentials")
		return nil
	}
	c.Request.URL.Path = "/solr/" + s.search.Settings().Core + "/select"
	c.Request.URL.Scheme = target.Scheme
	c.Request.URL.Host = target.Host
	c.Request.Host = target.Host
	c.Request.Header.Set("X-Forwarded-Host", c.Request.Header.Get("Host"))
	proxy.ServeHTTP(c.Writer, c.Request)
}
