// Package api serves search, admin and webhook routes.
package api

import (
	"net/http"
	"time"

	"forum-search-backend/base"
	"forum-search-backend/hooks"
	"forum-search-backend/reindex"
	"forum-search-backend/search"
	"forum-search-backend/settings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type JSONError struct {
	Error string `json:"error"`
}

var BasePath = "/api/v1"
var livelinessEndpoint = "/healthz"
var metricsEndpoint = "/metrics"

// Server bundles the components the routes operate on.
type Server struct {
	Router   *gin.Engine
	search   *search.Service
	settings *settings.Manager
	reindex  *reindex.Job
	events   *hooks.Dispatcher
	apispec  *openapi3.T
}

func NewServer(svc *search.Service, mgr *settings.Manager, job *reindex.Job, events *hooks.Dispatcher) *Server {
	s := &Server{
		Router:   gin.New(),
		search:   svc,
		settings: mgr,
		reindex:  job,
		events:   events,
		apispec:  newApiSpec(),
	}
	corsConfig := cors.New(cors.Config{
		AllowOrigins:     base.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", base.HookTokenHeader},
		ExposeHeaders:    []string{"Content-Length", "Location"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
	// exclude liveliness checks and scrapes from access logs
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{BasePath + livelinessEndpoint, metricsEndpoint},
	}))
	s.Router.Use(gin.Recovery())
	s.Router.Use(corsConfig)
	s.Router.SetTrustedProxies(nil)
	s.Router.GET(BasePath+livelinessEndpoint, handleHealthz)
	s.Router.GET(BasePath+"/config", handleConfig)
	s.Router.GET(metricsEndpoint, gin.WrapH(promhttp.Handler()))

	s.registerOpenApi()
	s.registerSearch()
	s.registerAdmin()
	s.registerHooks()
	return s
}

// handleHealthz returns a lightweight health response for liveness checks.
func handleHealthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// handleConfig returns runtime configuration and auth context to the client.
func handleConfig(c *gin.Context) {
	admin, user := adminAccessGranted(c.Request.Header)
	config := base.AuthenticatedConfig{
		Config: base.Configuration,
		User:   user,
		Admin:  admin,
	}
	c.JSON(http.StatusOK, config)
}
