package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"forum-search-backend/base"

	"github.com/gin-gonic/gin"
	"golang.org/x/exp/slices"
)

func adminAccessGranted(h http.Header) (granted bool, user string) {
	user = h.Get(base.AuthUserHeader)
	if !base.Configuration.AuthEnabled {
		granted = true
		return
	}
	if len(user) == 0 {
		return
	}
	groups := strings.Split(h.Get(base.AuthGroupsHeader), ",")
	for i := range groups {
		groups[i] = strings.TrimSpace(groups[i])
	}
	granted = slices.Contains(groups, base.AdminGroup)
	return
}

func requireAdmin(c *gin.Context) {
	if granted, user := adminAccessGranted(c.Request.Header); !granted {
		slog.Warn("admin access denied", "user", user, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
		return
	}
	c.Next()
}

func requireHookToken(c *gin.Context) {
	if len(base.HookToken) == 0 {
		c.Next()
		return
	}
	token := c.Request.Header.Get(base.HookTokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(base.HookToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid hook token"})
		return
	}
	c.Next()
}
