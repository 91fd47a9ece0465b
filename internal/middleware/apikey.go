// Package middleware carries the request-scoped plumbing: tenant
// resolution, authentication, rate limiting, security headers, request
// ids, and metrics.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/sites"
	"github.com/threadkit/threadkit/internal/util"
)

// APIKey resolves the tenant from the projectid header (or project_id
// query parameter for embeds that cannot set headers). Public keys are
// checked against the site's origin allow list; secret keys are
// server-to-server and skip it.
func APIKey(store *sites.Store, allowLocalhost bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("projectid")
		if key == "" {
			key = c.Query("project_id")
		}
		if key == "" {
			util.RespondWithAPIError(c, apperrors.Unauthorized("api key required"))
			c.Abort()
			return
		}

		site, err := store.ByAPIKey(c.Request.Context(), key)
		if err != nil {
			util.RespondError(c, err)
			c.Abort()
			return
		}
		if site == nil {
			util.RespondWithAPIError(c, apperrors.Unauthorized("unknown api key"))
			c.Abort()
			return
		}

		if models.IsSecretKey(key) {
			c.Set(util.CtxSecret, true)
		} else if !site.OriginAllowed(c.GetHeader("Origin"), allowLocalhost) {
			util.RespondWithAPIError(c, apperrors.Forbidden("origin not allowed for this site"))
			c.Abort()
			return
		}

		c.Set(util.CtxSite, site)
		c.Next()
	}
}
