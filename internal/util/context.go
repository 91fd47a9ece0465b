package util

import (
	"github.com/gin-gonic/gin"
	"github.com/threadkit/threadkit/internal/models"
)

// Gin context keys set by middleware.
const (
	CtxSite      = "site"
	CtxUser      = "user"
	CtxSession   = "session"
	CtxRole      = "role"
	CtxSecret    = "secret_key" // request authenticated with the secret API key
	CtxRequestID = "request_id"
)

// SiteFromContext returns the site resolved by the API-key middleware.
func SiteFromContext(c *gin.Context) (*models.Site, bool) {
	v, ok := c.Get(CtxSite)
	if !ok {
		return nil, false
	}
	site, ok := v.(*models.Site)
	return site, ok
}

// UserFromContext returns the authenticated user, if any. Anonymous
// requests carry no user.
func UserFromContext(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(CtxUser)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}

// SessionFromContext returns the verified session for the request.
func SessionFromContext(c *gin.Context) (*models.Session, bool) {
	v, ok := c.Get(CtxSession)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*models.Session)
	return sess, ok
}

// RoleFromContext returns the resolved role; RoleUser when unset.
func RoleFromContext(c *gin.Context) models.Role {
	v, ok := c.Get(CtxRole)
	if !ok {
		return models.RoleUser
	}
	role, ok := v.(models.Role)
	if !ok {
		return models.RoleUser
	}
	return role
}

// RequireUser fetches the user or writes a 401 and reports failure.
func RequireUser(c *gin.Context) (*models.User, bool) {
	user, ok := UserFromContext(c)
	if !ok {
		RespondUnauthorized(c)
		return nil, false
	}
	return user, true
}
