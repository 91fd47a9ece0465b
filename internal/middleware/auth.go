package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/auth"
	"github.com/threadkit/threadkit/internal/indexes"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/util"
)

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}

// Authenticate resolves the bearer token, if any, into a user, session,
// and site role. Requests without a token continue anonymously; requests
// with a bad token are rejected rather than silently downgraded.
func Authenticate(svc *auth.Service, keeper *indexes.Keeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Next()
			return
		}

		user, sess, err := svc.VerifyToken(c.Request.Context(), token)
		if err != nil {
			util.RespondError(c, err)
			c.Abort()
			return
		}
		c.Set(util.CtxUser, user)
		c.Set(util.CtxSession, sess)

		if site, ok := util.SiteFromContext(c); ok {
			role, err := keeper.ResolveRole(c.Request.Context(), site.ID, user.ID)
			if err != nil {
				util.RespondError(c, err)
				c.Abort()
				return
			}
			c.Set(util.CtxRole, role)
		}
		c.Next()
	}
}

// RequireAuth gates routes that need a signed-in user.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := util.UserFromContext(c); !ok {
			util.RespondUnauthorized(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireRole gates routes on a minimum site role.
func RequireRole(min models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := util.UserFromContext(c); !ok {
			util.RespondUnauthorized(c)
			c.Abort()
			return
		}
		if !util.RoleFromContext(c).AtLeast(min) {
			util.RespondWithAPIError(c, apperrors.Forbidden("insufficient privileges"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RejectBlocked turns away blocked users from write routes. Reads stay
// open; a ban silences, it does not hide the site.
func RejectBlocked() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := util.UserFromContext(c); ok && util.RoleFromContext(c) == models.RoleBlocked {
			util.RespondWithAPIError(c, apperrors.UserBlocked())
			c.Abort()
			return
		}
		c.Next()
	}
}
