package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports liveness; Redis down means the API cannot serve anything.
func (h *Handlers) Health(c *gin.Context) {
	if err := h.RDB.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// OpenAPI serves a machine-readable sketch of the API surface. Embeds use
// it for client generation; it is intentionally terse rather than a full
// schema for every body.
func (h *Handlers) OpenAPI(c *gin.Context) {
	c.JSON(http.StatusOK, openAPIDoc)
}

var openAPIDoc = gin.H{
	"openapi": "3.0.3",
	"info": gin.H{
		"title":   "ThreadKit API",
		"version": "1",
	},
	"paths": gin.H{
		"/health":                   gin.H{"get": opDoc("Liveness probe")},
		"/auth/{provider}":          gin.H{"get": opDoc("Begin an OAuth flow")},
		"/auth/{provider}/callback": gin.H{"get": opDoc("Complete an OAuth flow")},

		"/v1/auth/methods":         gin.H{"get": opDoc("Sign-in options for this site")},
		"/v1/auth/send-otp":        gin.H{"post": opDoc("Email a one-time sign-in code")},
		"/v1/auth/verify-otp":      gin.H{"post": opDoc("Redeem a one-time code")},
		"/v1/auth/register":        gin.H{"post": opDoc("Create a password account")},
		"/v1/auth/login":           gin.H{"post": opDoc("Sign in with password")},
		"/v1/auth/refresh":         gin.H{"post": opDoc("Extend the current session")},
		"/v1/auth/logout":          gin.H{"post": opDoc("Revoke the current session")},
		"/v1/auth/ethereum/nonce":  gin.H{"get": opDoc("Ethereum signing challenge")},
		"/v1/auth/ethereum/verify": gin.H{"post": opDoc("Sign in with an Ethereum signature")},
		"/v1/auth/solana/nonce":    gin.H{"get": opDoc("Solana signing challenge")},
		"/v1/auth/solana/verify":   gin.H{"post": opDoc("Sign in with a Solana signature")},

		"/v1/comments": gin.H{
			"get":  opDoc("List a page's comment tree"),
			"post": opDoc("Post a comment"),
		},
		"/v1/comments/{id}": gin.H{
			"put":    opDoc("Edit a comment"),
			"delete": opDoc("Delete a comment"),
		},
		"/v1/comments/{id}/vote":   gin.H{"post": opDoc("Vote on a comment")},
		"/v1/comments/{id}/report": gin.H{"post": opDoc("Report a comment")},

		"/v1/users/me":               gin.H{"get": opDoc("Own profile"), "put": opDoc("Edit own profile"), "delete": opDoc("Erase own account")},
		"/v1/users/me/avatar":        gin.H{"post": opDoc("Upload an avatar image")},
		"/v1/users/me/notifications": gin.H{"get": opDoc("Reply notifications"), "delete": opDoc("Clear notifications")},
		"/v1/users/{id}":             gin.H{"get": opDoc("Public profile")},
		"/v1/users/{id}/block":       gin.H{"post": opDoc("Block a user")},
		"/v1/users/{id}/unblock":     gin.H{"post": opDoc("Unblock a user")},

		"/v1/moderation/queue":                   gin.H{"get": opDoc("Pending comments")},
		"/v1/moderation/reports":                 gin.H{"get": opDoc("Open reports")},
		"/v1/moderation/comments/{id}/approve":   gin.H{"post": opDoc("Approve a pending comment")},
		"/v1/moderation/comments/{id}/reject":    gin.H{"post": opDoc("Reject a comment")},
		"/v1/moderation/users/{id}/ban":          gin.H{"post": opDoc("Ban a user")},
		"/v1/moderation/users/{id}/unban":        gin.H{"post": opDoc("Unban a user")},
		"/v1/moderation/users/{id}/shadowban":    gin.H{"post": opDoc("Shadowban a user")},
		"/v1/moderation/users/{id}/unshadowban":  gin.H{"post": opDoc("Lift a shadowban")},
		"/v1/moderation/pages/lock":              gin.H{"post": opDoc("Lock a page")},
		"/v1/moderation/pages/unlock":            gin.H{"post": opDoc("Unlock a page")},

		"/v1/admin/moderators":      gin.H{"get": opDoc("List moderators"), "post": opDoc("Add a moderator")},
		"/v1/admin/moderators/{id}": gin.H{"delete": opDoc("Remove a moderator")},
		"/v1/admin/admins":          gin.H{"get": opDoc("List admins"), "post": opDoc("Add an admin")},
		"/v1/admin/settings":        gin.H{"put": opDoc("Update site settings")},
		"/v1/admin/analytics":       gin.H{"get": opDoc("Hourly view counts")},
	},
	"components": gin.H{
		"securitySchemes": gin.H{
			"apiKey": gin.H{"type": "apiKey", "in": "header", "name": "projectid"},
			"bearer": gin.H{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
		},
	},
}

func opDoc(summary string) gin.H {
	return gin.H{"summary": summary, "responses": gin.H{"200": gin.H{"description": "OK"}}}
}
