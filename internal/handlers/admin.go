package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/util"
)

// ListModerators returns the site's moderator ids.
func (h *Handlers) ListModerators(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	ids, err := h.RDB.SMembers(c.Request.Context(), models.KeySiteModerators(site.ID))
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"moderators": ids})
}

type roleRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// AddModerator promotes a user to moderator.
func (h *Handlers) AddModerator(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body")
		return
	}
	if _, err := h.Users.MustGet(c.Request.Context(), req.UserID); err != nil {
		util.RespondError(c, err)
		return
	}
	if err := h.Keeper.SetRole(c.Request.Context(), site.ID, req.UserID, models.RoleModerator); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"moderator": req.UserID})
}

// RemoveModerator demotes a moderator to plain user.
func (h *Handlers) RemoveModerator(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	if err := h.Keeper.SetRole(c.Request.Context(), site.ID, c.Param("id"), models.RoleUser); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": c.Param("id")})
}

// ListAdmins returns the site's admin ids.
func (h *Handlers) ListAdmins(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	ids, err := h.RDB.SMembers(c.Request.Context(), models.KeySiteAdmins(site.ID))
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"admins": ids})
}

// AddAdmin promotes a user to admin.
func (h *Handlers) AddAdmin(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body")
		return
	}
	if _, err := h.Users.MustGet(c.Request.Context(), req.UserID); err != nil {
		util.RespondError(c, err)
		return
	}
	if err := h.Keeper.SetRole(c.Request.Context(), site.ID, req.UserID, models.RoleAdmin); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"admin": req.UserID})
}

type updateSettingsRequest struct {
	ModerationMode  *models.ModerationMode `json:"moderation_mode"`
	AuthMethods     []string               `json:"auth_methods"`
	AllowedOrigins  []string               `json:"allowed_origins"`
	AllowAnonymous  *bool                  `json:"allow_anonymous"`
	PostingDisabled *bool                  `json:"posting_disabled"`
	TurnstileMode   *models.TurnstileMode  `json:"turnstile_mode"`
	MaxCommentLen   *int                   `json:"max_comment_len"`
	RateLimits      *models.RateLimits     `json:"rate_limits"`
}

// UpdateSettings applies partial changes to the site config.
func (h *Handlers) UpdateSettings(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body")
		return
	}

	if req.ModerationMode != nil {
		if !req.ModerationMode.Valid() {
			util.RespondValidationError(c, "moderation_mode", "must be none, pre, or post")
			return
		}
		site.Settings.ModerationMode = *req.ModerationMode
	}
	if req.AuthMethods != nil {
		site.Settings.AuthMethods = req.AuthMethods
	}
	if req.AllowedOrigins != nil {
		site.Settings.AllowedOrigins = req.AllowedOrigins
	}
	if req.AllowAnonymous != nil {
		site.Settings.AllowAnonymous = *req.AllowAnonymous
	}
	if req.PostingDisabled != nil {
		site.Settings.PostingDisabled = *req.PostingDisabled
	}
	if req.TurnstileMode != nil {
		site.Settings.TurnstileMode = *req.TurnstileMode
	}
	if req.MaxCommentLen != nil {
		site.Settings.MaxCommentLen = *req.MaxCommentLen
	}
	if req.RateLimits != nil {
		site.Settings.RateLimits = *req.RateLimits
	}

	if err := h.Sites.Save(c.Request.Context(), site); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": site.Settings})
}

// Analytics reports hour-bucketed view and unique-visitor counts for the
// trailing day.
func (h *Handlers) Analytics(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	hours := util.ClampLimit(util.ParseInt(c.Query("hours"), 0), 24, 168)
	views, err := h.Keeper.ViewCounts(c.Request.Context(), site.ID, hours)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	visitors, err := h.Keeper.VisitorCounts(c.Request.Context(), site.ID, hours)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"views_by_hour":    views,
		"visitors_by_hour": visitors,
	})
}
