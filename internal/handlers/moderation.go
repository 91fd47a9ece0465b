package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/util"
)

// ModQueue lists pending comments, oldest first.
func (h *Handlers) ModQueue(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	limit := int64(util.ClampLimit(util.ParseInt(c.Query("limit"), 0), 50, 200))
	entries, err := h.Keeper.Modqueue(c.Request.Context(), site.ID, limit)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": entries})
}

// ModReports lists open abuse reports.
func (h *Handlers) ModReports(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	limit := int64(util.ClampLimit(util.ParseInt(c.Query("limit"), 0), 50, 200))
	reports, err := h.Keeper.Reports(c.Request.Context(), site.ID, limit)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

type moderateRequest struct {
	PageID string      `json:"page_id"`
	Path   models.Path `json:"path"`
}

// locateComment resolves a moderation target from the request body or,
// failing that, from the mod queue.
func (h *Handlers) locateComment(ctx context.Context, siteID, commentID string, req moderateRequest) (string, models.Path, error) {
	if req.PageID != "" && len(req.Path) > 0 {
		return req.PageID, req.Path, nil
	}
	entries, err := h.Keeper.Modqueue(ctx, siteID, -1)
	if err != nil {
		return "", nil, err
	}
	for _, e := range entries {
		if e.CommentID == commentID {
			return e.PageID, e.Path, nil
		}
	}
	return "", nil, apperrors.NotFound("comment")
}

// ApproveComment releases a pending comment to everyone.
func (h *Handlers) ApproveComment(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	ctx := c.Request.Context()
	commentID := c.Param("id")

	var req moderateRequest
	_ = c.ShouldBindJSON(&req)
	pageID, path, err := h.locateComment(ctx, site.ID, commentID, req)
	if err != nil {
		util.RespondError(c, err)
		return
	}

	node, err := h.Pages.SetStatus(ctx, pageID, path, models.StatusApproved)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	if err := h.Keeper.ModqueueResolve(ctx, site.ID, commentID); err != nil {
		util.RespondError(c, err)
		return
	}

	// The comment was invisible until now; live viewers get it as new.
	h.Events.NewComment(ctx, pageID, path, node)
	h.Events.ModerationChange(ctx, pageID, path, commentID, models.StatusApproved)
	c.JSON(http.StatusOK, gin.H{"approved": commentID})
}

// RejectComment hides a comment from everyone, pending or not.
func (h *Handlers) RejectComment(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	ctx := c.Request.Context()
	commentID := c.Param("id")

	var req moderateRequest
	_ = c.ShouldBindJSON(&req)
	pageID, path, err := h.locateComment(ctx, site.ID, commentID, req)
	if err != nil {
		util.RespondError(c, err)
		return
	}

	if _, err := h.Pages.SetStatus(ctx, pageID, path, models.StatusRejected); err != nil {
		util.RespondError(c, err)
		return
	}
	if err := h.Keeper.ModqueueResolve(ctx, site.ID, commentID); err != nil {
		util.RespondError(c, err)
		return
	}
	_ = h.Keeper.ReportsResolve(ctx, site.ID, commentID)

	h.Events.ModerationChange(ctx, pageID, path, commentID, models.StatusRejected)
	c.JSON(http.StatusOK, gin.H{"rejected": commentID})
}

// outranks verifies the acting moderator sits above the target, so
// moderators cannot ban each other or the admins.
func (h *Handlers) outranks(c *gin.Context, targetID string) bool {
	site, _ := util.SiteFromContext(c)
	targetRole, err := h.Keeper.ResolveRole(c.Request.Context(), site.ID, targetID)
	if err != nil {
		util.RespondError(c, err)
		return false
	}
	if targetRole >= util.RoleFromContext(c) {
		util.RespondForbidden(c, "cannot moderate a peer or superior")
		return false
	}
	return true
}

// BanUser blocks a user from writing on this site.
func (h *Handlers) BanUser(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	target := c.Param("id")
	if _, err := h.Users.MustGet(c.Request.Context(), target); err != nil {
		util.RespondError(c, err)
		return
	}
	if !h.outranks(c, target) {
		return
	}
	if err := h.Keeper.SetRole(c.Request.Context(), site.ID, target, models.RoleBlocked); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"banned": target})
}

// UnbanUser restores a banned user to plain user.
func (h *Handlers) UnbanUser(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	if err := h.Keeper.SetRole(c.Request.Context(), site.ID, c.Param("id"), models.RoleUser); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unbanned": c.Param("id")})
}

// ShadowbanUser makes a user's future writes visible only to themselves.
func (h *Handlers) ShadowbanUser(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	target := c.Param("id")
	if _, err := h.Users.MustGet(c.Request.Context(), target); err != nil {
		util.RespondError(c, err)
		return
	}
	if !h.outranks(c, target) {
		return
	}
	if err := h.Keeper.Shadowban(c.Request.Context(), site.ID, target); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shadowbanned": target})
}

// UnshadowbanUser lifts a shadowban.
func (h *Handlers) UnshadowbanUser(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	if err := h.Keeper.Unshadowban(c.Request.Context(), site.ID, c.Param("id")); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unshadowbanned": c.Param("id")})
}

type pageLockRequest struct {
	PageURL string `json:"page_url" binding:"required"`
}

// LockPage freezes a page: existing comments stay readable, new comments
// and votes are refused.
func (h *Handlers) LockPage(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	var req pageLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body")
		return
	}
	pageID := models.PageID(site.ID, req.PageURL)
	if err := h.Keeper.LockPage(c.Request.Context(), site.ID, pageID); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locked": pageID})
}

// UnlockPage reopens a locked page.
func (h *Handlers) UnlockPage(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	var req pageLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body")
		return
	}
	pageID := models.PageID(site.ID, req.PageURL)
	if err := h.Keeper.UnlockPage(c.Request.Context(), site.ID, pageID); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlocked": pageID})
}
