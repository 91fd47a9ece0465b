package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/metrics"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/pagetree"
	"github.com/threadkit/threadkit/internal/sanitize"
	"github.com/threadkit/threadkit/internal/turnstile"
	"github.com/threadkit/threadkit/internal/util"
)

func etagFor(pageID string, updatedAt int64) string {
	return fmt.Sprintf(`"%s-%d"`, pageID, updatedAt)
}

// ListComments serves the page's thread, filtered for the viewer, with an
// ETag derived from the tree's update stamp so unchanged polls cost 304.
func (h *Handlers) ListComments(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	pageURL := c.Query("page_url")
	if pageURL == "" {
		util.RespondValidationError(c, "page_url", "required")
		return
	}
	pageID := models.PageID(site.ID, pageURL)
	ctx := c.Request.Context()

	tree, err := h.Pages.Load(ctx, pageID)
	if err != nil {
		util.RespondError(c, err)
		return
	}

	etag := etagFor(pageID, tree.UpdatedAt)
	c.Header("ETag", etag)
	if match := c.GetHeader("If-None-Match"); match != "" && strings.Contains(match, etag) {
		c.Status(http.StatusNotModified)
		return
	}

	viewerID := ""
	isMod := false
	if user, ok := util.UserFromContext(c); ok {
		viewerID = user.ID
		isMod = util.RoleFromContext(c).AtLeast(models.RoleModerator)
	}
	blocked, err := h.Keeper.BlockedSet(ctx, viewerID)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	shadowbanned, err := h.Keeper.ShadowbannedSet(ctx, site.ID)
	if err != nil {
		util.RespondError(c, err)
		return
	}

	view, total := pagetree.BuildView(tree, pagetree.ViewOptions{
		Sort:         models.ParseSortOrder(c.Query("sort")),
		Offset:       util.ParseInt(c.Query("offset"), 0),
		Limit:        util.ClampLimit(util.ParseInt(c.Query("limit"), 0), 50, 200),
		ViewerID:     viewerID,
		ViewerIsMod:  isMod,
		Blocked:      blocked,
		Shadowbanned: shadowbanned,
	})

	_ = h.Pages.IncrViews(ctx, pageID)
	_ = h.Keeper.RecordView(ctx, site.ID)

	c.JSON(http.StatusOK, gin.H{
		"page_id":    pageID,
		"comments":   view,
		"total":      total,
		"updated_at": tree.UpdatedAt,
	})
}

type createCommentRequest struct {
	PageURL    string      `json:"page_url" binding:"required"`
	ParentPath models.Path `json:"parent_path"`
	Text       string      `json:"text" binding:"required"`
	AuthorName string      `json:"author_name"`
}

// CreateComment posts a comment, anonymous or authenticated, honoring the
// site's posting, moderation, bot-check, and page-lock policy.
func (h *Handlers) CreateComment(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	ctx := c.Request.Context()

	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body")
		return
	}
	if site.Settings.PostingDisabled {
		util.RespondForbidden(c, "posting is disabled on this site")
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		util.RespondValidationError(c, "text", "required")
		return
	}
	if max := site.EffectiveMaxCommentLen(h.Cfg.MaxCommentLen); len(text) > max {
		util.RespondValidationError(c, "text", fmt.Sprintf("exceeds %d characters", max))
		return
	}

	pageID := models.PageID(site.ID, req.PageURL)
	if locked, err := h.Keeper.IsPageLocked(ctx, site.ID, pageID); err != nil {
		util.RespondError(c, err)
		return
	} else if locked {
		util.RespondForbidden(c, "comments are locked on this page")
		return
	}

	user, authed := util.UserFromContext(c)
	if !authed && !site.Settings.AllowAnonymous {
		util.RespondUnauthorized(c, "sign in to comment")
		return
	}

	if turnstile.Required(site.Settings.TurnstileMode, user) {
		if !h.Turnstile.Enabled() {
			util.RespondError(c, apperrors.InternalError("turnstile required but not configured"))
			return
		}
		if err := h.Turnstile.Verify(ctx, c.GetHeader("X-Turnstile-Token"), c.ClientIP()); err != nil {
			util.RespondError(c, err)
			return
		}
	}

	comment := &models.TreeComment{
		ID:        models.NewCommentID(),
		Text:      text,
		HTML:      sanitize.CommentHTML(text),
		CreatedAt: time.Now().UnixMilli(),
	}
	if authed {
		comment.AuthorID = user.ID
		comment.AuthorName = user.Name
		comment.AvatarURL = user.AvatarURL
		comment.Karma = user.Karma
	} else {
		comment.AuthorID = models.AnonymousUserID
		comment.AuthorName = anonymousName(req.AuthorName)
	}

	// Pre-moderation holds everyone below moderator.
	role := util.RoleFromContext(c)
	if site.Settings.ModerationMode == models.ModerationPre && !role.AtLeast(models.RoleModerator) {
		comment.Status = models.StatusPending
	}

	shadow := false
	if authed {
		var err error
		shadow, err = h.Keeper.IsShadowbanned(ctx, site.ID, user.ID)
		if err != nil {
			util.RespondError(c, err)
			return
		}
	}

	var parentAuthorID string
	path, err := h.Pages.Create(ctx, pageID, req.ParentPath, comment)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	if len(req.ParentPath) > 0 {
		if tree, err := h.Pages.Load(ctx, pageID); err == nil {
			if parent, err := pagetree.FindByPath(tree, req.ParentPath); err == nil {
				parentAuthorID = parent.AuthorID
			}
		}
	}

	if err := h.Keeper.CommentCreated(ctx, site.ID, pageID, path, comment); err != nil {
		util.RespondError(c, err)
		return
	}
	if authed {
		_ = h.Users.IncrTotalComments(ctx, user.ID)
	}
	if parentAuthorID != "" && comment.Status == models.StatusApproved && !shadow {
		_ = h.Keeper.NotifyReply(ctx, parentAuthorID, pageID, path, comment)
	}

	// Shadowbanned and pending comments stay invisible to everyone else,
	// so nothing is broadcast.
	if comment.Status == models.StatusApproved && !shadow {
		h.Events.NewComment(ctx, pageID, path, comment)
	}
	metrics.CommentsCreated.Inc()

	c.JSON(http.StatusCreated, gin.H{
		"page_id": pageID,
		"path":    path,
		"comment": comment,
	})
}

func anonymousName(requested string) string {
	requested = strings.TrimSpace(requested)
	if requested == "" || strings.EqualFold(requested, models.DeletedAuthorName) {
		return "anonymous"
	}
	if len(requested) > 40 {
		requested = requested[:40]
	}
	return requested
}

type editCommentRequest struct {
	PageURL string      `json:"page_url" binding:"required"`
	Path    models.Path `json:"path" binding:"required"`
	Text    string      `json:"text" binding:"required"`
}

// EditComment updates a comment's text. Authors edit their own; the
// moderator override marks the comment as mod-edited.
func (h *Handlers) EditComment(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	user, ok := util.RequireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var req editCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body")
		return
	}
	if err := pathTargets(req.Path, c.Param("id")); err != nil {
		util.RespondError(c, err)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		util.RespondValidationError(c, "text", "required")
		return
	}
	if max := site.EffectiveMaxCommentLen(h.Cfg.MaxCommentLen); len(text) > max {
		util.RespondValidationError(c, "text", fmt.Sprintf("exceeds %d characters", max))
		return
	}

	pageID := models.PageID(site.ID, req.PageURL)
	isMod := util.RoleFromContext(c).AtLeast(models.RoleModerator)

	var edited *models.TreeComment
	_, err := h.Pages.Mutate(ctx, pageID, func(_ context.Context, tree *models.PageTree) error {
		node, err := pagetree.FindByPath(tree, req.Path)
		if err != nil {
			return err
		}
		if node.IsDeleted() {
			return apperrors.NotFound("comment")
		}
		if node.AuthorID != user.ID && !isMod {
			return apperrors.Forbidden("you can only edit your own comments")
		}
		node.Text = text
		node.HTML = sanitize.CommentHTML(text)
		node.ModifiedAt = time.Now().UnixMilli()
		if node.AuthorID != user.ID {
			node.EditedByMod = true
		}
		edited = node
		return nil
	})
	if err != nil {
		util.RespondError(c, err)
		return
	}

	shadow, _ := h.Keeper.IsShadowbanned(ctx, site.ID, edited.AuthorID)
	if edited.Status == models.StatusApproved && !shadow {
		h.Events.EditComment(ctx, pageID, req.Path, edited)
	}
	c.JSON(http.StatusOK, gin.H{"comment": edited, "path": req.Path})
}

type deleteCommentRequest struct {
	PageURL string      `json:"page_url" binding:"required"`
	Path    models.Path `json:"path" binding:"required"`
}

// DeleteComment tombstones a comment. Replies and vote tallies survive.
func (h *Handlers) DeleteComment(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	user, ok := util.RequireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var req deleteCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body")
		return
	}
	if err := pathTargets(req.Path, c.Param("id")); err != nil {
		util.RespondError(c, err)
		return
	}

	pageID := models.PageID(site.ID, req.PageURL)
	isMod := util.RoleFromContext(c).AtLeast(models.RoleModerator)

	_, err := h.Pages.Mutate(ctx, pageID, func(_ context.Context, tree *models.PageTree) error {
		node, err := pagetree.FindByPath(tree, req.Path)
		if err != nil {
			return err
		}
		if node.AuthorID != user.ID && !isMod {
			return apperrors.Forbidden("you can only delete your own comments")
		}
		if !node.IsDeleted() {
			node.Tombstone()
		}
		return nil
	})
	if err != nil {
		util.RespondError(c, err)
		return
	}

	// The author's comment set keeps the id: the tombstone is still their
	// comment, and erasure counts depend on it.
	h.Events.DeleteComment(ctx, pageID, req.Path, c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type voteRequest struct {
	PageURL   string      `json:"page_url" binding:"required"`
	Path      models.Path `json:"path" binding:"required"`
	Direction string      `json:"direction" binding:"required"`
}

// VoteComment applies an up/down vote transition.
func (h *Handlers) VoteComment(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	user, _ := util.UserFromContext(c)
	ctx := c.Request.Context()

	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body")
		return
	}
	if err := pathTargets(req.Path, c.Param("id")); err != nil {
		util.RespondError(c, err)
		return
	}

	pageID := models.PageID(site.ID, req.PageURL)
	if locked, err := h.Keeper.IsPageLocked(ctx, site.ID, pageID); err != nil {
		util.RespondError(c, err)
		return
	} else if locked {
		util.RespondForbidden(c, "voting is locked on this page")
		return
	}

	shadow, err := h.Keeper.IsShadowbanned(ctx, site.ID, user.ID)
	if err != nil {
		util.RespondError(c, err)
		return
	}

	res, err := h.Votes.Apply(ctx, pageID, req.Path, user.ID, models.VoteDirection(req.Direction), shadow)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	if res.Broadcast {
		h.Events.VoteUpdate(ctx, pageID, req.Path, res.Comment)
	}
	metrics.VotesApplied.Inc()

	c.JSON(http.StatusOK, gin.H{
		"upvotes":     res.Comment.Upvotes,
		"downvotes":   res.Comment.Downvotes,
		"viewer_vote": string(res.Next),
	})
}

type reportRequest struct {
	PageURL string      `json:"page_url" binding:"required"`
	Path    models.Path `json:"path" binding:"required"`
	Reason  string      `json:"reason" binding:"required"`
	Details string      `json:"details"`
}

// ReportComment files an abuse report for moderators.
func (h *Handlers) ReportComment(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	user, _ := util.UserFromContext(c)
	ctx := c.Request.Context()

	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body")
		return
	}
	if err := pathTargets(req.Path, c.Param("id")); err != nil {
		util.RespondError(c, err)
		return
	}

	pageID := models.PageID(site.ID, req.PageURL)
	tree, err := h.Pages.Load(ctx, pageID)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	if _, err := pagetree.FindByPath(tree, req.Path); err != nil {
		util.RespondError(c, err)
		return
	}

	report := &models.Report{
		ID:         uuid.NewString(),
		ReporterID: user.ID,
		PageID:     pageID,
		CommentID:  c.Param("id"),
		Path:       req.Path,
		Reason:     strings.TrimSpace(req.Reason),
		Details:    strings.TrimSpace(req.Details),
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := h.Keeper.ReportCreated(ctx, site.ID, report); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reported": true})
}

// pathTargets checks that the path's final element is the comment id the
// route names.
func pathTargets(path models.Path, commentID string) error {
	if len(path) == 0 {
		return apperrors.ValidationError("path", "required")
	}
	if path[len(path)-1] != commentID {
		return apperrors.ValidationError("path", "must end at the addressed comment")
	}
	return nil
}
