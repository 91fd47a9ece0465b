package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/storage"
	"github.com/threadkit/threadkit/internal/util"
)

// Me returns the caller's own record, including private fields.
func (h *Handlers) Me(c *gin.Context) {
	user, _ := util.UserFromContext(c)
	c.JSON(http.StatusOK, gin.H{
		"user": user,
		"role": util.RoleFromContext(c).String(),
	})
}

type updateMeRequest struct {
	Name        *string  `json:"name"`
	SocialLinks []string `json:"social_links"`
}

// UpdateMe edits profile fields. Name changes re-point the username index.
func (h *Handlers) UpdateMe(c *gin.Context) {
	user, _ := util.UserFromContext(c)
	ctx := c.Request.Context()

	var req updateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body")
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || len(name) > 40 {
			util.RespondValidationError(c, "name", "must be 1-40 characters")
			return
		}
		if name != user.Name {
			if existing, err := h.Users.ByName(ctx, name); err != nil {
				util.RespondError(c, err)
				return
			} else if existing != nil && existing.ID != user.ID {
				util.RespondValidationError(c, "name", "already taken")
				return
			}
			_ = h.RDB.Del(ctx, models.KeyNameIndex(user.Name))
			if err := h.Users.IndexName(ctx, name, user.ID); err != nil {
				util.RespondError(c, err)
				return
			}
			user.Name = name
		}
	}
	if req.SocialLinks != nil {
		if len(req.SocialLinks) > 5 {
			util.RespondValidationError(c, "social_links", "at most 5 links")
			return
		}
		user.SocialLinks = req.SocialLinks
	}

	if err := h.Users.Save(ctx, user); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// DeleteMe erases the caller's account: comments tombstoned, votes
// reversed, identity removed. The response reports what was touched.
func (h *Handlers) DeleteMe(c *gin.Context) {
	user, _ := util.UserFromContext(c)
	sess, _ := util.SessionFromContext(c)

	result, err := h.Eraser.Erase(c.Request.Context(), user.ID)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	if sess != nil {
		_ = h.Auth.Logout(c.Request.Context(), sess.ID)
	}
	c.JSON(http.StatusOK, result)
}

// UploadAvatar accepts a raw image body and stores it.
func (h *Handlers) UploadAvatar(c *gin.Context) {
	if h.Avatars == nil {
		util.RespondError(c, apperrors.ServiceUnavailable("avatar storage"))
		return
	}
	user, _ := util.UserFromContext(c)

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, storage.MaxAvatarBytes+1))
	if err != nil {
		util.RespondBadRequest(c, "failed to read upload")
		return
	}
	url, err := h.Avatars.Upload(c.Request.Context(), user.ID, data)
	if err != nil {
		util.RespondError(c, err)
		return
	}

	user.AvatarURL = url
	if err := h.Users.Save(c.Request.Context(), user); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"avatar_url": url})
}

// Notifications lists the caller's reply notifications, newest first.
func (h *Handlers) Notifications(c *gin.Context) {
	user, _ := util.UserFromContext(c)
	limit := int64(util.ClampLimit(util.ParseInt(c.Query("limit"), 0), 20, 100))
	items, err := h.Keeper.Notifications(c.Request.Context(), user.ID, limit)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

// ClearNotifications empties the caller's feed.
func (h *Handlers) ClearNotifications(c *gin.Context) {
	user, _ := util.UserFromContext(c)
	if err := h.Keeper.ClearNotifications(c.Request.Context(), user.ID); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// GetUser returns a public profile: no email, phone, or provider detail.
func (h *Handlers) GetUser(c *gin.Context) {
	user, err := h.Users.MustGet(c.Request.Context(), c.Param("id"))
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":             user.ID,
		"name":           user.Name,
		"avatar_url":     user.AvatarURL,
		"karma":          user.Karma,
		"total_comments": user.TotalComments,
		"created_at":     user.CreatedAt,
		"social_links":   user.SocialLinks,
	})
}

// BlockUser hides the target's comments from the caller everywhere.
func (h *Handlers) BlockUser(c *gin.Context) {
	user, _ := util.UserFromContext(c)
	target := c.Param("id")
	if _, err := h.Users.MustGet(c.Request.Context(), target); err != nil {
		util.RespondError(c, err)
		return
	}
	if err := h.Keeper.Block(c.Request.Context(), user.ID, target); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": target})
}

// UnblockUser reverses a block.
func (h *Handlers) UnblockUser(c *gin.Context) {
	user, _ := util.UserFromContext(c)
	if err := h.Keeper.Unblock(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unblocked": c.Param("id")})
}
