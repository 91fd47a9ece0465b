// Package indexes maintains the secondary structures around the page
// trees: per-user comment and vote sets, the comment-to-page mapping,
// block lists, role sets, the moderation queue, and reports.
package indexes

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/models"
)

type Keeper struct {
	rdb *cache.RedisClient
}

func NewKeeper(rdb *cache.RedisClient) *Keeper {
	return &Keeper{rdb: rdb}
}

// ModqueueEntry locates one pending comment. Entries are stored as JSON
// members of the site modqueue zset, scored by creation time.
type ModqueueEntry struct {
	PageID    string      `json:"page_id"`
	CommentID string      `json:"comment_id"`
	Path      models.Path `json:"path"`
	AuthorID  string      `json:"author_id"`
	Text      string      `json:"text"`
	CreatedAt int64       `json:"created_at"`
}

// CommentCreated records the side effects of a new comment: the author's
// comment set, the comment-to-page mapping, and the modqueue when the
// comment entered pending.
func (k *Keeper) CommentCreated(ctx context.Context, siteID, pageID string, path models.Path, c *models.TreeComment) error {
	if c.AuthorID != models.AnonymousUserID {
		if err := k.rdb.SAdd(ctx, models.KeyUserComments(c.AuthorID), c.ID); err != nil {
			return err
		}
	}
	if err := k.rdb.Set(ctx, models.KeyCommentPage(c.ID), pageID); err != nil {
		return err
	}
	if c.Status == models.StatusPending {
		return k.modqueueAdd(ctx, siteID, pageID, path, c)
	}
	return nil
}

// PageForComment resolves which page a comment lives on.
func (k *Keeper) PageForComment(ctx context.Context, commentID string) (string, bool, error) {
	return k.rdb.Get(ctx, models.KeyCommentPage(commentID))
}

func (k *Keeper) modqueueAdd(ctx context.Context, siteID, pageID string, path models.Path, c *models.TreeComment) error {
	entry := ModqueueEntry{
		PageID:    pageID,
		CommentID: c.ID,
		Path:      path,
		AuthorID:  c.AuthorID,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return k.rdb.ZAdd(ctx, models.KeySiteModqueue(siteID), float64(c.CreatedAt), string(raw))
}

// Modqueue lists pending entries oldest first. A non-positive limit
// returns everything.
func (k *Keeper) Modqueue(ctx context.Context, siteID string, limit int64) ([]ModqueueEntry, error) {
	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}
	raws, err := k.rdb.ZRangeWithScores(ctx, models.KeySiteModqueue(siteID), 0, stop)
	if err != nil {
		return nil, err
	}
	entries := make([]ModqueueEntry, 0, len(raws))
	for _, z := range raws {
		s, ok := z.Member.(string)
		if !ok {
			continue
		}
		var e ModqueueEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ModqueueResolve removes the entry for a comment after approve/reject.
// The zset is scanned because members embed the full entry.
func (k *Keeper) ModqueueResolve(ctx context.Context, siteID, commentID string) error {
	raws, err := k.rdb.ZRangeWithScores(ctx, models.KeySiteModqueue(siteID), 0, -1)
	if err != nil {
		return err
	}
	for _, z := range raws {
		s, ok := z.Member.(string)
		if !ok {
			continue
		}
		var e ModqueueEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			continue
		}
		if e.CommentID == commentID {
			return k.rdb.ZRem(ctx, models.KeySiteModqueue(siteID), s)
		}
	}
	return nil
}

// Reports

// ReportCreated appends a report to the site report log.
func (k *Keeper) ReportCreated(ctx context.Context, siteID string, r *models.Report) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return k.rdb.ZAdd(ctx, models.KeySiteReports(siteID), float64(r.CreatedAt), string(raw))
}

// Reports lists reports newest last, up to limit.
func (k *Keeper) Reports(ctx context.Context, siteID string, limit int64) ([]models.Report, error) {
	raws, err := k.rdb.ZRangeWithScores(ctx, models.KeySiteReports(siteID), 0, limit-1)
	if err != nil {
		return nil, err
	}
	out := make([]models.Report, 0, len(raws))
	for _, z := range raws {
		s, ok := z.Member.(string)
		if !ok {
			continue
		}
		var r models.Report
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ReportsResolve drops every report that targets a comment, used once a
// moderator has acted on it.
func (k *Keeper) ReportsResolve(ctx context.Context, siteID, commentID string) error {
	raws, err := k.rdb.ZRangeWithScores(ctx, models.KeySiteReports(siteID), 0, -1)
	if err != nil {
		return err
	}
	for _, z := range raws {
		s, ok := z.Member.(string)
		if !ok {
			continue
		}
		var r models.Report
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			continue
		}
		if r.CommentID == commentID {
			if err := k.rdb.ZRem(ctx, models.KeySiteReports(siteID), s); err != nil {
				return err
			}
		}
	}
	return nil
}

// Blocks. Both directions are kept so erasure can walk back references.

func (k *Keeper) Block(ctx context.Context, userID, targetID string) error {
	if userID == targetID {
		return apperrors.BadRequest("cannot block yourself")
	}
	if err := k.rdb.SAdd(ctx, models.KeyUserBlocked(userID), targetID); err != nil {
		return err
	}
	return k.rdb.SAdd(ctx, models.KeyUserBlockedBy(targetID), userID)
}

func (k *Keeper) Unblock(ctx context.Context, userID, targetID string) error {
	if err := k.rdb.SRem(ctx, models.KeyUserBlocked(userID), targetID); err != nil {
		return err
	}
	return k.rdb.SRem(ctx, models.KeyUserBlockedBy(targetID), userID)
}

// BlockedSet returns the ids the user has blocked, as a lookup map.
func (k *Keeper) BlockedSet(ctx context.Context, userID string) (map[string]bool, error) {
	if userID == "" {
		return nil, nil
	}
	ids, err := k.rdb.SMembers(ctx, models.KeyUserBlocked(userID))
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// Roles. Membership sets rank admin over moderator over blocked; a user in
// no set is a plain user.

func (k *Keeper) ResolveRole(ctx context.Context, siteID, userID string) (models.Role, error) {
	if userID == "" || userID == models.AnonymousUserID {
		return models.RoleUser, nil
	}
	if ok, err := k.rdb.SIsMember(ctx, models.KeySiteAdmins(siteID), userID); err != nil {
		return models.RoleUser, err
	} else if ok {
		return models.RoleAdmin, nil
	}
	if ok, err := k.rdb.SIsMember(ctx, models.KeySiteModerators(siteID), userID); err != nil {
		return models.RoleUser, err
	} else if ok {
		return models.RoleModerator, nil
	}
	if ok, err := k.rdb.SIsMember(ctx, models.KeySiteBlocked(siteID), userID); err != nil {
		return models.RoleUser, err
	} else if ok {
		return models.RoleBlocked, nil
	}
	return models.RoleUser, nil
}

func (k *Keeper) SetRole(ctx context.Context, siteID, userID string, role models.Role) error {
	// Clear existing membership first so a user sits in one set at most.
	if err := k.rdb.SRem(ctx, models.KeySiteAdmins(siteID), userID); err != nil {
		return err
	}
	if err := k.rdb.SRem(ctx, models.KeySiteModerators(siteID), userID); err != nil {
		return err
	}
	if err := k.rdb.SRem(ctx, models.KeySiteBlocked(siteID), userID); err != nil {
		return err
	}
	switch role {
	case models.RoleAdmin:
		return k.rdb.SAdd(ctx, models.KeySiteAdmins(siteID), userID)
	case models.RoleModerator:
		return k.rdb.SAdd(ctx, models.KeySiteModerators(siteID), userID)
	case models.RoleBlocked:
		return k.rdb.SAdd(ctx, models.KeySiteBlocked(siteID), userID)
	}
	return nil
}

func (k *Keeper) Shadowban(ctx context.Context, siteID, userID string) error {
	return k.rdb.SAdd(ctx, models.KeySiteShadowbanned(siteID), userID)
}

func (k *Keeper) Unshadowban(ctx context.Context, siteID, userID string) error {
	return k.rdb.SRem(ctx, models.KeySiteShadowbanned(siteID), userID)
}

func (k *Keeper) IsShadowbanned(ctx context.Context, siteID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	return k.rdb.SIsMember(ctx, models.KeySiteShadowbanned(siteID), userID)
}

// ShadowbannedSet returns the site's shadowbanned ids as a lookup map.
func (k *Keeper) ShadowbannedSet(ctx context.Context, siteID string) (map[string]bool, error) {
	ids, err := k.rdb.SMembers(ctx, models.KeySiteShadowbanned(siteID))
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// Page locks (moderation feature, distinct from the write lock): a locked
// page rejects new comments and votes.

func (k *Keeper) LockPage(ctx context.Context, siteID, pageID string) error {
	return k.rdb.SAdd(ctx, models.KeySiteLockedPages(siteID), pageID)
}

func (k *Keeper) UnlockPage(ctx context.Context, siteID, pageID string) error {
	return k.rdb.SRem(ctx, models.KeySiteLockedPages(siteID), pageID)
}

func (k *Keeper) IsPageLocked(ctx context.Context, siteID, pageID string) (bool, error) {
	return k.rdb.SIsMember(ctx, models.KeySiteLockedPages(siteID), pageID)
}

// Notifications: a capped zset per user, written when someone replies to
// one of their comments.

// Notification is one entry in a user's notification feed.
type Notification struct {
	Type      string      `json:"type"`
	PageID    string      `json:"page_id"`
	CommentID string      `json:"comment_id"`
	Path      models.Path `json:"path"`
	FromID    string      `json:"from_id"`
	FromName  string      `json:"from_name"`
	Excerpt   string      `json:"excerpt,omitempty"`
	CreatedAt int64       `json:"created_at"`
}

const notificationCap = 100

// truncateExcerpt cuts text to at most max bytes without splitting a
// multi-byte rune.
func truncateExcerpt(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// NotifyReply records a reply notification for the parent comment's
// author. Self-replies and replies to sentinels notify nobody.
func (k *Keeper) NotifyReply(ctx context.Context, parentAuthorID, pageID string, path models.Path, reply *models.TreeComment) error {
	if parentAuthorID == reply.AuthorID ||
		parentAuthorID == models.DeletedUserID ||
		parentAuthorID == models.AnonymousUserID {
		return nil
	}
	excerpt := truncateExcerpt(reply.Text, 140)
	n := Notification{
		Type:      "reply",
		PageID:    pageID,
		CommentID: reply.ID,
		Path:      path,
		FromID:    reply.AuthorID,
		FromName:  reply.AuthorName,
		Excerpt:   excerpt,
		CreatedAt: reply.CreatedAt,
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	key := models.KeyUserNotifications(parentAuthorID)
	if err := k.rdb.ZAdd(ctx, key, float64(n.CreatedAt), string(raw)); err != nil {
		return err
	}
	// Trim the feed; only the newest entries are kept.
	card, err := k.rdb.ZCard(ctx, key)
	if err == nil && card > notificationCap {
		_ = k.rdb.Raw().ZRemRangeByRank(ctx, key, 0, card-notificationCap-1).Err()
	}
	return nil
}

// Notifications lists the newest entries first.
func (k *Keeper) Notifications(ctx context.Context, userID string, limit int64) ([]Notification, error) {
	raws, err := k.rdb.Raw().ZRevRangeWithScores(ctx, models.KeyUserNotifications(userID), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(raws))
	for _, z := range raws {
		s, ok := z.Member.(string)
		if !ok {
			continue
		}
		var n Notification
		if err := json.Unmarshal([]byte(s), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// ClearNotifications empties the feed.
func (k *Keeper) ClearNotifications(ctx context.Context, userID string) error {
	return k.rdb.Del(ctx, models.KeyUserNotifications(userID))
}

// Analytics: hour-bucketed site view counters and unique-visitor sets,
// fed by the fanout batcher and read by the admin dashboard.

func (k *Keeper) RecordView(ctx context.Context, siteID string) error {
	_, err := k.rdb.IncrBy(ctx, models.KeySiteViews(siteID, models.HourBucket(time.Now())), 1)
	return err
}

// ViewCounts returns the per-hour view totals for the trailing window.
func (k *Keeper) ViewCounts(ctx context.Context, siteID string, hours int) (map[string]int64, error) {
	out := make(map[string]int64, hours)
	now := time.Now()
	for i := 0; i < hours; i++ {
		bucket := models.HourBucket(now.Add(-time.Duration(i) * time.Hour))
		raw, found, err := k.rdb.Get(ctx, models.KeySiteViews(siteID, bucket))
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out[bucket] = n
	}
	return out, nil
}

// VisitorCounts returns per-hour unique-visitor counts for the trailing
// window, from the sets the fanout batcher maintains.
func (k *Keeper) VisitorCounts(ctx context.Context, siteID string, hours int) (map[string]int64, error) {
	out := make(map[string]int64, hours)
	now := time.Now()
	for i := 0; i < hours; i++ {
		bucket := models.HourBucket(now.Add(-time.Duration(i) * time.Hour))
		n, err := k.rdb.SCard(ctx, models.KeySiteVisitors(siteID, bucket))
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out[bucket] = n
		}
	}
	return out, nil
}
