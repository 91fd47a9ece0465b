package indexes

import (
	"context"

	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/logger"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/pagetree"
	"go.uber.org/zap"
)

// Eraser implements account erasure: every trace of a user is removed or
// tombstoned while other people's threads stay intact.
type Eraser struct {
	rdb    *cache.RedisClient
	keeper *Keeper
	pages  *pagetree.Engine
}

func NewEraser(rdb *cache.RedisClient, keeper *Keeper, pages *pagetree.Engine) *Eraser {
	return &Eraser{rdb: rdb, keeper: keeper, pages: pages}
}

// ErasureResult reports what the erasure touched.
type ErasureResult struct {
	CommentsDeleted int `json:"comments_deleted"`
	VotesDeleted    int `json:"votes_deleted"`
}

// Erase removes a user: authored comments become tombstones, cast votes
// are reversed (tallies and karma restored), identity indexes and block
// lists are cleared, and the user record itself is deleted.
func (e *Eraser) Erase(ctx context.Context, userID string) (*ErasureResult, error) {
	fields, err := e.rdb.HGetAll(ctx, models.KeyUser(userID))
	if err != nil {
		return nil, apperrors.ServiceUnavailable("user store").WithCause(err)
	}
	user := models.UserFromHash(fields)
	if user == nil {
		return nil, apperrors.NotFound("user")
	}

	res := &ErasureResult{}

	if err := e.eraseComments(ctx, userID, res); err != nil {
		return nil, err
	}
	if err := e.reverseVotes(ctx, userID, res); err != nil {
		return nil, err
	}
	if err := e.clearBlockLists(ctx, userID); err != nil {
		return nil, err
	}
	if err := e.clearSiteSets(ctx, userID); err != nil {
		return nil, err
	}

	// Identity indexes, including the provider and wallet entries the
	// user hash records.
	if user.Email != "" {
		_ = e.rdb.Del(ctx, models.KeyEmailIndex(user.Email))
	}
	if user.Phone != "" {
		_ = e.rdb.Del(ctx, models.KeyPhoneIndex(user.Phone))
	}
	if user.Name != "" {
		_ = e.rdb.Del(ctx, models.KeyNameIndex(user.Name))
	}
	for _, identity := range user.Identities {
		if key, ok := models.IdentityIndexKey(identity); ok {
			_ = e.rdb.Del(ctx, key)
		}
	}

	if err := e.rdb.Del(ctx,
		models.KeyUser(userID),
		models.KeyUserPassword(userID),
		models.KeyUserComments(userID),
		models.KeyUserVotes(userID),
		models.KeyUserNotifications(userID),
	); err != nil {
		return nil, apperrors.ServiceUnavailable("user store").WithCause(err)
	}

	logger.Log.Info("user erased",
		logger.WithUserID(userID),
		zap.Int("comments_deleted", res.CommentsDeleted),
		zap.Int("votes_deleted", res.VotesDeleted),
	)
	return res, nil
}

// eraseComments tombstones every comment the user authored, one locked
// mutation per page.
func (e *Eraser) eraseComments(ctx context.Context, userID string, res *ErasureResult) error {
	commentIDs, err := e.rdb.SMembers(ctx, models.KeyUserComments(userID))
	if err != nil {
		return apperrors.ServiceUnavailable("user store").WithCause(err)
	}

	pageSet := make(map[string]bool)
	for _, cid := range commentIDs {
		pageID, found, err := e.keeper.PageForComment(ctx, cid)
		if err != nil {
			return apperrors.ServiceUnavailable("user store").WithCause(err)
		}
		if found {
			pageSet[pageID] = true
		}
	}

	for pageID := range pageSet {
		_, err := e.pages.Mutate(ctx, pageID, func(_ context.Context, tree *models.PageTree) error {
			pagetree.Walk(tree, func(c *models.TreeComment, _ models.Path) {
				if c.AuthorID == userID {
					c.Tombstone()
					res.CommentsDeleted++
				}
			})
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// reverseVotes pulls every vote the user cast back out of the documents,
// restoring the affected authors' karma.
func (e *Eraser) reverseVotes(ctx context.Context, userID string, res *ErasureResult) error {
	commentIDs, err := e.rdb.SMembers(ctx, models.KeyUserVotes(userID))
	if err != nil {
		return apperrors.ServiceUnavailable("user store").WithCause(err)
	}

	pageSet := make(map[string]bool)
	for _, cid := range commentIDs {
		pageID, found, err := e.keeper.PageForComment(ctx, cid)
		if err != nil {
			return apperrors.ServiceUnavailable("user store").WithCause(err)
		}
		if found {
			pageSet[pageID] = true
		}
		_ = e.rdb.Del(ctx, models.KeyVote(userID, cid))
	}

	for pageID := range pageSet {
		_, err := e.pages.Mutate(ctx, pageID, func(ctx context.Context, tree *models.PageTree) error {
			pagetree.Walk(tree, func(c *models.TreeComment, _ models.Path) {
				var dKarma int64
				switch {
				case c.HasUpvoter(userID):
					c.Upvotes--
					c.Upvoters = without(c.Upvoters, userID)
					dKarma = -1
				case c.HasDownvoter(userID):
					c.Downvotes--
					c.Downvoters = without(c.Downvoters, userID)
					dKarma = 1
				default:
					return
				}
				res.VotesDeleted++
				if c.AuthorID != userID && !c.IsDeleted() && !c.IsAnonymous() {
					if _, err := e.rdb.HIncrBy(ctx, models.KeyUser(c.AuthorID), "karma", dKarma); err == nil {
						c.Karma += dKarma
					}
				}
			})
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// clearBlockLists removes the user from both sides of every block edge.
func (e *Eraser) clearBlockLists(ctx context.Context, userID string) error {
	blocked, err := e.rdb.SMembers(ctx, models.KeyUserBlocked(userID))
	if err != nil {
		return apperrors.ServiceUnavailable("user store").WithCause(err)
	}
	for _, id := range blocked {
		_ = e.rdb.SRem(ctx, models.KeyUserBlockedBy(id), userID)
	}
	blockedBy, err := e.rdb.SMembers(ctx, models.KeyUserBlockedBy(userID))
	if err != nil {
		return apperrors.ServiceUnavailable("user store").WithCause(err)
	}
	for _, id := range blockedBy {
		_ = e.rdb.SRem(ctx, models.KeyUserBlocked(id), userID)
	}
	return e.rdb.Del(ctx, models.KeyUserBlocked(userID), models.KeyUserBlockedBy(userID))
}

// clearSiteSets removes the user from every site's role and moderation
// sets. Erasure is rare, so the SCAN cost is acceptable.
func (e *Eraser) clearSiteSets(ctx context.Context, userID string) error {
	patterns := []string{
		"site:*:admins",
		"site:*:moderators",
		"site:*:blocked",
		"site:*:shadowbanned",
	}
	for _, pattern := range patterns {
		var cursor uint64
		for {
			keys, next, err := e.rdb.Raw().Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				return apperrors.ServiceUnavailable("site store").WithCause(err)
			}
			for _, key := range keys {
				_ = e.rdb.SRem(ctx, key, userID)
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return nil
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
