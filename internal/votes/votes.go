// Package votes applies vote transitions to tree comments atomically with
// the author-karma and per-user vote bookkeeping they imply.
package votes

import (
	"context"

	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/pagetree"
)

// Engine executes votes inside the page lock so the tallies in the tree
// document, the per-user vote key, and the author's karma move together.
type Engine struct {
	rdb   *cache.RedisClient
	pages *pagetree.Engine
}

func NewEngine(rdb *cache.RedisClient, pages *pagetree.Engine) *Engine {
	return &Engine{rdb: rdb, pages: pages}
}

// Result describes one applied vote.
type Result struct {
	Comment    *models.TreeComment
	Prev       models.VoteState
	Next       models.VoteState
	KarmaDelta int64
	// Broadcast is false for shadow votes; the fanout must not announce
	// tally changes nobody else can see.
	Broadcast bool
}

// transition resolves (previous state, requested direction) into the new
// state and the tally and karma deltas. Voting the same direction twice
// toggles the vote off.
func transition(prev models.VoteState, dir models.VoteDirection) (next models.VoteState, dUp, dDown int, dKarma int64) {
	switch {
	case prev == models.VoteNone && dir == models.VoteUp:
		return models.VoteStateUp, 1, 0, 1
	case prev == models.VoteNone && dir == models.VoteDown:
		return models.VoteStateDown, 0, 1, -1
	case prev == models.VoteStateUp && dir == models.VoteUp:
		return models.VoteNone, -1, 0, -1
	case prev == models.VoteStateUp && dir == models.VoteDown:
		return models.VoteStateDown, -1, 1, -2
	case prev == models.VoteStateDown && dir == models.VoteDown:
		return models.VoteNone, 0, -1, 1
	default: // down -> up
		return models.VoteStateUp, 1, -1, 2
	}
}

// Apply records voterID's vote on the comment at path. Shadow votes (from
// shadowbanned voters) update the document like any other vote but never
// touch karma and are not broadcast. Self-votes count but earn no karma.
func (e *Engine) Apply(ctx context.Context, pageID string, path models.Path, voterID string, dir models.VoteDirection, shadow bool) (*Result, error) {
	if !dir.Valid() {
		return nil, apperrors.ValidationError("direction", "must be up or down")
	}

	var res *Result
	_, err := e.pages.Mutate(ctx, pageID, func(ctx context.Context, tree *models.PageTree) error {
		node, err := pagetree.FindByPath(tree, path)
		if err != nil {
			return err
		}
		if node.Status == models.StatusRejected || node.Status == models.StatusPending {
			return apperrors.NotFound("comment")
		}

		voteKey := models.KeyVote(voterID, node.ID)
		prev := models.VoteNone
		if raw, found, err := e.rdb.Get(ctx, voteKey); err != nil {
			return apperrors.ServiceUnavailable("vote store").WithCause(err)
		} else if found {
			prev = models.VoteState(raw)
		}

		next, dUp, dDown, dKarma := transition(prev, dir)

		node.Upvotes += dUp
		node.Downvotes += dDown
		node.Upvoters = removeID(node.Upvoters, voterID)
		node.Downvoters = removeID(node.Downvoters, voterID)
		switch next {
		case models.VoteStateUp:
			node.Upvoters = append(node.Upvoters, voterID)
		case models.VoteStateDown:
			node.Downvoters = append(node.Downvoters, voterID)
		}

		if next == models.VoteNone {
			if err := e.rdb.Del(ctx, voteKey); err != nil {
				return apperrors.ServiceUnavailable("vote store").WithCause(err)
			}
			if err := e.rdb.SRem(ctx, models.KeyUserVotes(voterID), node.ID); err != nil {
				return apperrors.ServiceUnavailable("vote store").WithCause(err)
			}
		} else {
			if err := e.rdb.Set(ctx, voteKey, string(next)); err != nil {
				return apperrors.ServiceUnavailable("vote store").WithCause(err)
			}
			if err := e.rdb.SAdd(ctx, models.KeyUserVotes(voterID), node.ID); err != nil {
				return apperrors.ServiceUnavailable("vote store").WithCause(err)
			}
		}

		// Karma flows to the author only for votes others can see, and
		// never for votes on your own comments or on tombstones.
		applied := int64(0)
		if !shadow && voterID != node.AuthorID && !node.IsDeleted() && !node.IsAnonymous() {
			if _, err := e.rdb.HIncrBy(ctx, models.KeyUser(node.AuthorID), "karma", dKarma); err != nil {
				return apperrors.ServiceUnavailable("user store").WithCause(err)
			}
			node.Karma += dKarma
			applied = dKarma
		}

		res = &Result{
			Comment:    node,
			Prev:       prev,
			Next:       next,
			KarmaDelta: applied,
			Broadcast:  !shadow,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Reverse undoes a stored vote during account erasure: the tally comes
// back out of the document and the author's karma is restored.
func (e *Engine) Reverse(ctx context.Context, pageID string, path models.Path, voterID string) error {
	_, err := e.pages.Mutate(ctx, pageID, func(ctx context.Context, tree *models.PageTree) error {
		node, err := pagetree.FindByPath(tree, path)
		if err != nil {
			return err
		}

		voteKey := models.KeyVote(voterID, node.ID)
		raw, found, err := e.rdb.Get(ctx, voteKey)
		if err != nil {
			return apperrors.ServiceUnavailable("vote store").WithCause(err)
		}
		if !found {
			return nil
		}

		var dKarma int64
		switch models.VoteState(raw) {
		case models.VoteStateUp:
			node.Upvotes--
			node.Upvoters = removeID(node.Upvoters, voterID)
			dKarma = -1
		case models.VoteStateDown:
			node.Downvotes--
			node.Downvoters = removeID(node.Downvoters, voterID)
			dKarma = 1
		}
		if voterID != node.AuthorID && !node.IsDeleted() && !node.IsAnonymous() {
			if _, err := e.rdb.HIncrBy(ctx, models.KeyUser(node.AuthorID), "karma", dKarma); err != nil {
				return apperrors.ServiceUnavailable("user store").WithCause(err)
			}
			node.Karma += dKarma
		}
		if err := e.rdb.Del(ctx, voteKey); err != nil {
			return apperrors.ServiceUnavailable("vote store").WithCause(err)
		}
		return nil
	})
	return err
}

func removeID(ids []string, id string) []string {
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
