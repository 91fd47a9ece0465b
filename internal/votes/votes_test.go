package votes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/pagetree"
)

func newTestEngine(t *testing.T) (*Engine, *pagetree.Engine, *cache.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rdb := cache.NewRedisClientFromExisting(client)
	pages := pagetree.NewEngine(rdb)
	return NewEngine(rdb, pages), pages, rdb, mr
}

func seedComment(t *testing.T, pages *pagetree.Engine, authorID string) models.Path {
	t.Helper()
	path, err := pages.Create(context.Background(), "page-1", nil, &models.TreeComment{
		ID: "c1", AuthorID: authorID, AuthorName: "author", Text: "hello",
	})
	require.NoError(t, err)
	return path
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		prev   models.VoteState
		dir    models.VoteDirection
		next   models.VoteState
		dUp    int
		dDown  int
		dKarma int64
	}{
		{models.VoteNone, models.VoteUp, models.VoteStateUp, 1, 0, 1},
		{models.VoteNone, models.VoteDown, models.VoteStateDown, 0, 1, -1},
		{models.VoteStateUp, models.VoteUp, models.VoteNone, -1, 0, -1},
		{models.VoteStateUp, models.VoteDown, models.VoteStateDown, -1, 1, -2},
		{models.VoteStateDown, models.VoteDown, models.VoteNone, 0, -1, 1},
		{models.VoteStateDown, models.VoteUp, models.VoteStateUp, 1, -1, 2},
	}
	for _, tc := range cases {
		next, dUp, dDown, dKarma := transition(tc.prev, tc.dir)
		assert.Equal(t, tc.next, next, "%s + %s", tc.prev, tc.dir)
		assert.Equal(t, tc.dUp, dUp, "%s + %s upvote delta", tc.prev, tc.dir)
		assert.Equal(t, tc.dDown, dDown, "%s + %s downvote delta", tc.prev, tc.dir)
		assert.Equal(t, tc.dKarma, dKarma, "%s + %s karma delta", tc.prev, tc.dir)
	}
}

func isMember(t *testing.T, mr *miniredis.Miniredis, key, member string) bool {
	t.Helper()
	ok, err := mr.SIsMember(key, member)
	if errors.Is(err, miniredis.ErrKeyNotFound) {
		// Real Redis treats a missing key as an empty set; miniredis's
		// direct API errors instead.
		return false
	}
	require.NoError(t, err)
	return ok
}

func karma(t *testing.T, mr *miniredis.Miniredis, userID string) int64 {
	t.Helper()
	raw := mr.HGet(models.KeyUser(userID), "karma")
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	require.NoError(t, err)
	return n
}

func TestApplyFirstVote(t *testing.T) {
	e, pages, _, mr := newTestEngine(t)
	ctx := context.Background()
	path := seedComment(t, pages, "author-1")

	res, err := e.Apply(ctx, "page-1", path, "voter-1", models.VoteUp, false)
	require.NoError(t, err)
	assert.Equal(t, models.VoteNone, res.Prev)
	assert.Equal(t, models.VoteStateUp, res.Next)
	assert.Equal(t, 1, res.Comment.Upvotes)
	assert.EqualValues(t, 1, res.KarmaDelta)
	assert.True(t, res.Broadcast)

	assert.EqualValues(t, 1, karma(t, mr, "author-1"))

	// Bookkeeping keys.
	got, err := mr.Get(models.KeyVote("voter-1", "c1"))
	require.NoError(t, err)
	assert.Equal(t, "up", got)
	assert.True(t, isMember(t, mr, models.KeyUserVotes("voter-1"), "c1"))

	// Persisted in the document, not only in the returned copy.
	tree, err := pages.Load(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, 1, tree.Comments[0].Upvotes)
	assert.Equal(t, []string{"voter-1"}, tree.Comments[0].Upvoters)
}

func TestApplyToggleOff(t *testing.T) {
	e, pages, _, mr := newTestEngine(t)
	ctx := context.Background()
	path := seedComment(t, pages, "author-1")

	_, err := e.Apply(ctx, "page-1", path, "voter-1", models.VoteUp, false)
	require.NoError(t, err)
	res, err := e.Apply(ctx, "page-1", path, "voter-1", models.VoteUp, false)
	require.NoError(t, err)

	assert.Equal(t, models.VoteNone, res.Next)
	assert.Equal(t, 0, res.Comment.Upvotes)
	assert.EqualValues(t, 0, karma(t, mr, "author-1"))
	assert.False(t, mr.Exists(models.KeyVote("voter-1", "c1")))
	assert.False(t, isMember(t, mr, models.KeyUserVotes("voter-1"), "c1"))
}

func TestApplySwitchDirection(t *testing.T) {
	e, pages, _, mr := newTestEngine(t)
	ctx := context.Background()
	path := seedComment(t, pages, "author-1")

	_, err := e.Apply(ctx, "page-1", path, "voter-1", models.VoteUp, false)
	require.NoError(t, err)
	res, err := e.Apply(ctx, "page-1", path, "voter-1", models.VoteDown, false)
	require.NoError(t, err)

	assert.Equal(t, models.VoteStateDown, res.Next)
	assert.Equal(t, 0, res.Comment.Upvotes)
	assert.Equal(t, 1, res.Comment.Downvotes)
	assert.EqualValues(t, -1, karma(t, mr, "author-1"), "up then down nets -1")
	assert.Empty(t, res.Comment.Upvoters)
	assert.Equal(t, []string{"voter-1"}, res.Comment.Downvoters)
}

func TestApplySelfVoteNoKarma(t *testing.T) {
	e, pages, _, mr := newTestEngine(t)
	ctx := context.Background()
	path := seedComment(t, pages, "author-1")

	res, err := e.Apply(ctx, "page-1", path, "author-1", models.VoteUp, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Comment.Upvotes, "self-votes count in the tally")
	assert.Zero(t, res.KarmaDelta)
	assert.EqualValues(t, 0, karma(t, mr, "author-1"))
}

func TestApplyShadowVote(t *testing.T) {
	e, pages, _, mr := newTestEngine(t)
	ctx := context.Background()
	path := seedComment(t, pages, "author-1")

	res, err := e.Apply(ctx, "page-1", path, "voter-1", models.VoteUp, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Comment.Upvotes, "shadow votes update the document")
	assert.Zero(t, res.KarmaDelta, "shadow votes never touch karma")
	assert.EqualValues(t, 0, karma(t, mr, "author-1"))
	assert.False(t, res.Broadcast, "shadow votes must not broadcast")
}

func TestApplyAnonymousAuthorNoKarma(t *testing.T) {
	e, pages, _, mr := newTestEngine(t)
	ctx := context.Background()
	path := seedComment(t, pages, models.AnonymousUserID)

	res, err := e.Apply(ctx, "page-1", path, "voter-1", models.VoteUp, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Comment.Upvotes)
	assert.EqualValues(t, 0, karma(t, mr, models.AnonymousUserID))
	assert.Zero(t, res.KarmaDelta)
}

func TestApplyInvalidDirection(t *testing.T) {
	e, pages, _, _ := newTestEngine(t)
	path := seedComment(t, pages, "author-1")

	_, err := e.Apply(context.Background(), "page-1", path, "voter-1", "sideways", false)
	assert.Error(t, err)
}

func TestApplyPendingComment(t *testing.T) {
	e, pages, _, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := pages.Create(ctx, "page-1", nil, &models.TreeComment{
		ID: "c1", AuthorID: "author-1", Status: models.StatusPending,
	})
	require.NoError(t, err)

	_, err = e.Apply(ctx, "page-1", models.Path{"c1"}, "voter-1", models.VoteUp, false)
	assert.Error(t, err, "pending comments are not votable")
}

func TestApplyConcurrentVoters(t *testing.T) {
	e, pages, _, mr := newTestEngine(t)
	ctx := context.Background()
	path := seedComment(t, pages, "author-1")

	const voters = 10
	errs := make(chan error, voters)
	for i := 0; i < voters; i++ {
		go func(n int) {
			_, err := e.Apply(ctx, "page-1", path, fmt.Sprintf("voter-%d", n), models.VoteUp, false)
			errs <- err
		}(i)
	}
	for i := 0; i < voters; i++ {
		require.NoError(t, <-errs)
	}

	// The page lock serializes the mutations: no vote is lost and no
	// voter appears twice.
	tree, err := pages.Load(ctx, "page-1")
	require.NoError(t, err)
	c := tree.Comments[0]
	assert.Equal(t, voters, c.Upvotes)
	assert.Equal(t, 0, c.Downvotes)
	assert.Len(t, c.Upvoters, voters)
	seen := make(map[string]bool, voters)
	for _, id := range c.Upvoters {
		assert.False(t, seen[id], "voter %s recorded twice", id)
		seen[id] = true
	}
	assert.EqualValues(t, voters, karma(t, mr, "author-1"))
}

func TestReverse(t *testing.T) {
	e, pages, _, mr := newTestEngine(t)
	ctx := context.Background()
	path := seedComment(t, pages, "author-1")

	_, err := e.Apply(ctx, "page-1", path, "voter-1", models.VoteUp, false)
	require.NoError(t, err)
	require.EqualValues(t, 1, karma(t, mr, "author-1"))

	require.NoError(t, e.Reverse(ctx, "page-1", path, "voter-1"))

	tree, err := pages.Load(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, 0, tree.Comments[0].Upvotes)
	assert.Empty(t, tree.Comments[0].Upvoters)
	assert.EqualValues(t, 0, karma(t, mr, "author-1"), "karma restored on erasure")
	assert.False(t, mr.Exists(models.KeyVote("voter-1", "c1")))

	// Reversing a vote that does not exist is a no-op.
	assert.NoError(t, e.Reverse(ctx, "page-1", path, "voter-1"))
}
