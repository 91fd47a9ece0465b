package indexes

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/models"
)

func newTestKeeper(t *testing.T) (*Keeper, *cache.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rdb := cache.NewRedisClientFromExisting(client)
	return NewKeeper(rdb), rdb, mr
}

func TestCommentCreated(t *testing.T) {
	k, _, mr := newTestKeeper(t)
	ctx := context.Background()

	c := &models.TreeComment{ID: "c1", AuthorID: "u1", Text: "hi", CreatedAt: 1000}
	require.NoError(t, k.CommentCreated(ctx, "site-1", "page-1", models.Path{"c1"}, c))

	ok, err := mr.SIsMember(models.KeyUserComments("u1"), "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	page, err := mr.Get(models.KeyCommentPage("c1"))
	require.NoError(t, err)
	assert.Equal(t, "page-1", page)

	queue, err := k.Modqueue(ctx, "site-1", 10)
	require.NoError(t, err)
	assert.Empty(t, queue, "approved comments skip the modqueue")
}

func TestCommentCreatedAnonymous(t *testing.T) {
	k, _, mr := newTestKeeper(t)
	ctx := context.Background()

	c := &models.TreeComment{ID: "c1", AuthorID: models.AnonymousUserID, Text: "hi"}
	require.NoError(t, k.CommentCreated(ctx, "site-1", "page-1", models.Path{"c1"}, c))

	assert.False(t, mr.Exists(models.KeyUserComments(models.AnonymousUserID)),
		"anonymous comments are not attributed to the sentinel")
	assert.True(t, mr.Exists(models.KeyCommentPage("c1")))
}

func TestModqueue(t *testing.T) {
	k, _, _ := newTestKeeper(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c := &models.TreeComment{
			ID:        fmt.Sprintf("c%d", i),
			AuthorID:  "u1",
			Text:      "pending",
			Status:    models.StatusPending,
			CreatedAt: int64(1000 + i),
		}
		require.NoError(t, k.CommentCreated(ctx, "site-1", "page-1", models.Path{c.ID}, c))
	}

	queue, err := k.Modqueue(ctx, "site-1", 2)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, "c0", queue[0].CommentID, "oldest first")

	all, err := k.Modqueue(ctx, "site-1", -1)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, k.ModqueueResolve(ctx, "site-1", "c1"))
	all, err = k.Modqueue(ctx, "site-1", -1)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, e := range all {
		assert.NotEqual(t, "c1", e.CommentID)
	}
}

func TestReports(t *testing.T) {
	k, _, _ := newTestKeeper(t)
	ctx := context.Background()

	for i, cid := range []string{"c1", "c1", "c2"} {
		r := &models.Report{
			ID:         fmt.Sprintf("r%d", i),
			ReporterID: "u1",
			PageID:     "page-1",
			CommentID:  cid,
			Path:       models.Path{cid},
			Reason:     "spam",
			CreatedAt:  int64(1000 + i),
		}
		require.NoError(t, k.ReportCreated(ctx, "site-1", r))
	}

	reports, err := k.Reports(ctx, "site-1", 10)
	require.NoError(t, err)
	assert.Len(t, reports, 3)

	require.NoError(t, k.ReportsResolve(ctx, "site-1", "c1"))
	reports, err = k.Reports(ctx, "site-1", 10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "c2", reports[0].CommentID)
}

func TestBlockSymmetry(t *testing.T) {
	k, _, mr := newTestKeeper(t)
	ctx := context.Background()

	require.NoError(t, k.Block(ctx, "alice", "bob"))

	ok, err := mr.SIsMember(models.KeyUserBlocked("alice"), "bob")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = mr.SIsMember(models.KeyUserBlockedBy("bob"), "alice")
	require.NoError(t, err)
	assert.True(t, ok, "reverse edge recorded for erasure")

	set, err := k.BlockedSet(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, set["bob"])

	require.NoError(t, k.Unblock(ctx, "alice", "bob"))
	set, err = k.BlockedSet(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestBlockSelf(t *testing.T) {
	k, _, _ := newTestKeeper(t)
	err := k.Block(context.Background(), "alice", "alice")
	assert.Error(t, err)
}

func TestBlockedSetAnonymousViewer(t *testing.T) {
	k, _, _ := newTestKeeper(t)
	set, err := k.BlockedSet(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, set)
}

func TestRoles(t *testing.T) {
	k, _, _ := newTestKeeper(t)
	ctx := context.Background()

	role, err := k.ResolveRole(ctx, "site-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, role)

	require.NoError(t, k.SetRole(ctx, "site-1", "u1", models.RoleModerator))
	role, err = k.ResolveRole(ctx, "site-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleModerator, role)

	// Promotion moves the membership, it does not stack.
	require.NoError(t, k.SetRole(ctx, "site-1", "u1", models.RoleAdmin))
	role, err = k.ResolveRole(ctx, "site-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, role)

	require.NoError(t, k.SetRole(ctx, "site-1", "u1", models.RoleBlocked))
	role, err = k.ResolveRole(ctx, "site-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleBlocked, role)

	require.NoError(t, k.SetRole(ctx, "site-1", "u1", models.RoleUser))
	role, err = k.ResolveRole(ctx, "site-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, role)

	// Sentinels and anonymous viewers are plain users everywhere.
	role, err = k.ResolveRole(ctx, "site-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, role)
	role, err = k.ResolveRole(ctx, "site-1", models.AnonymousUserID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, role)
}

func TestShadowban(t *testing.T) {
	k, _, _ := newTestKeeper(t)
	ctx := context.Background()

	banned, err := k.IsShadowbanned(ctx, "site-1", "u1")
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, k.Shadowban(ctx, "site-1", "u1"))
	banned, err = k.IsShadowbanned(ctx, "site-1", "u1")
	require.NoError(t, err)
	assert.True(t, banned)

	set, err := k.ShadowbannedSet(ctx, "site-1")
	require.NoError(t, err)
	assert.True(t, set["u1"])

	require.NoError(t, k.Unshadowban(ctx, "site-1", "u1"))
	banned, err = k.IsShadowbanned(ctx, "site-1", "u1")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestPageLocks(t *testing.T) {
	k, _, _ := newTestKeeper(t)
	ctx := context.Background()

	locked, err := k.IsPageLocked(ctx, "site-1", "page-1")
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, k.LockPage(ctx, "site-1", "page-1"))
	locked, err = k.IsPageLocked(ctx, "site-1", "page-1")
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, k.UnlockPage(ctx, "site-1", "page-1"))
	locked, err = k.IsPageLocked(ctx, "site-1", "page-1")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestNotifyReply(t *testing.T) {
	k, _, _ := newTestKeeper(t)
	ctx := context.Background()

	reply := &models.TreeComment{
		ID: "c2", AuthorID: "u2", AuthorName: "replier",
		Text: "a reply", CreatedAt: 2000,
	}
	require.NoError(t, k.NotifyReply(ctx, "u1", "page-1", models.Path{"c1", "c2"}, reply))

	items, err := k.Notifications(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "reply", items[0].Type)
	assert.Equal(t, "u2", items[0].FromID)
	assert.Equal(t, "a reply", items[0].Excerpt)
	assert.Equal(t, models.Path{"c1", "c2"}, items[0].Path)

	require.NoError(t, k.ClearNotifications(ctx, "u1"))
	items, err = k.Notifications(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNotifyReplySkips(t *testing.T) {
	k, _, _ := newTestKeeper(t)
	ctx := context.Background()

	self := &models.TreeComment{ID: "c2", AuthorID: "u1", Text: "self reply", CreatedAt: 1}
	require.NoError(t, k.NotifyReply(ctx, "u1", "page-1", models.Path{"c1", "c2"}, self))

	other := &models.TreeComment{ID: "c3", AuthorID: "u2", Text: "reply", CreatedAt: 2}
	require.NoError(t, k.NotifyReply(ctx, models.DeletedUserID, "page-1", models.Path{"c1", "c3"}, other))
	require.NoError(t, k.NotifyReply(ctx, models.AnonymousUserID, "page-1", models.Path{"c1", "c3"}, other))

	items, err := k.Notifications(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, items, "self-replies and sentinel parents notify nobody")
}

func TestNotificationExcerptTruncated(t *testing.T) {
	k, _, _ := newTestKeeper(t)
	ctx := context.Background()

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	reply := &models.TreeComment{ID: "c2", AuthorID: "u2", Text: string(long), CreatedAt: 1}
	require.NoError(t, k.NotifyReply(ctx, "u1", "page-1", models.Path{"c1", "c2"}, reply))

	items, err := k.Notifications(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Len(t, items[0].Excerpt, 140)
}

func TestNotificationExcerptKeepsRunesIntact(t *testing.T) {
	k, _, _ := newTestKeeper(t)
	ctx := context.Background()

	// The two-byte é straddles the 140-byte cut.
	text := strings.Repeat("x", 139) + "éclair"
	reply := &models.TreeComment{ID: "c2", AuthorID: "u2", Text: text, CreatedAt: 1}
	require.NoError(t, k.NotifyReply(ctx, "u1", "page-1", models.Path{"c1", "c2"}, reply))

	items, err := k.Notifications(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, utf8.ValidString(items[0].Excerpt))
	assert.LessOrEqual(t, len(items[0].Excerpt), 140)
}

func TestNotificationFeedCapped(t *testing.T) {
	k, _, _ := newTestKeeper(t)
	ctx := context.Background()

	for i := 0; i < notificationCap+20; i++ {
		reply := &models.TreeComment{
			ID:       fmt.Sprintf("c%d", i),
			AuthorID: "u2", Text: "reply",
			CreatedAt: int64(i),
		}
		require.NoError(t, k.NotifyReply(ctx, "u1", "page-1", models.Path{"root", reply.ID}, reply))
	}

	items, err := k.Notifications(ctx, "u1", int64(notificationCap+20))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(items), notificationCap)
	assert.Equal(t, fmt.Sprintf("c%d", notificationCap+19), items[0].CommentID, "newest first")
}

func TestViewCounts(t *testing.T) {
	k, _, _ := newTestKeeper(t)
	ctx := context.Background()

	require.NoError(t, k.RecordView(ctx, "site-1"))
	require.NoError(t, k.RecordView(ctx, "site-1"))

	counts, err := k.ViewCounts(ctx, "site-1", 24)
	require.NoError(t, err)
	bucket := models.HourBucket(time.Now())
	assert.EqualValues(t, 2, counts[bucket])
}

func TestVisitorCounts(t *testing.T) {
	k, _, mr := newTestKeeper(t)
	ctx := context.Background()

	bucket := models.HourBucket(time.Now())
	mr.SAdd(models.KeySiteVisitors("site-1", bucket), "u1", "u2", "anon:x")

	counts, err := k.VisitorCounts(ctx, "site-1", 24)
	require.NoError(t, err)
	assert.EqualValues(t, 3, counts[bucket])
	assert.Len(t, counts, 1, "empty buckets are omitted")
}
