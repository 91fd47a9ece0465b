package batcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/models"
)

func newTestBatcher(t *testing.T) (*Batcher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := New(cache.NewRedisClientFromExisting(client), 5*time.Millisecond)
	t.Cleanup(b.Close)
	return b, mr
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestPresenceJoinAndLeave(t *testing.T) {
	b, mr := newTestBatcher(t)
	key := models.KeyPagePresence("page-1")

	b.PresenceJoin("page-1", "alice")
	b.PresenceJoin("page-1", "bob")
	waitFor(t, func() bool {
		members, err := mr.SMembers(key)
		return err == nil && len(members) == 2
	})

	ttl := mr.TTL(key)
	assert.Greater(t, ttl, time.Duration(0), "presence keys self-expire")

	b.PresenceLeave("page-1", "alice")
	waitFor(t, func() bool {
		ok, err := mr.SIsMember(key, "alice")
		return err == nil && !ok
	})
	ok, err := mr.SIsMember(key, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPresenceCoalescesWithinWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	// A long interval keeps both ops in the same window.
	b := New(cache.NewRedisClientFromExisting(client), time.Hour)

	b.PresenceJoin("page-1", "alice")
	b.PresenceLeave("page-1", "alice")
	b.Close() // drains the queue

	ok, err := mr.SIsMember(models.KeyPagePresence("page-1"), "alice")
	if !errors.Is(err, miniredis.ErrKeyNotFound) {
		// Real Redis treats a missing key as an empty set; miniredis's
		// direct API errors instead.
		require.NoError(t, err)
	}
	assert.False(t, ok, "join then leave in one window nets to leave")
}

func TestTypingSetAndClear(t *testing.T) {
	b, mr := newTestBatcher(t)
	key := models.KeyPageTyping("page-1")

	b.TypingSet("page-1", "alice", "")
	waitFor(t, func() bool {
		members, err := mr.ZMembers(key)
		return err == nil && len(members) == 1
	})

	score, err := mr.ZScore(key, "alice")
	require.NoError(t, err)
	assert.Greater(t, int64(score), time.Now().UnixMilli(), "typing scores are future expiries")

	b.TypingClear("page-1", "alice", "")
	waitFor(t, func() bool {
		members, _ := mr.ZMembers(key)
		return len(members) == 0
	})
}

func TestTypingCarriesReplyTarget(t *testing.T) {
	b, mr := newTestBatcher(t)
	key := models.KeyPageTyping("page-1")

	b.TypingSet("page-1", "alice", "c42")
	waitFor(t, func() bool {
		members, err := mr.ZMembers(key)
		return err == nil && len(members) == 1 && members[0] == "alice|c42"
	})

	// Clearing with the matching target removes the entry.
	b.TypingClear("page-1", "alice", "c42")
	waitFor(t, func() bool {
		members, _ := mr.ZMembers(key)
		return len(members) == 0
	})
}

func TestTypingExpiredSignalsPruned(t *testing.T) {
	b, mr := newTestBatcher(t)
	key := models.KeyPageTyping("page-1")

	// A stale score from a crashed writer.
	mr.ZAdd(key, float64(time.Now().Add(-time.Minute).UnixMilli()), "ghost")

	// Any typing activity on the page prunes lapsed signals.
	b.TypingSet("page-1", "alice", "")
	waitFor(t, func() bool {
		members, _ := mr.ZMembers(key)
		return len(members) == 1 && members[0] == "alice"
	})
}

func TestIncrMergesPerKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := New(cache.NewRedisClientFromExisting(client), time.Hour)

	for i := 0; i < 5; i++ {
		b.Incr("counter:a", 1)
	}
	b.Incr("counter:b", 2)
	b.Close()

	got, err := mr.Get("counter:a")
	require.NoError(t, err)
	assert.Equal(t, "5", got, "five increments collapse into one INCRBY")
	got, err = mr.Get("counter:b")
	require.NoError(t, err)
	assert.Equal(t, "2", got)
}

func TestPresenceCount(t *testing.T) {
	b, mr := newTestBatcher(t)
	key := models.KeyPagePresence("page-1")
	mr.SAdd(key, "a", "b", "c")

	n, err := b.PresenceCount(context.Background(), "page-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestPresenceCountCancelled(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := New(cache.NewRedisClientFromExisting(client), time.Hour)
	t.Cleanup(b.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.PresenceCount(ctx, "page-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseDrainsAndIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := New(cache.NewRedisClientFromExisting(client), time.Hour)

	b.PresenceJoin("page-1", "alice")
	b.Close()
	b.Close()

	ok, err := mr.SIsMember(models.KeyPagePresence("page-1"), "alice")
	require.NoError(t, err)
	assert.True(t, ok, "queued ops reach Redis before Close returns")

	// After draining, reads bypass the queue instead of hanging.
	n, err := b.PresenceCount(context.Background(), "page-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestUniqueCollapsesWithinWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := New(cache.NewRedisClientFromExisting(client), time.Hour)

	b.Unique("visitors:h1", "alice")
	b.Unique("visitors:h1", "alice")
	b.Unique("visitors:h1", "bob")
	b.Close()

	members, err := mr.SMembers("visitors:h1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)
	assert.Greater(t, mr.TTL("visitors:h1"), time.Duration(0), "uniques sets self-expire")
}

func TestPresenceMembers(t *testing.T) {
	b, mr := newTestBatcher(t)
	mr.SAdd(models.KeyPagePresence("page-1"), "alice", "bob")

	members, err := b.PresenceMembers(context.Background(), "page-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)
}

func TestGetMissingKey(t *testing.T) {
	b, _ := newTestBatcher(t)

	_, found, err := b.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found, "a pipelined GET miss is not an error")
}

func TestGetAndFields(t *testing.T) {
	b, mr := newTestBatcher(t)
	require.NoError(t, mr.Set("apikey:pk_x:site", "site-1"))
	mr.HSet("user:u1", "id", "u1", "name", "alice")

	val, found, err := b.Get(context.Background(), "apikey:pk_x:site")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "site-1", val)

	fields, err := b.Fields(context.Background(), "user:u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", fields["name"])
}

func TestSnapshotSeesSameWindowJoin(t *testing.T) {
	b, _ := newTestBatcher(t)

	// A join queued before the read lands in the flush that serves it, so
	// a fresh subscriber appears in its own snapshot.
	b.PresenceJoin("page-1", "alice")
	members, err := b.PresenceMembers(context.Background(), "page-1")
	require.NoError(t, err)
	assert.Contains(t, members, "alice")
}

func TestPublish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sub := client.Subscribe(context.Background(), "events:page:page-1")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	b := New(cache.NewRedisClientFromExisting(client), 5*time.Millisecond)
	t.Cleanup(b.Close)
	b.Publish("events:page:page-1", `{"type":"test"}`)

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, `{"type":"test"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("published message never arrived")
	}
}
