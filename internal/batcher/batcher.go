// Package batcher coalesces the fanout's high-frequency Redis traffic
// (presence, typing, event publishes, counters) into periodic pipelines.
// Thousands of websocket clients would otherwise each issue their own
// round trips.
package batcher

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/logger"
	"github.com/threadkit/threadkit/internal/models"
	"go.uber.org/zap"
)

const (
	// DefaultFlushInterval bounds staleness: queued ops reach Redis
	// within one interval of being enqueued.
	DefaultFlushInterval = 20 * time.Millisecond

	// Presence keys self-expire so crashed fanout processes cannot leak
	// members forever; live clients re-add themselves on every flush the
	// hub performs.
	presenceTTL = 90 * time.Second

	// TypingTTL is how long a typing signal stays visible without renewal.
	TypingTTL = 5 * time.Second

	// Hour-bucketed analytics sets live for the admin reporting window.
	uniqueTTL = 48 * time.Hour
)

type publishOp struct {
	channel string
	payload string
}

type readKind int

const (
	readCount readKind = iota
	readMembers
	readGet
	readFields
)

type readReply struct {
	n       int64
	members []string
	val     string
	found   bool
	fields  map[string]string
	err     error
}

type readID struct {
	kind readKind
	key  string
}

type readReq struct {
	waiters []chan readReply
}

// Batcher merges writes by key and deduplicates reads within one flush
// window. Reads resolve through one-shot reply channels shared by every
// caller that asked for the same key in the same window.
type Batcher struct {
	rdb      *cache.RedisClient
	interval time.Duration

	mu sync.Mutex
	// presence[pageID][userID]: true join, false leave. Last write wins
	// inside a window, so a join+leave in the same 20ms nets to leave.
	presence map[string]map[string]bool
	// typing[pageID][member]: expiry score, or 0 for an explicit clear.
	// The member encodes the typist and their reply target.
	typing   map[string]map[string]int64
	incrs    map[string]int64
	uniques  map[string]map[string]struct{}
	pubs     []publishOp
	reads    map[readID]*readReq
	draining bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(rdb *cache.RedisClient, interval time.Duration) *Batcher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	b := &Batcher{
		rdb:      rdb,
		interval: interval,
		presence: make(map[string]map[string]bool),
		typing:   make(map[string]map[string]int64),
		incrs:    make(map[string]int64),
		uniques:  make(map[string]map[string]struct{}),
		reads:    make(map[readID]*readReq),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Batcher) loop() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.flush(context.Background())
		case <-b.stopCh:
			// Two-phase drain: the first flush clears what was queued
			// at stop time, the second catches anything enqueued while
			// the first was in flight.
			b.flush(context.Background())
			b.mu.Lock()
			b.draining = true
			b.mu.Unlock()
			b.flush(context.Background())
			close(b.doneCh)
			return
		}
	}
}

// Close stops the flush loop after draining queued ops.
func (b *Batcher) Close() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// PresenceJoin queues adding a user to a page's presence set.
func (b *Batcher) PresenceJoin(pageID, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.presence[pageID] == nil {
		b.presence[pageID] = make(map[string]bool)
	}
	b.presence[pageID][userID] = true
}

// PresenceLeave queues removing a user from a page's presence set.
func (b *Batcher) PresenceLeave(pageID, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.presence[pageID] == nil {
		b.presence[pageID] = make(map[string]bool)
	}
	b.presence[pageID][userID] = false
}

// typingMember encodes one typing entry; the reply target rides along so
// snapshot readers can render who is answering whom.
func typingMember(userID, replyTo string) string {
	if replyTo == "" {
		return userID
	}
	return userID + "|" + replyTo
}

// TypingSet queues a typing signal; it self-expires after TypingTTL.
func (b *Batcher) TypingSet(pageID, userID, replyTo string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.typing[pageID] == nil {
		b.typing[pageID] = make(map[string]int64)
	}
	b.typing[pageID][typingMember(userID, replyTo)] = time.Now().Add(TypingTTL).UnixMilli()
}

// TypingClear queues removal of a typing signal. The reply target must
// match the one the signal was set with.
func (b *Batcher) TypingClear(pageID, userID, replyTo string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.typing[pageID] == nil {
		b.typing[pageID] = make(map[string]int64)
	}
	b.typing[pageID][typingMember(userID, replyTo)] = 0
}

// Publish queues a pub/sub publish. Order among publishes is preserved.
func (b *Batcher) Publish(channel, payload string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubs = append(b.pubs, publishOp{channel: channel, payload: payload})
}

// Incr queues a counter increment, merged per key.
func (b *Batcher) Incr(key string, n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.incrs[key] += n
}

// Unique queues a member into an hour-bucketed uniques set; repeats
// within a window collapse into one SADD.
func (b *Batcher) Unique(key, member string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uniques[key] == nil {
		b.uniques[key] = make(map[string]struct{})
	}
	b.uniques[key][member] = struct{}{}
}

func (b *Batcher) read(ctx context.Context, kind readKind, key string) (readReply, bool) {
	ch := make(chan readReply, 1)

	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return readReply{}, false
	}
	id := readID{kind: kind, key: key}
	req, ok := b.reads[id]
	if !ok {
		req = &readReq{}
		b.reads[id] = req
	}
	req.waiters = append(req.waiters, ch)
	b.mu.Unlock()

	select {
	case r := <-ch:
		return r, true
	case <-ctx.Done():
		return readReply{err: ctx.Err()}, true
	}
}

// PresenceCount returns the page's presence cardinality. Concurrent calls
// for the same page within a flush window share one SCARD.
func (b *Batcher) PresenceCount(ctx context.Context, pageID string) (int64, error) {
	key := models.KeyPagePresence(pageID)
	r, queued := b.read(ctx, readCount, key)
	if !queued {
		return b.rdb.SCard(ctx, key)
	}
	return r.n, r.err
}

// PresenceMembers returns everyone in the page's presence set, for the
// snapshot sent to a fresh subscriber.
func (b *Batcher) PresenceMembers(ctx context.Context, pageID string) ([]string, error) {
	key := models.KeyPagePresence(pageID)
	r, queued := b.read(ctx, readMembers, key)
	if !queued {
		return b.rdb.SMembers(ctx, key)
	}
	return r.members, r.err
}

// Get reads one string key through the read queue; connection setup uses
// it for API-key and site-config lookups.
func (b *Batcher) Get(ctx context.Context, key string) (string, bool, error) {
	r, queued := b.read(ctx, readGet, key)
	if !queued {
		return b.rdb.Get(ctx, key)
	}
	return r.val, r.found, r.err
}

// Fields reads one hash through the read queue; session and user records
// resolve this way at connection setup.
func (b *Batcher) Fields(ctx context.Context, key string) (map[string]string, error) {
	r, queued := b.read(ctx, readFields, key)
	if !queued {
		return b.rdb.HGetAll(ctx, key)
	}
	return r.fields, r.err
}

func (b *Batcher) flush(ctx context.Context) {
	b.mu.Lock()
	presence := b.presence
	typing := b.typing
	incrs := b.incrs
	uniques := b.uniques
	pubs := b.pubs
	reads := b.reads
	b.presence = make(map[string]map[string]bool)
	b.typing = make(map[string]map[string]int64)
	b.incrs = make(map[string]int64)
	b.uniques = make(map[string]map[string]struct{})
	b.pubs = nil
	b.reads = make(map[readID]*readReq)
	b.mu.Unlock()

	if len(presence) == 0 && len(typing) == 0 && len(incrs) == 0 &&
		len(uniques) == 0 && len(pubs) == 0 && len(reads) == 0 {
		return
	}

	pipe := b.rdb.Pipeline()
	now := time.Now().UnixMilli()

	for pageID, members := range presence {
		key := models.KeyPagePresence(pageID)
		var adds, rems []any
		for userID, join := range members {
			if join {
				adds = append(adds, userID)
			} else {
				rems = append(rems, userID)
			}
		}
		if len(adds) > 0 {
			pipe.SAdd(ctx, key, adds...)
			pipe.Expire(ctx, key, presenceTTL)
		}
		if len(rems) > 0 {
			pipe.SRem(ctx, key, rems...)
		}
	}

	for pageID, members := range typing {
		key := models.KeyPageTyping(pageID)
		for member, score := range members {
			if score == 0 {
				pipe.ZRem(ctx, key, member)
			} else {
				pipe.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: member})
			}
		}
		// Prune signals whose TTL lapsed without an explicit clear.
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now, 10))
		pipe.Expire(ctx, key, time.Minute)
	}

	for key, n := range incrs {
		pipe.IncrBy(ctx, key, n)
	}

	for key, members := range uniques {
		adds := make([]any, 0, len(members))
		for member := range members {
			adds = append(adds, member)
		}
		pipe.SAdd(ctx, key, adds...)
		pipe.Expire(ctx, key, uniqueTTL)
	}

	for _, p := range pubs {
		pipe.Publish(ctx, p.channel, p.payload)
	}

	readCmds := make(map[readID]redis.Cmder, len(reads))
	for id := range reads {
		switch id.kind {
		case readCount:
			readCmds[id] = pipe.SCard(ctx, id.key)
		case readMembers:
			readCmds[id] = pipe.SMembers(ctx, id.key)
		case readGet:
			readCmds[id] = pipe.Get(ctx, id.key)
		case readFields:
			readCmds[id] = pipe.HGetAll(ctx, id.key)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		logger.Log.Warn("batch flush failed", zap.Error(err))
	}

	for id, req := range reads {
		reply := resolveRead(id.kind, readCmds[id])
		for _, ch := range req.waiters {
			ch <- reply
		}
	}
}

func resolveRead(kind readKind, cmd redis.Cmder) readReply {
	switch kind {
	case readCount:
		n, err := cmd.(*redis.IntCmd).Result()
		return readReply{n: n, err: err}
	case readMembers:
		members, err := cmd.(*redis.StringSliceCmd).Result()
		return readReply{members: members, err: err}
	case readGet:
		val, err := cmd.(*redis.StringCmd).Result()
		if errors.Is(err, redis.Nil) {
			return readReply{}
		}
		return readReply{val: val, found: err == nil, err: err}
	default:
		fields, err := cmd.(*redis.MapStringStringCmd).Result()
		return readReply{fields: fields, err: err}
	}
}
