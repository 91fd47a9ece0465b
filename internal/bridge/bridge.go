// Package bridge relays page events from Redis pub/sub into the local
// fanout process. One pattern subscription covers every page; the hub
// decides which connected clients care.
package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/logger"
	"github.com/threadkit/threadkit/internal/models"
	"go.uber.org/zap"
)

// Sink receives every decoded event. It must not block; the hub hands
// events to buffered per-page channels.
type Sink func(ev *models.Event)

type Bridge struct {
	rdb  *cache.RedisClient
	sink Sink
}

func New(rdb *cache.RedisClient, sink Sink) *Bridge {
	return &Bridge{rdb: rdb, sink: sink}
}

// Run subscribes to the page event pattern and pumps messages to the sink
// until ctx is canceled. Subscription failures reconnect with backoff.
func (b *Bridge) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := b.pump(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.Warn("event subscription lost, reconnecting",
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return
	}
}

func (b *Bridge) pump(ctx context.Context) error {
	sub := b.rdb.PSubscribe(ctx, models.EventChannelPattern)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return context.Canceled
			}
			var ev models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Log.Warn("malformed event on bus",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			if ev.PageID == "" {
				continue
			}
			if !models.KnownEventType(ev.Type) {
				logger.Log.Warn("unknown event type on bus",
					zap.String("channel", msg.Channel),
					zap.String("type", ev.Type),
				)
				continue
			}
			b.sink(&ev)
		}
	}
}
