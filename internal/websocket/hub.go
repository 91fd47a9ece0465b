package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/threadkit/threadkit/internal/batcher"
	"github.com/threadkit/threadkit/internal/logger"
	"github.com/threadkit/threadkit/internal/models"
	"go.uber.org/zap"
)

// Hub routes page events to the clients subscribed to each page. It holds
// only this process's connections; cross-process delivery rides the Redis
// event bus through the bridge.
type Hub struct {
	batch *batcher.Batcher

	mu    sync.RWMutex
	pages map[string]map[*Client]struct{}

	dropped atomic.Int64
}

func NewHub(batch *batcher.Batcher) *Hub {
	return &Hub{
		batch: batch,
		pages: make(map[string]map[*Client]struct{}),
	}
}

// Dropped reports messages discarded because a client's send buffer was
// full. Slow consumers lose events rather than stalling the page.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) subscribe(c *Client, pageID string) {
	h.mu.Lock()
	if h.pages[pageID] == nil {
		h.pages[pageID] = make(map[*Client]struct{})
	}
	h.pages[pageID][c] = struct{}{}
	h.mu.Unlock()
	h.batch.PresenceJoin(pageID, c.presenceKey())

	bucket := models.HourBucket(time.Now())
	h.batch.Incr(models.KeySiteViews(c.siteID, bucket), 1)
	h.batch.Unique(models.KeySiteVisitors(c.siteID, bucket), c.presenceKey())
}

func (h *Hub) unsubscribe(c *Client, pageID string) {
	h.mu.Lock()
	if subs, ok := h.pages[pageID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.pages, pageID)
		}
	}
	h.mu.Unlock()
	h.batch.PresenceLeave(pageID, c.presenceKey())
}

// HandleEvent is the bridge sink: every event from the bus lands here and
// fans out to the page's local subscribers as a JSON-RPC notification.
func (h *Hub) HandleEvent(ev *models.Event) {
	msg := marshalNotification(ev.Type, ev)

	h.mu.RLock()
	subs := h.pages[ev.PageID]
	clients := make([]*Client, 0, len(subs))
	for c := range subs {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.trySend(msg) {
			h.dropped.Add(1)
		}
	}
}

// snapshotPresence sends one client the page's current viewer set, read
// through the batcher so concurrent subscribes share a SMEMBERS.
func (h *Hub) snapshotPresence(ctx context.Context, c *Client, pageID string) {
	users, err := h.batch.PresenceMembers(ctx, pageID)
	if err != nil {
		logger.Log.Warn("presence snapshot failed", logger.WithPageID(pageID), zap.Error(err))
		return
	}
	c.trySend(marshalNotification(models.EventPresence, models.PresenceEventData{
		PageID: pageID,
		Users:  users,
		Count:  int64(len(users)),
	}))
}

// publishEvent puts an event on the page's bus channel; every fanout
// process (including this one) relays it to its subscribers.
func (h *Hub) publishEvent(eventType, pageID string, data any) {
	ev, err := models.NewEvent(eventType, pageID, data)
	if err != nil {
		return
	}
	raw, err := marshalEvent(ev)
	if err != nil {
		return
	}
	h.batch.Publish(models.EventChannel(pageID), raw)
}

func marshalEvent(ev *models.Event) (string, error) {
	raw, err := json.Marshal(ev)
	return string(raw), err
}

func (h *Hub) announceJoin(pageID, userID, name string) {
	h.publishEvent(models.EventUserJoined, pageID, models.PresenceChangeEventData{
		PageID: pageID,
		UserID: userID,
		Name:   name,
	})
}

func (h *Hub) announceLeave(pageID, userID, name string) {
	h.publishEvent(models.EventUserLeft, pageID, models.PresenceChangeEventData{
		PageID: pageID,
		UserID: userID,
		Name:   name,
	})
}

func (h *Hub) announceTyping(pageID, userID, name, replyTo string) {
	h.publishEvent(models.EventTyping, pageID, models.TypingEventData{
		PageID:  pageID,
		UserID:  userID,
		Name:    name,
		ReplyTo: replyTo,
	})
}

func (h *Hub) announceStopTyping(pageID, userID, name string) {
	h.publishEvent(models.EventStopTyping, pageID, models.TypingEventData{
		PageID: pageID,
		UserID: userID,
		Name:   name,
	})
}
