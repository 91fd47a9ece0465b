package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/threadkit/threadkit/internal/logger"
	"github.com/threadkit/threadkit/internal/models"
)

const (
	// maxSubscriptions caps how many pages one connection may watch.
	maxSubscriptions = 10

	// typingDebounce throttles typing signals per (connection, page).
	typingDebounce = 500 * time.Millisecond

	maxMessageSize = 4096
	sendBuffer     = 64
	writeTimeout   = 5 * time.Second
)

// Client is one websocket connection. The read loop owns subs and the
// typing debounce state; the write loop owns the connection's writes.
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	siteID string
	userID string
	name   string
	// presenceID overrides userID in presence sets; anonymous viewers
	// get a per-connection id so each one counts.
	presenceID string

	subs       map[string]struct{}
	lastTyping map[string]time.Time
	// typingReply remembers the reply target each live typing signal was
	// set with so stop can clear the matching entry.
	typingReply map[string]string

	send   chan []byte
	closed chan struct{}
}

func newClient(conn *websocket.Conn, hub *Hub, siteID, userID, name string) *Client {
	return &Client{
		conn:        conn,
		hub:         hub,
		siteID:      siteID,
		userID:      userID,
		name:        name,
		subs:        make(map[string]struct{}),
		lastTyping:  make(map[string]time.Time),
		typingReply: make(map[string]string),
		send:        make(chan []byte, sendBuffer),
		closed:      make(chan struct{}),
	}
}

// presenceKey identifies this viewer in presence sets. Anonymous viewers
// still count, keyed by connection identity rather than account.
func (c *Client) presenceKey() string {
	if c.presenceID != "" {
		return c.presenceID
	}
	return c.userID
}

// trySend queues a message without blocking; false means the client's
// buffer was full and the message was dropped.
func (c *Client) trySend(msg []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writeLoop(ctx)
	c.readLoop(ctx)

	close(c.closed)
	for pageID := range c.subs {
		c.hub.unsubscribe(c, pageID)
		c.hub.announceLeave(pageID, c.presenceKey(), c.name)
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		c.handleMessage(ctx, data)
	}
}

func (c *Client) handleMessage(ctx context.Context, data []byte) {
	var req rpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.trySend(marshalError(nil, codeParseError, "parse error"))
		return
	}
	if req.JSONRPC != rpcVersion || req.Method == "" {
		c.trySend(marshalError(req.ID, codeInvalidRequest, "invalid request"))
		return
	}

	switch req.Method {
	case "subscribe":
		c.handleSubscribe(ctx, req)
	case "unsubscribe":
		c.handleUnsubscribe(ctx, req)
	case "typing":
		c.handleTyping(req)
	case "ping":
		c.trySend(marshalResult(req.ID, "pong"))
	default:
		c.trySend(marshalError(req.ID, codeMethodNotFound, "method not found"))
	}
}

type pageParams struct {
	PageID string `json:"page_id"`
}

type typingParams struct {
	PageID  string `json:"page_id"`
	State   string `json:"state"`
	ReplyTo string `json:"reply_to"`
}

func (c *Client) handleSubscribe(ctx context.Context, req rpcRequest) {
	var p pageParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.PageID == "" {
		c.trySend(marshalError(req.ID, codeInvalidParams, "page_id required"))
		return
	}
	if _, ok := c.subs[p.PageID]; ok {
		c.trySend(marshalResult(req.ID, map[string]any{"subscribed": p.PageID}))
		return
	}
	if len(c.subs) >= maxSubscriptions {
		c.trySend(marshalError(req.ID, codeSubscriptionLimit, "subscription_limit"))
		return
	}
	c.subs[p.PageID] = struct{}{}
	c.hub.subscribe(c, p.PageID)
	c.trySend(marshalResult(req.ID, map[string]any{"subscribed": p.PageID}))
	// The snapshot includes this subscriber: the join queued above lands
	// in the same flush that serves the read.
	c.hub.snapshotPresence(ctx, c, p.PageID)
	c.hub.announceJoin(p.PageID, c.presenceKey(), c.name)

	logger.Log.Debug("ws subscribe",
		logger.WithPageID(p.PageID),
		logger.WithUserID(c.userID),
	)
}

func (c *Client) handleUnsubscribe(ctx context.Context, req rpcRequest) {
	var p pageParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.PageID == "" {
		c.trySend(marshalError(req.ID, codeInvalidParams, "page_id required"))
		return
	}
	if _, ok := c.subs[p.PageID]; !ok {
		c.trySend(marshalResult(req.ID, map[string]any{"unsubscribed": p.PageID}))
		return
	}
	delete(c.subs, p.PageID)
	c.hub.unsubscribe(c, p.PageID)
	c.trySend(marshalResult(req.ID, map[string]any{"unsubscribed": p.PageID}))
	c.hub.announceLeave(p.PageID, c.presenceKey(), c.name)
}

func (c *Client) handleTyping(req rpcRequest) {
	var p typingParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.PageID == "" {
		c.trySend(marshalError(req.ID, codeInvalidParams, "page_id required"))
		return
	}
	// Typing from unsubscribed pages and anonymous viewers is discarded
	// without complaint; there is nothing to broadcast.
	_, subscribed := c.subs[p.PageID]
	if !subscribed || c.userID == models.AnonymousUserID {
		c.trySend(marshalResult(req.ID, map[string]any{"ok": true}))
		return
	}

	switch p.State {
	case "stop":
		delete(c.lastTyping, p.PageID)
		c.hub.batch.TypingClear(p.PageID, c.userID, c.typingReply[p.PageID])
		delete(c.typingReply, p.PageID)
		c.hub.announceStopTyping(p.PageID, c.userID, c.name)
	default: // start
		if last, ok := c.lastTyping[p.PageID]; ok && time.Since(last) < typingDebounce {
			c.trySend(marshalResult(req.ID, map[string]any{"ok": true}))
			return
		}
		c.lastTyping[p.PageID] = time.Now()
		c.typingReply[p.PageID] = p.ReplyTo
		c.hub.batch.TypingSet(p.PageID, c.userID, p.ReplyTo)
		c.hub.announceTyping(p.PageID, c.userID, c.name, p.ReplyTo)
	}
	c.trySend(marshalResult(req.ID, map[string]any{"ok": true}))
}
