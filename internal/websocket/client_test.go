package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadkit/threadkit/internal/batcher"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/models"
)

func newTestHub(t *testing.T) (*Hub, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := batcher.New(cache.NewRedisClientFromExisting(client), 2*time.Millisecond)
	t.Cleanup(b.Close)
	return NewHub(b), mr
}

func newTestClient(hub *Hub, userID string) *Client {
	return newClient(nil, hub, "site-1", userID, "Alice")
}

// recv pops the client's next queued outbound frame.
func recv(t *testing.T, c *Client) rpcResponse {
	t.Helper()
	select {
	case raw := <-c.send:
		var resp rpcResponse
		require.NoError(t, json.Unmarshal(raw, &resp))
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("no frame queued")
		return rpcResponse{}
	}
}

func send(c *Client, msg string) {
	c.handleMessage(context.Background(), []byte(msg))
}

type noteFrame struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// recvNote pops the client's next queued frame as a notification.
func recvNote(t *testing.T, c *Client) noteFrame {
	t.Helper()
	select {
	case raw := <-c.send:
		var note noteFrame
		require.NoError(t, json.Unmarshal(raw, &note))
		return note
	case <-time.After(2 * time.Second):
		t.Fatal("no frame queued")
		return noteFrame{}
	}
}

// subscribe drives one subscribe round trip, draining the ack and the
// presence snapshot that follows it.
func subscribe(t *testing.T, c *Client, pageID string) {
	t.Helper()
	send(c, fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"subscribe","params":{"page_id":%q}}`, pageID))
	resp := recv(t, c)
	require.Nil(t, resp.Error)
	note := recvNote(t, c)
	require.Equal(t, models.EventPresence, note.Method)
}

func TestHandleMessageParseError(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newTestClient(hub, "user-1")

	send(c, `{not json`)
	resp := recv(t, c)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeParseError, resp.Error.Code)
}

func TestHandleMessageInvalidRequest(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newTestClient(hub, "user-1")

	send(c, `{"jsonrpc":"1.0","id":1,"method":"ping"}`)
	resp := recv(t, c)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidRequest, resp.Error.Code)

	send(c, `{"jsonrpc":"2.0","id":2}`)
	resp = recv(t, c)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidRequest, resp.Error.Code)
}

func TestHandleMessageMethodNotFound(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newTestClient(hub, "user-1")

	send(c, `{"jsonrpc":"2.0","id":1,"method":"launch_missiles"}`)
	resp := recv(t, c)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestPing(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newTestClient(hub, "user-1")

	send(c, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	resp := recv(t, c)
	require.Nil(t, resp.Error)
	assert.Equal(t, "pong", resp.Result)
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	hub, mr := newTestHub(t)
	c := newTestClient(hub, "user-1")

	subscribe(t, c, "p1")
	assert.Contains(t, c.subs, "p1")

	// Presence reaches Redis within a flush window.
	deadline := time.Now().Add(time.Second)
	for {
		if ok, _ := mr.SIsMember(models.KeyPagePresence("p1"), "user-1"); ok {
			break
		}
		require.True(t, time.Now().Before(deadline), "presence never flushed")
		time.Sleep(time.Millisecond)
	}

	send(c, `{"jsonrpc":"2.0","id":2,"method":"unsubscribe","params":{"page_id":"p1"}}`)
	resp := recv(t, c)
	require.Nil(t, resp.Error)
	assert.NotContains(t, c.subs, "p1")
}

func TestSubscribeSendsPresenceSnapshot(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newTestClient(hub, "user-1")

	send(c, `{"jsonrpc":"2.0","id":1,"method":"subscribe","params":{"page_id":"p1"}}`)
	resp := recv(t, c)
	require.Nil(t, resp.Error)

	note := recvNote(t, c)
	require.Equal(t, models.EventPresence, note.Method)
	var snap models.PresenceEventData
	require.NoError(t, json.Unmarshal(note.Params, &snap))
	assert.Equal(t, "p1", snap.PageID)
	assert.Contains(t, snap.Users, "user-1", "a fresh subscriber is part of its own snapshot")
	assert.EqualValues(t, len(snap.Users), snap.Count)
}

func TestJoinAndLeaveAnnouncedOnBus(t *testing.T) {
	hub, mr := newTestHub(t)

	busClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = busClient.Close() })
	sub := busClient.Subscribe(context.Background(), models.EventChannel("p1"))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	c := newTestClient(hub, "user-1")
	subscribe(t, c, "p1")

	var ev models.Event
	select {
	case msg := <-sub.Channel():
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
	case <-time.After(2 * time.Second):
		t.Fatal("join never reached the bus")
	}
	require.Equal(t, models.EventUserJoined, ev.Type)
	var change models.PresenceChangeEventData
	require.NoError(t, json.Unmarshal(ev.Data, &change))
	assert.Equal(t, "user-1", change.UserID)
	assert.Equal(t, "Alice", change.Name)

	send(c, `{"jsonrpc":"2.0","id":2,"method":"unsubscribe","params":{"page_id":"p1"}}`)
	recv(t, c)

	select {
	case msg := <-sub.Channel():
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
	case <-time.After(2 * time.Second):
		t.Fatal("leave never reached the bus")
	}
	assert.Equal(t, models.EventUserLeft, ev.Type)
}

func TestSubscribeDuplicateIsIdempotent(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newTestClient(hub, "user-1")

	subscribe(t, c, "p1")
	// A duplicate subscribe is acked without a second snapshot or join.
	send(c, `{"jsonrpc":"2.0","id":2,"method":"subscribe","params":{"page_id":"p1"}}`)
	resp := recv(t, c)
	require.Nil(t, resp.Error)
	assert.Len(t, c.subs, 1)
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected frame: %s", raw)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSubscribeLimit(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newTestClient(hub, "user-1")

	for i := 0; i < maxSubscriptions; i++ {
		subscribe(t, c, fmt.Sprintf("p%d", i))
	}

	send(c, `{"jsonrpc":"2.0","id":2,"method":"subscribe","params":{"page_id":"one-too-many"}}`)
	resp := recv(t, c)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeSubscriptionLimit, resp.Error.Code)
	assert.Len(t, c.subs, maxSubscriptions)
}

func TestSubscribeMissingPageID(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newTestClient(hub, "user-1")

	send(c, `{"jsonrpc":"2.0","id":1,"method":"subscribe","params":{}}`)
	resp := recv(t, c)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestTypingWithoutSubscriptionIsSilent(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newTestClient(hub, "user-1")

	// Typing for a page the connection never subscribed to is swallowed
	// without an error.
	send(c, `{"jsonrpc":"2.0","id":1,"method":"typing","params":{"page_id":"p1","state":"start"}}`)
	resp := recv(t, c)
	require.Nil(t, resp.Error)
	assert.Empty(t, c.lastTyping, "no typing signal was recorded")
}

func TestTypingDebounce(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newTestClient(hub, "user-1")

	subscribe(t, c, "p1")

	send(c, `{"jsonrpc":"2.0","id":2,"method":"typing","params":{"page_id":"p1","state":"start"}}`)
	recv(t, c)
	first := c.lastTyping["p1"]
	require.False(t, first.IsZero())

	// Within the debounce window the signal is swallowed.
	send(c, `{"jsonrpc":"2.0","id":3,"method":"typing","params":{"page_id":"p1","state":"start"}}`)
	resp := recv(t, c)
	require.Nil(t, resp.Error)
	assert.Equal(t, first, c.lastTyping["p1"], "debounced signals do not refresh")

	send(c, `{"jsonrpc":"2.0","id":4,"method":"typing","params":{"page_id":"p1","state":"stop"}}`)
	recv(t, c)
	_, ok := c.lastTyping["p1"]
	assert.False(t, ok, "stop clears the debounce state")
}

func TestTypingAnonymousIsSilent(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newTestClient(hub, models.AnonymousUserID)
	c.presenceID = "conn-1"

	subscribe(t, c, "p1")
	send(c, `{"jsonrpc":"2.0","id":2,"method":"typing","params":{"page_id":"p1","state":"start"}}`)
	resp := recv(t, c)
	require.Nil(t, resp.Error)
	assert.Empty(t, c.lastTyping, "anonymous viewers emit no typing signal")
}

func TestTypingReplyTarget(t *testing.T) {
	hub, mr := newTestHub(t)
	c := newTestClient(hub, "user-1")
	subscribe(t, c, "p1")

	send(c, `{"jsonrpc":"2.0","id":2,"method":"typing","params":{"page_id":"p1","state":"start","reply_to":"c9"}}`)
	resp := recv(t, c)
	require.Nil(t, resp.Error)
	assert.Equal(t, "c9", c.typingReply["p1"])

	// The typing entry carries the reply target.
	key := models.KeyPageTyping("p1")
	deadline := time.Now().Add(time.Second)
	for {
		members, _ := mr.ZMembers(key)
		if len(members) == 1 && members[0] == "user-1|c9" {
			break
		}
		require.True(t, time.Now().Before(deadline), "typing signal never flushed")
		time.Sleep(time.Millisecond)
	}

	// Stop clears the matching entry even though the target is not in the
	// stop params.
	send(c, `{"jsonrpc":"2.0","id":3,"method":"typing","params":{"page_id":"p1","state":"stop"}}`)
	recv(t, c)
	assert.NotContains(t, c.typingReply, "p1")
	deadline = time.Now().Add(time.Second)
	for {
		members, _ := mr.ZMembers(key)
		if len(members) == 0 {
			break
		}
		require.True(t, time.Now().Before(deadline), "typing signal never cleared")
		time.Sleep(time.Millisecond)
	}
}

func TestSubscribeRecordsAnalytics(t *testing.T) {
	hub, mr := newTestHub(t)
	c := newTestClient(hub, "user-1")
	subscribe(t, c, "p1")

	bucket := models.HourBucket(time.Now())
	deadline := time.Now().Add(time.Second)
	for {
		views, _ := mr.Get(models.KeySiteViews("site-1", bucket))
		if views == "1" {
			break
		}
		require.True(t, time.Now().Before(deadline), "view counter never flushed")
		time.Sleep(time.Millisecond)
	}
	ok, err := mr.SIsMember(models.KeySiteVisitors("site-1", bucket), "user-1")
	require.NoError(t, err)
	assert.True(t, ok, "the subscriber lands in the hour's uniques set")
}

func TestPresenceKeyAnonymous(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newTestClient(hub, models.AnonymousUserID)
	c.presenceID = "conn-42"
	assert.Equal(t, "conn-42", c.presenceKey())

	auth := newTestClient(hub, "user-1")
	assert.Equal(t, "user-1", auth.presenceKey())
}

func TestHubHandleEvent(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newTestClient(hub, "user-1")
	subscribe(t, c, "p1")

	ev, err := models.NewEvent(models.EventNewComment, "p1", models.CommentEventData{
		CommentID: "c1", PageID: "p1",
	})
	require.NoError(t, err)
	hub.HandleEvent(ev)

	select {
	case raw := <-c.send:
		var note struct {
			Method string       `json:"method"`
			Params models.Event `json:"params"`
		}
		require.NoError(t, json.Unmarshal(raw, &note))
		assert.Equal(t, models.EventNewComment, note.Method)
		assert.Equal(t, "p1", note.Params.PageID)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}

	// Events for other pages do not reach this client.
	other, err := models.NewEvent(models.EventNewComment, "p2", models.CommentEventData{CommentID: "c2"})
	require.NoError(t, err)
	hub.HandleEvent(other)
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected frame: %s", raw)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newTestClient(hub, "user-1")
	subscribe(t, c, "p1")

	for i := 0; i < sendBuffer; i++ {
		require.True(t, c.trySend([]byte("filler")))
	}

	ev, err := models.NewEvent(models.EventNewComment, "p1", models.CommentEventData{CommentID: "c1"})
	require.NoError(t, err)
	hub.HandleEvent(ev)
	assert.EqualValues(t, 1, hub.Dropped(), "slow consumers lose events instead of stalling")
}

func TestTrySendAfterClose(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newTestClient(hub, "user-1")
	close(c.closed)
	assert.False(t, c.trySend([]byte("late")))
}
