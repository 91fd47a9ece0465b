package models

import "encoding/json"

// Domain event types published on the page event channels. Each structural
// mutation of a page tree emits exactly one of these.
const (
	EventNewComment       = "new_comment"
	EventEditComment      = "edit_comment"
	EventDeleteComment    = "delete_comment"
	EventVoteUpdate       = "vote_update"
	EventModerationChange = "moderation_change"

	// Ephemeral signals relayed between fanout processes; never persisted.
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
	EventPresence   = "presence"
	EventUserJoined = "user_joined"
	EventUserLeft   = "user_left"
)

// KnownEventType reports whether a type belongs to the bus vocabulary.
// The bridge drops anything else before it reaches clients.
func KnownEventType(t string) bool {
	switch t {
	case EventNewComment, EventEditComment, EventDeleteComment,
		EventVoteUpdate, EventModerationChange,
		EventTyping, EventStopTyping, EventPresence,
		EventUserJoined, EventUserLeft:
		return true
	}
	return false
}

// TypingEventData is the ephemeral typing signal for one user on a page.
type TypingEventData struct {
	PageID  string `json:"page_id"`
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// PresenceEventData is the snapshot sent to a client right after it
// subscribes: everyone currently in the page's presence set.
type PresenceEventData struct {
	PageID string   `json:"page_id"`
	Users  []string `json:"users"`
	Count  int64    `json:"count"`
}

// PresenceChangeEventData announces one viewer arriving or leaving.
type PresenceChangeEventData struct {
	PageID string `json:"page_id"`
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// Event is the wire shape on the pub/sub bus: {type, page_id, data}.
type Event struct {
	Type   string          `json:"type"`
	PageID string          `json:"page_id"`
	Data   json.RawMessage `json:"data"`
}

// NewEvent marshals data into an Event; marshal errors are returned so
// callers can log-and-drop per the bus contract.
func NewEvent(eventType, pageID string, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{Type: eventType, PageID: pageID, Data: raw}, nil
}

// CommentEventData carries the minimum fields a client needs to update its
// view after a comment mutation.
type CommentEventData struct {
	CommentID  string        `json:"comment_id"`
	PageID     string        `json:"page_id"`
	Path       Path          `json:"path"`
	AuthorID   string        `json:"author_id,omitempty"`
	AuthorName string        `json:"author_name,omitempty"`
	Text       string        `json:"text,omitempty"`
	HTML       string        `json:"html,omitempty"`
	Status     CommentStatus `json:"status,omitempty"`
	CreatedAt  int64         `json:"created_at,omitempty"`
	ModifiedAt int64         `json:"modified_at,omitempty"`
}

// VoteEventData carries the post-vote counters for one comment.
type VoteEventData struct {
	CommentID string `json:"comment_id"`
	PageID    string `json:"page_id"`
	Path      Path   `json:"path"`
	Upvotes   int    `json:"upvotes"`
	Downvotes int    `json:"downvotes"`
}

// ModerationEventData announces an approve/reject transition.
type ModerationEventData struct {
	CommentID string        `json:"comment_id"`
	PageID    string        `json:"page_id"`
	Path      Path          `json:"path"`
	Status    CommentStatus `json:"status"`
}
