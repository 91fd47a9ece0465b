// Package models holds the shared data contracts: the page-tree document,
// site and user records, enums, sentinels, and the Redis key schema.
package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Sentinel author ids. These are fixed UUIDs, never minted for real users.
const (
	DeletedUserID   = "00000000-0000-0000-0000-000000000001"
	AnonymousUserID = "00000000-0000-0000-0000-000000000002"

	DeletedAuthorName = "[deleted]"
	HiddenAuthorName  = "[hidden]"
)

// PageTree is the whole comment thread for one page, stored as a single
// JSON document at page:{id}:tree.
type PageTree struct {
	Comments  []*TreeComment `json:"c"`
	UpdatedAt int64          `json:"u"`
}

// TreeComment is one node of the page tree. Keys are single characters to
// keep the document small; this is the authoritative storage shape, not a
// public API shape.
type TreeComment struct {
	ID          string         `json:"i"`
	AuthorID    string         `json:"a"`
	AuthorName  string         `json:"n"`
	AvatarURL   string         `json:"p,omitempty"`
	Karma       int64          `json:"k"`
	Text        string         `json:"t"`
	HTML        string         `json:"h"`
	Upvotes     int            `json:"u"`
	Downvotes   int            `json:"d"`
	Upvoters    []string       `json:"v,omitempty"`
	Downvoters  []string       `json:"w,omitempty"`
	CreatedAt   int64          `json:"x"`
	ModifiedAt  int64          `json:"m,omitempty"`
	Status      CommentStatus  `json:"s,omitempty"`
	EditedByMod bool           `json:"e,omitempty"`
	Replies     []*TreeComment `json:"r,omitempty"`
}

// Path addresses a node inside a page tree: the ordered ancestor ids from
// root to target, inclusive.
type Path []string

// NewCommentID mints a UUIDv7 comment id. v7 ids sort by creation time,
// which keeps sibling order stable without a separate sequence.
func NewCommentID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}

// PageID derives the deterministic page id for a URL within a site:
// UUIDv5 in the site's namespace. The same (site, url) always maps to the
// same page, so no page registry is needed.
func PageID(siteID, pageURL string) string {
	ns, err := uuid.Parse(siteID)
	if err != nil {
		ns = uuid.NameSpaceURL
	}
	return uuid.NewSHA1(ns, []byte(pageURL)).String()
}

// IsDeleted reports whether the comment is a tombstone.
func (c *TreeComment) IsDeleted() bool {
	return c.AuthorID == DeletedUserID
}

// IsAnonymous reports whether the comment was posted anonymously.
func (c *TreeComment) IsAnonymous() bool {
	return c.AuthorID == AnonymousUserID
}

// Tombstone clears authorship and content in place, preserving reply
// threading and vote counters.
func (c *TreeComment) Tombstone() {
	c.AuthorID = DeletedUserID
	c.AuthorName = DeletedAuthorName
	c.AvatarURL = ""
	c.Text = ""
	c.HTML = ""
	c.Karma = 0
}

// HasUpvoter reports whether the user is in the upvoter list.
func (c *TreeComment) HasUpvoter(userID string) bool {
	for _, u := range c.Upvoters {
		if u == userID {
			return true
		}
	}
	return false
}

// HasDownvoter reports whether the user is in the downvoter list.
func (c *TreeComment) HasDownvoter(userID string) bool {
	for _, u := range c.Downvoters {
		if u == userID {
			return true
		}
	}
	return false
}

// Score is upvotes minus downvotes.
func (c *TreeComment) Score() int {
	return c.Upvotes - c.Downvotes
}

// HotScore ranks by score decayed by age: (u-d) / max(1, age_hours)^1.8.
func (c *TreeComment) HotScore(now time.Time) float64 {
	ageHours := now.Sub(time.UnixMilli(c.CreatedAt)).Hours()
	if ageHours < 1 {
		ageHours = 1
	}
	return float64(c.Score()) / math.Pow(ageHours, 1.8)
}

// CountNodes returns the number of comments in the subtree rooted at c,
// including c itself.
func (c *TreeComment) CountNodes() int {
	n := 1
	for _, r := range c.Replies {
		n += r.CountNodes()
	}
	return n
}

// Len returns the total number of comments in the tree.
func (t *PageTree) Len() int {
	n := 0
	for _, c := range t.Comments {
		n += c.CountNodes()
	}
	return n
}

// Touch stamps the tree's update time.
func (t *PageTree) Touch(now time.Time) {
	t.UpdatedAt = now.UnixMilli()
}
