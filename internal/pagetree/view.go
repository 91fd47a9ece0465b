package pagetree

import (
	"sort"
	"time"

	"github.com/threadkit/threadkit/internal/models"
)

// ViewComment is the wire shape served to embeds. Voter lists never leave
// the server; the viewer's own vote is projected into ViewerVote instead.
type ViewComment struct {
	ID          string               `json:"id"`
	AuthorID    string               `json:"author_id"`
	AuthorName  string               `json:"author_name"`
	AvatarURL   string               `json:"avatar_url,omitempty"`
	Karma       int64                `json:"karma"`
	Text        string               `json:"text"`
	HTML        string               `json:"html"`
	Upvotes     int                  `json:"upvotes"`
	Downvotes   int                  `json:"downvotes"`
	Score       int                  `json:"score"`
	CreatedAt   int64                `json:"created_at"`
	ModifiedAt  int64                `json:"modified_at,omitempty"`
	Status      models.CommentStatus `json:"status,omitempty"`
	EditedByMod bool                 `json:"edited_by_mod,omitempty"`
	Hidden      bool                 `json:"hidden,omitempty"`
	ViewerVote  string               `json:"viewer_vote,omitempty"`
	Replies     []*ViewComment       `json:"replies,omitempty"`
}

// ViewOptions controls filtering and ordering for one viewer's read.
type ViewOptions struct {
	Sort        models.SortOrder
	Offset      int
	Limit       int
	ViewerID    string
	ViewerIsMod bool
	// Authors this viewer has blocked; their comments collapse to a
	// hidden marker so threading under them survives.
	Blocked map[string]bool
	// Shadowbanned authors: their comments render only for themselves
	// and for moderators.
	Shadowbanned map[string]bool
	Now          time.Time
}

// BuildView projects the stored tree into what one viewer may see, sorts
// siblings recursively, and pages over the top-level comments. The count
// of visible top-level comments is returned alongside the slice.
func BuildView(tree *models.PageTree, opts ViewOptions) ([]*ViewComment, int) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	roots := projectLevel(tree.Comments, opts)
	sortLevel(roots, opts)
	total := len(roots)

	if opts.Offset > len(roots) {
		return []*ViewComment{}, total
	}
	roots = roots[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(roots) {
		roots = roots[:opts.Limit]
	}
	return roots, total
}

func projectLevel(nodes []*models.TreeComment, opts ViewOptions) []*ViewComment {
	out := make([]*ViewComment, 0, len(nodes))
	for _, c := range nodes {
		if c.Status == models.StatusRejected {
			continue
		}
		if c.Status == models.StatusPending && !opts.ViewerIsMod && c.AuthorID != opts.ViewerID {
			continue
		}
		if opts.Shadowbanned[c.AuthorID] && !opts.ViewerIsMod && c.AuthorID != opts.ViewerID {
			continue
		}

		v := project(c, opts)
		if opts.Blocked[c.AuthorID] && !c.IsDeleted() {
			v.Hidden = true
			v.AuthorID = ""
			v.AuthorName = models.HiddenAuthorName
			v.AvatarURL = ""
			v.Karma = 0
			v.Text = ""
			v.HTML = ""
		}
		v.Replies = projectLevel(c.Replies, opts)
		sortLevel(v.Replies, opts)
		out = append(out, v)
	}
	return out
}

func project(c *models.TreeComment, opts ViewOptions) *ViewComment {
	// Shadowbanned users' votes count only for themselves; everyone else
	// sees tallies as if those votes were never cast. Moderators see the
	// stored numbers.
	up, down := c.Upvotes, c.Downvotes
	if !opts.ViewerIsMod && len(opts.Shadowbanned) > 0 {
		for _, id := range c.Upvoters {
			if opts.Shadowbanned[id] && id != opts.ViewerID {
				up--
			}
		}
		for _, id := range c.Downvoters {
			if opts.Shadowbanned[id] && id != opts.ViewerID {
				down--
			}
		}
	}

	v := &ViewComment{
		ID:          c.ID,
		AuthorID:    c.AuthorID,
		AuthorName:  c.AuthorName,
		AvatarURL:   c.AvatarURL,
		Karma:       c.Karma,
		Text:        c.Text,
		HTML:        c.HTML,
		Upvotes:     up,
		Downvotes:   down,
		Score:       up - down,
		CreatedAt:   c.CreatedAt,
		ModifiedAt:  c.ModifiedAt,
		Status:      c.Status,
		EditedByMod: c.EditedByMod,
	}
	if opts.ViewerID != "" {
		if c.HasUpvoter(opts.ViewerID) {
			v.ViewerVote = string(models.VoteUp)
		} else if c.HasDownvoter(opts.ViewerID) {
			v.ViewerVote = string(models.VoteDown)
		}
	}
	return v
}

func sortLevel(nodes []*ViewComment, opts ViewOptions) {
	switch opts.Sort {
	case models.SortTop:
		sort.SliceStable(nodes, func(i, j int) bool {
			if nodes[i].Score != nodes[j].Score {
				return nodes[i].Score > nodes[j].Score
			}
			return nodes[i].CreatedAt > nodes[j].CreatedAt
		})
	case models.SortHot:
		scores := make(map[string]float64, len(nodes))
		for _, n := range nodes {
			scores[n.ID] = hotness(n, opts.Now)
		}
		sort.SliceStable(nodes, func(i, j int) bool {
			return scores[nodes[i].ID] > scores[nodes[j].ID]
		})
	default: // newest first
		sort.SliceStable(nodes, func(i, j int) bool {
			return nodes[i].CreatedAt > nodes[j].CreatedAt
		})
	}
}

func hotness(n *ViewComment, now time.Time) float64 {
	c := models.TreeComment{
		Upvotes:   n.Upvotes,
		Downvotes: n.Downvotes,
		CreatedAt: n.CreatedAt,
	}
	return c.HotScore(now)
}
