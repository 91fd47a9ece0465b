// Package pagetree owns the per-page comment document: one JSON blob per
// page holding the full reply tree, mutated under an advisory Redis lock.
package pagetree

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/sanitize"
)

type Engine struct {
	rdb *cache.RedisClient

	lockRetries atomic.Int64
}

func NewEngine(rdb *cache.RedisClient) *Engine {
	return &Engine{rdb: rdb}
}

// LockRetries reports how many times writers had to wait on a page lock.
func (e *Engine) LockRetries() int64 {
	return e.lockRetries.Load()
}

// Load fetches the tree document for a page. Pages that have never seen a
// comment come back as an empty tree, not an error.
func (e *Engine) Load(ctx context.Context, pageID string) (*models.PageTree, error) {
	raw, found, err := e.rdb.Get(ctx, models.KeyPageTree(pageID))
	if err != nil {
		return nil, apperrors.ServiceUnavailable("page store").WithCause(err)
	}
	if !found {
		return &models.PageTree{}, nil
	}
	var tree models.PageTree
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return nil, apperrors.InternalError("corrupt page tree").WithCause(err)
	}
	return &tree, nil
}

func (e *Engine) save(ctx context.Context, pageID string, tree *models.PageTree) error {
	raw, err := json.Marshal(tree)
	if err != nil {
		return apperrors.InternalError("encode page tree").WithCause(err)
	}
	if err := e.rdb.Set(ctx, models.KeyPageTree(pageID), string(raw)); err != nil {
		return apperrors.ServiceUnavailable("page store").WithCause(err)
	}
	return nil
}

// Mutate applies fn to the page's tree inside the page lock and persists
// the result. fn may issue further Redis commands; they execute within the
// critical section. The saved tree is returned.
func (e *Engine) Mutate(ctx context.Context, pageID string, fn func(ctx context.Context, tree *models.PageTree) error) (*models.PageTree, error) {
	var out *models.PageTree
	err := e.withPageLock(ctx, pageID, func(ctx context.Context) error {
		tree, err := e.Load(ctx, pageID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tree); err != nil {
			return err
		}
		tree.Touch(time.Now())
		if err := e.save(ctx, pageID, tree); err != nil {
			return err
		}
		out = tree
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Create appends a comment under parentPath (root when empty) and returns
// the full path of the new node.
func (e *Engine) Create(ctx context.Context, pageID string, parentPath models.Path, comment *models.TreeComment) (models.Path, error) {
	_, err := e.Mutate(ctx, pageID, func(_ context.Context, tree *models.PageTree) error {
		return AppendChild(tree, parentPath, comment)
	})
	if err != nil {
		return nil, err
	}
	return append(append(models.Path{}, parentPath...), comment.ID), nil
}

// Edit replaces a comment's text in place. Tombstones cannot be edited.
// Moderator edits are flagged on the node so clients can label them.
func (e *Engine) Edit(ctx context.Context, pageID string, path models.Path, text string, byModerator bool) (*models.TreeComment, error) {
	var edited *models.TreeComment
	_, err := e.Mutate(ctx, pageID, func(_ context.Context, tree *models.PageTree) error {
		node, err := FindByPath(tree, path)
		if err != nil {
			return err
		}
		if node.IsDeleted() {
			return apperrors.NotFound("comment")
		}
		node.Text = text
		node.HTML = sanitize.CommentHTML(text)
		node.ModifiedAt = time.Now().UnixMilli()
		if byModerator {
			node.EditedByMod = true
		}
		edited = node
		return nil
	})
	if err != nil {
		return nil, err
	}
	return edited, nil
}

// Delete tombstones a comment: identity and text are scrubbed but the node
// stays so replies keep their threading and votes keep their history.
// Deleting an already-deleted comment is a no-op.
func (e *Engine) Delete(ctx context.Context, pageID string, path models.Path) (*models.TreeComment, error) {
	var deleted *models.TreeComment
	_, err := e.Mutate(ctx, pageID, func(_ context.Context, tree *models.PageTree) error {
		node, err := FindByPath(tree, path)
		if err != nil {
			return err
		}
		if !node.IsDeleted() {
			node.Tombstone()
		}
		deleted = node
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// SetStatus moves a comment between moderation states.
func (e *Engine) SetStatus(ctx context.Context, pageID string, path models.Path, status models.CommentStatus) (*models.TreeComment, error) {
	var node *models.TreeComment
	_, err := e.Mutate(ctx, pageID, func(_ context.Context, tree *models.PageTree) error {
		n, err := FindByPath(tree, path)
		if err != nil {
			return err
		}
		n.Status = status
		node = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// IncrViews bumps the page view counter; GET /comments calls this per read.
func (e *Engine) IncrViews(ctx context.Context, pageID string) error {
	_, err := e.rdb.IncrBy(ctx, models.KeyPageViews(pageID), 1)
	return err
}

// Views reads the page view counter.
func (e *Engine) Views(ctx context.Context, pageID string) (int64, error) {
	raw, found, err := e.rdb.Get(ctx, models.KeyPageViews(pageID))
	if err != nil || !found {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}
