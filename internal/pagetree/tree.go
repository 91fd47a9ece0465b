package pagetree

import (
	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/models"
)

// Pure tree operations. A path is the ordered list of ancestor comment ids
// ending at the target; clients echo it back so we never scan the document.

// FindByPath walks the tree along path and returns the addressed node.
func FindByPath(tree *models.PageTree, path models.Path) (*models.TreeComment, error) {
	if len(path) == 0 {
		return nil, apperrors.ValidationError("path", "path must not be empty")
	}
	siblings := tree.Comments
	var node *models.TreeComment
	for _, id := range path {
		node = nil
		for _, c := range siblings {
			if c.ID == id {
				node = c
				break
			}
		}
		if node == nil {
			return nil, apperrors.NotFound("comment")
		}
		siblings = node.Replies
	}
	return node, nil
}

// AppendChild inserts a comment under parentPath, or at the root when the
// path is empty. The parent must exist and must not be a tombstone.
func AppendChild(tree *models.PageTree, parentPath models.Path, comment *models.TreeComment) error {
	if len(parentPath) == 0 {
		tree.Comments = append(tree.Comments, comment)
		return nil
	}
	parent, err := FindByPath(tree, parentPath)
	if err != nil {
		return err
	}
	if parent.IsDeleted() {
		return apperrors.BadRequest("cannot reply to a deleted comment")
	}
	parent.Replies = append(parent.Replies, comment)
	return nil
}

// Walk visits every comment in the tree depth-first, parents before replies.
func Walk(tree *models.PageTree, visit func(c *models.TreeComment, path models.Path)) {
	var walk func(nodes []*models.TreeComment, prefix models.Path)
	walk = func(nodes []*models.TreeComment, prefix models.Path) {
		for _, c := range nodes {
			path := append(append(models.Path{}, prefix...), c.ID)
			visit(c, path)
			walk(c.Replies, path)
		}
	}
	walk(tree.Comments, nil)
}
