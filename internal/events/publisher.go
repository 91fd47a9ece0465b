// Package events publishes page domain events onto the Redis pub/sub bus
// that the fanout processes relay to websocket clients.
package events

import (
	"context"
	"encoding/json"

	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/logger"
	"github.com/threadkit/threadkit/internal/models"
	"go.uber.org/zap"
)

type Publisher struct {
	rdb *cache.RedisClient
}

func NewPublisher(rdb *cache.RedisClient) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish emits one event on the page's channel. Delivery is best effort:
// a publish failure is logged, never surfaced to the request that caused
// the mutation, since the write itself already committed.
func (p *Publisher) Publish(ctx context.Context, eventType, pageID string, data any) {
	ev, err := models.NewEvent(eventType, pageID, data)
	if err != nil {
		logger.Log.Warn("event encode failed",
			zap.String("event", eventType),
			logger.WithPageID(pageID),
			zap.Error(err),
		)
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Warn("event encode failed", zap.Error(err))
		return
	}
	if err := p.rdb.Publish(ctx, models.EventChannel(pageID), raw); err != nil {
		logger.Log.Warn("event publish failed",
			zap.String("event", eventType),
			logger.WithPageID(pageID),
			zap.Error(err),
		)
	}
}

// NewComment announces a freshly approved comment.
func (p *Publisher) NewComment(ctx context.Context, pageID string, path models.Path, c *models.TreeComment) {
	p.Publish(ctx, models.EventNewComment, pageID, models.CommentEventData{
		CommentID:  c.ID,
		PageID:     pageID,
		Path:       path,
		AuthorID:   c.AuthorID,
		AuthorName: c.AuthorName,
		Text:       c.Text,
		HTML:       c.HTML,
		Status:     c.Status,
		CreatedAt:  c.CreatedAt,
	})
}

// EditComment announces an edit.
func (p *Publisher) EditComment(ctx context.Context, pageID string, path models.Path, c *models.TreeComment) {
	p.Publish(ctx, models.EventEditComment, pageID, models.CommentEventData{
		CommentID:  c.ID,
		PageID:     pageID,
		Path:       path,
		Text:       c.Text,
		HTML:       c.HTML,
		ModifiedAt: c.ModifiedAt,
	})
}

// DeleteComment announces a tombstoned comment.
func (p *Publisher) DeleteComment(ctx context.Context, pageID string, path models.Path, commentID string) {
	p.Publish(ctx, models.EventDeleteComment, pageID, models.CommentEventData{
		CommentID: commentID,
		PageID:    pageID,
		Path:      path,
	})
}

// VoteUpdate announces new tallies for a comment.
func (p *Publisher) VoteUpdate(ctx context.Context, pageID string, path models.Path, c *models.TreeComment) {
	p.Publish(ctx, models.EventVoteUpdate, pageID, models.VoteEventData{
		CommentID: c.ID,
		PageID:    pageID,
		Path:      path,
		Upvotes:   c.Upvotes,
		Downvotes: c.Downvotes,
	})
}

// ModerationChange announces an approve or reject.
func (p *Publisher) ModerationChange(ctx context.Context, pageID string, path models.Path, commentID string, status models.CommentStatus) {
	p.Publish(ctx, models.EventModerationChange, pageID, models.ModerationEventData{
		CommentID: commentID,
		PageID:    pageID,
		Path:      path,
		Status:    status,
	})
}
