// Package websocket implements the realtime fanout: JSON-RPC 2.0 over
// websocket, page subscriptions, presence, and typing signals.
package websocket

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/threadkit/threadkit/internal/batcher"
	"github.com/threadkit/threadkit/internal/logger"
	"github.com/threadkit/threadkit/internal/models"
)

// TokenParser validates a bearer token's signature and returns its
// subject and session id. The session and user records themselves are
// loaded through the batcher so concurrent connects share the reads.
type TokenParser interface {
	ParseToken(token string) (userID, sessionID string, err error)
}

type Handler struct {
	hub    *Hub
	batch  *batcher.Batcher
	parser TokenParser
}

func NewHandler(hub *Hub, batch *batcher.Batcher, parser TokenParser) *Handler {
	return &Handler{hub: hub, batch: batch, parser: parser}
}

// Serve upgrades GET /ws. The project_id query parameter is the site's
// public API key; a missing or unknown key closes the socket without an
// error payload so probes learn nothing.
func (h *Handler) Serve(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Origin policy is enforced per site below; the embed runs on
		// arbitrary customer domains.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}

	ctx := c.Request.Context()

	projectID := c.Query("project_id")
	site := h.resolveSite(ctx, projectID)
	if site == nil || !models.IsPublicKey(projectID) {
		conn.Close(websocket.StatusPolicyViolation, "")
		return
	}
	if !site.OriginAllowed(c.GetHeader("Origin"), false) {
		conn.Close(websocket.StatusPolicyViolation, "")
		return
	}

	// Invalid tokens fall back to an anonymous connection rather than
	// refusing the socket.
	userID := models.AnonymousUserID
	name := ""
	if token := c.Query("token"); token != "" {
		if user := h.resolveUser(ctx, token); user != nil {
			userID = user.ID
			name = user.Name
		}
	}

	client := newClient(conn, h.hub, site.ID, userID, name)
	if userID == models.AnonymousUserID {
		// Each anonymous viewer counts once in presence.
		client.presenceID = "anon:" + uuid.NewString()
	}

	client.trySend(marshalNotification("connected", map[string]any{
		"user_id":   userID,
		"name":      name,
		"anonymous": userID == models.AnonymousUserID,
	}))

	logger.Log.Debug("ws connected",
		logger.WithSiteID(site.ID),
		logger.WithUserID(userID),
	)

	client.run(ctx)
	conn.Close(websocket.StatusNormalClosure, "")
}

// resolveSite follows apikey -> site id -> config through the batcher;
// a burst of connects for one site collapses into two GETs per flush.
func (h *Handler) resolveSite(ctx context.Context, apiKey string) *models.Site {
	if apiKey == "" {
		return nil
	}
	siteID, found, err := h.batch.Get(ctx, models.KeyAPIKeySite(apiKey))
	if err != nil || !found {
		return nil
	}
	raw, found, err := h.batch.Get(ctx, models.KeySiteConfig(siteID))
	if err != nil || !found {
		return nil
	}
	var site models.Site
	if err := json.Unmarshal([]byte(raw), &site); err != nil {
		return nil
	}
	return &site
}

// resolveUser checks the token's session is still alive and loads the
// user record, both through the batcher read queues.
func (h *Handler) resolveUser(ctx context.Context, token string) *models.User {
	userID, sessionID, err := h.parser.ParseToken(token)
	if err != nil {
		return nil
	}
	fields, err := h.batch.Fields(ctx, models.KeySession(sessionID))
	if err != nil {
		return nil
	}
	sess := models.SessionFromHash(sessionID, fields)
	if sess == nil || sess.UserID != userID {
		return nil
	}
	fields, err = h.batch.Fields(ctx, models.KeyUser(userID))
	if err != nil {
		return nil
	}
	return models.UserFromHash(fields)
}
