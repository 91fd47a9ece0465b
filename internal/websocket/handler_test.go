package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadkit/threadkit/internal/auth"
	"github.com/threadkit/threadkit/internal/batcher"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/sites"
	"github.com/threadkit/threadkit/internal/users"
)

type handlerFixture struct {
	handler *Handler
	rdb     *cache.RedisClient
	users   *users.Store
	sites   *sites.Store
	auth    *auth.Service
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rdb := cache.NewRedisClientFromExisting(client)

	b := batcher.New(rdb, 2*time.Millisecond)
	t.Cleanup(b.Close)

	userStore := users.NewStore(rdb)
	svc := auth.NewService(rdb, userStore, []byte("test-secret"), time.Hour)
	return &handlerFixture{
		handler: NewHandler(NewHub(b), b, svc),
		rdb:     rdb,
		users:   userStore,
		sites:   sites.NewStore(rdb),
		auth:    svc,
	}
}

func TestResolveSite(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	site := models.NewSite("Test Site", "example.com")
	require.NoError(t, f.sites.Save(ctx, site))

	assert.Nil(t, f.handler.resolveSite(ctx, ""))
	assert.Nil(t, f.handler.resolveSite(ctx, "pk_does_not_exist"))

	got := f.handler.resolveSite(ctx, site.APIKeyPublic)
	require.NotNil(t, got)
	assert.Equal(t, site.ID, got.ID)
	assert.Equal(t, site.Domain, got.Domain)
}

func TestResolveUser(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	user := models.NewUser("alice")
	require.NoError(t, f.users.Save(ctx, user))
	token, sess, err := f.auth.CreateSession(ctx, user, "site-1", "", "")
	require.NoError(t, err)

	assert.Nil(t, f.handler.resolveUser(ctx, "not-a-jwt"))

	resolved := f.handler.resolveUser(ctx, token)
	require.NotNil(t, resolved)
	assert.Equal(t, user.ID, resolved.ID)
	assert.Equal(t, "alice", resolved.Name)

	// A revoked session kills the token even though its signature holds.
	require.NoError(t, f.auth.Logout(ctx, sess.ID))
	assert.Nil(t, f.handler.resolveUser(ctx, token))
}
