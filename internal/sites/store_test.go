package sites

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/models"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(cache.NewRedisClientFromExisting(client)), mr
}

func TestSaveAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	site := models.NewSite("Example", "example.com")
	site.Settings.MaxCommentLen = 4000
	require.NoError(t, s.Save(ctx, site))

	got, err := s.Get(ctx, site.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Example", got.Name)
	assert.Equal(t, "example.com", got.Domain)
	assert.Equal(t, 4000, got.Settings.MaxCommentLen)
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestByAPIKey(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	site := models.NewSite("Example", "example.com")
	require.NoError(t, s.Save(ctx, site))

	for _, key := range []string{site.APIKeyPublic, site.APIKeySecret} {
		got, err := s.ByAPIKey(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, site.ID, got.ID)
	}

	got, err := s.ByAPIKey(ctx, "pk_bogus")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestList(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a := models.NewSite("A", "a.example.com")
	b := models.NewSite("B", "b.example.com")
	require.NoError(t, s.Save(ctx, a))
	require.NoError(t, s.Save(ctx, b))

	got, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	ids := map[string]bool{got[0].ID: true, got[1].ID: true}
	assert.True(t, ids[a.ID])
	assert.True(t, ids[b.ID])
}
