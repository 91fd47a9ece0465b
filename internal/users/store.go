// Package users reads and writes user records and their identity indexes.
package users

import (
	"context"

	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/models"
)

type Store struct {
	rdb *cache.RedisClient
}

func NewStore(rdb *cache.RedisClient) *Store {
	return &Store{rdb: rdb}
}

// Get loads a user by id; nil when the user does not exist.
func (s *Store) Get(ctx context.Context, userID string) (*models.User, error) {
	fields, err := s.rdb.HGetAll(ctx, models.KeyUser(userID))
	if err != nil {
		return nil, apperrors.ServiceUnavailable("user store").WithCause(err)
	}
	return models.UserFromHash(fields), nil
}

// MustGet loads a user or returns a 404 error.
func (s *Store) MustGet(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperrors.NotFound("user")
	}
	return u, nil
}

// Save writes the user hash.
func (s *Store) Save(ctx context.Context, u *models.User) error {
	if err := s.rdb.HSet(ctx, models.KeyUser(u.ID), u.ToHash()); err != nil {
		return apperrors.ServiceUnavailable("user store").WithCause(err)
	}
	return nil
}

// ByEmail resolves a user through the email index. Stale index entries
// (user erased) are dropped on the way through.
func (s *Store) ByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.byIndex(ctx, models.KeyEmailIndex(email))
}

// ByName resolves a user through the username index.
func (s *Store) ByName(ctx context.Context, name string) (*models.User, error) {
	return s.byIndex(ctx, models.KeyNameIndex(name))
}

// ByProvider resolves a user through an OAuth provider index.
func (s *Store) ByProvider(ctx context.Context, provider models.AuthProvider, providerID string) (*models.User, error) {
	return s.byIndex(ctx, models.KeyProviderIndex(provider, providerID))
}

// ByWallet resolves a user through a web3 wallet index.
func (s *Store) ByWallet(ctx context.Context, chain, addr string) (*models.User, error) {
	return s.byIndex(ctx, models.KeyWalletIndex(chain, addr))
}

func (s *Store) byIndex(ctx context.Context, indexKey string) (*models.User, error) {
	userID, found, err := s.rdb.Get(ctx, indexKey)
	if err != nil {
		return nil, apperrors.ServiceUnavailable("user store").WithCause(err)
	}
	if !found {
		return nil, nil
	}
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		// Erasure deletes the hash but cannot enumerate every index
		// pointing at it; clean the dangling entry here.
		_ = s.rdb.Del(ctx, indexKey)
		return nil, nil
	}
	return u, nil
}

// IndexEmail points the email index at a user.
func (s *Store) IndexEmail(ctx context.Context, email, userID string) error {
	return s.rdb.Set(ctx, models.KeyEmailIndex(email), userID)
}

// IndexName points the username index at a user.
func (s *Store) IndexName(ctx context.Context, name, userID string) error {
	return s.rdb.Set(ctx, models.KeyNameIndex(name), userID)
}

// IndexProvider points a provider index at a user.
func (s *Store) IndexProvider(ctx context.Context, provider models.AuthProvider, providerID, userID string) error {
	return s.rdb.Set(ctx, models.KeyProviderIndex(provider, providerID), userID)
}

// IndexWallet points a wallet index at a user.
func (s *Store) IndexWallet(ctx context.Context, chain, addr, userID string) error {
	return s.rdb.Set(ctx, models.KeyWalletIndex(chain, addr), userID)
}

// IncrTotalComments bumps the lifetime comment counter.
func (s *Store) IncrTotalComments(ctx context.Context, userID string) error {
	if userID == models.AnonymousUserID {
		return nil
	}
	_, err := s.rdb.HIncrBy(ctx, models.KeyUser(userID), "total_comments", 1)
	return err
}
