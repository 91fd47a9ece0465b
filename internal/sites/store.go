// Package sites persists tenant records and the API-key index that
// resolves incoming requests to a tenant.
package sites

import (
	"context"
	"encoding/json"

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

// Get loads a site by id; nil when it does not exist.
func (s *Store) Get(ctx context.Context, siteID string) (*models.Site, error) {
	raw, found, err := s.rdb.Get(ctx, models.KeySiteConfig(siteID))
	if err != nil {
		return nil, apperrors.ServiceUnavailable("site store").WithCause(err)
	}
	if !found {
		return nil, nil
	}
	var site models.Site
	if err := json.Unmarshal([]byte(raw), &site); err != nil {
		return nil, apperrors.InternalError("corrupt site config").WithCause(err)
	}
	return &site, nil
}

// ByAPIKey resolves a site from either of its API keys.
func (s *Store) ByAPIKey(ctx context.Context, apiKey string) (*models.Site, error) {
	siteID, found, err := s.rdb.Get(ctx, models.KeyAPIKeySite(apiKey))
	if err != nil {
		return nil, apperrors.ServiceUnavailable("site store").WithCause(err)
	}
	if !found {
		return nil, nil
	}
	return s.Get(ctx, siteID)
}

// Save writes the site config and both API-key index entries.
func (s *Store) Save(ctx context.Context, site *models.Site) error {
	raw, err := json.Marshal(site)
	if err != nil {
		return apperrors.InternalError("encode site config").WithCause(err)
	}
	if err := s.rdb.Set(ctx, models.KeySiteConfig(site.ID), string(raw)); err != nil {
		return apperrors.ServiceUnavailable("site store").WithCause(err)
	}
	if err := s.rdb.Set(ctx, models.KeyAPIKeySite(site.APIKeyPublic), site.ID); err != nil {
		return apperrors.ServiceUnavailable("site store").WithCause(err)
	}
	if err := s.rdb.Set(ctx, models.KeyAPIKeySite(site.APIKeySecret), site.ID); err != nil {
		return apperrors.ServiceUnavailable("site store").WithCause(err)
	}
	return nil
}

// List walks site:*:config. CLI-only; the hot path never scans.
func (s *Store) List(ctx context.Context) ([]*models.Site, error) {
	var sitesOut []*models.Site
	var cursor uint64
	for {
		keys, next, err := s.rdb.Raw().Scan(ctx, cursor, "site:*:config", 100).Result()
		if err != nil {
			return nil, apperrors.ServiceUnavailable("site store").WithCause(err)
		}
		for _, key := range keys {
			raw, found, err := s.rdb.Get(ctx, key)
			if err != nil || !found {
				continue
			}
			var site models.Site
			if err := json.Unmarshal([]byte(raw), &site); err != nil {
				continue
			}
			sitesOut = append(sitesOut, &site)
		}
		cursor = next
		if cursor == 0 {
			return sitesOut, nil
		}
	}
}
