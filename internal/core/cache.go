// Package core provides the business logic and service layer for the netops job system.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/target/netops-go/internal/domain/model"
)

// CacheRepository is the port the definition cache reads and writes through.
// The data layer provides the Redis-backed implementation.
type CacheRepository interface {
	// Set stores a value under key. A zero TTL means the key never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value for key, or nil when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
}

// DefinitionCacheService keeps job definition documents warm for workers so
// every task delivery does not read the definition row again. Reads are
// cache-aside with a short TTL; upserts write the fresh document through.
type DefinitionCacheService struct {
	cache CacheRepository
	defs  JobDefinitionsRepository
	ttl   time.Duration
}

// DefinitionCacheConfig holds configuration for definition caching.
type DefinitionCacheConfig struct {
	TTL time.Duration `json:"ttl"`
}

// DefinitionCacheServiceOptions bundles dependencies for NewDefinitionCacheService.
type DefinitionCacheServiceOptions struct {
	Cache       CacheRepository
	Definitions JobDefinitionsRepository
	Config      DefinitionCacheConfig
}

// DefaultDefinitionCacheConfig returns a DefinitionCacheConfig with sensible defaults.
func DefaultDefinitionCacheConfig() DefinitionCacheConfig {
	return DefinitionCacheConfig{
		TTL: 5 * time.Minute,
	}
}

// NewDefinitionCacheService creates a new DefinitionCacheService.
func NewDefinitionCacheService(opts DefinitionCacheServiceOptions) *DefinitionCacheService {
	return &DefinitionCacheService{
		cache: opts.Cache,
		defs:  opts.Definitions,
		ttl:   opts.Config.TTL,
	}
}

// GetDefinition returns the definition for id, reading through the cache.
// A cache miss falls back to the repository and repopulates the key.
func (s *DefinitionCacheService) GetDefinition(ctx context.Context, id string) (*model.JobDefinition, error) {
	if id == "" {
		return nil, fmt.Errorf("definition id is required")
	}

	key := s.definitionKey(id)
	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(cached) > 0 {
		var def model.JobDefinition
		if err := json.Unmarshal(cached, &def); err == nil {
			return &def, nil
		}
		// Unreadable entry: drop it and fall through to the repository.
		_, _ = s.cache.Delete(ctx, key)
	}

	def, err := s.defs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.CacheDefinition(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// CacheDefinition stores the provided definition without fetching it from
// the repository again. Useful when the caller already has a freshly
// upserted definition on hand. An unchanged document skips the write.
func (s *DefinitionCacheService) CacheDefinition(ctx context.Context, def *model.JobDefinition) error {
	if def == nil || def.ID == "" {
		return nil
	}

	doc, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode definition %s: %w", def.ID, err)
	}

	key := s.definitionKey(def.ID)
	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		return err
	}
	if len(cached) > 0 && string(cached) == string(doc) {
		return nil
	}

	return s.cache.Set(ctx, key, doc, s.ttl)
}

// Invalidate removes the cached document for a definition id.
// This should be called when a definition is deleted.
func (s *DefinitionCacheService) Invalidate(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	_, err := s.cache.Delete(ctx, s.definitionKey(id))
	return err
}

// definitionKey generates a cache key for a definition document.
func (s *DefinitionCacheService) definitionKey(id string) string {
	return "jobdef:doc:" + id
}
