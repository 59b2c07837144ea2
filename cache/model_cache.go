package cache

import (
	"context"
	"log"
	"time"

	models "brewlytics/database/models_pkg"
)

const (
	activeModelKeyPrefix = "active_model:"
	activeModelTTL       = 1 * time.Hour
)

// ModelCache is the warm-path cache for active model artefacts, keyed by
// model name. Entries are written on read-through and invalidated by the
// registry on commit and rollback, so a hit is always the current active row.
type ModelCache struct {
	redis *RedisClient
}

// cacheEntry carries the artefact bytes alongside the row. MLModel excludes
// the artefact from its JSON form, so the round-trip needs an explicit field.
type cacheEntry struct {
	Model    models.MLModel `json:"model"`
	Artefact []byte         `json:"artefact"`
}

// NewModelCache creates a model cache backed by Redis. redis may be nil, in
// which case every lookup misses.
func NewModelCache(redis *RedisClient) *ModelCache {
	return &ModelCache{redis: redis}
}

// Get returns the cached active model for a name, if present.
func (c *ModelCache) Get(modelName string) (*models.MLModel, bool) {
	if c.redis == nil {
		return nil, false
	}
	var entry cacheEntry
	if err := c.redis.Get(context.Background(), activeModelKeyPrefix+modelName, &entry); err != nil {
		return nil, false
	}
	entry.Model.Artefact = entry.Artefact
	return &entry.Model, true
}

// Set stores the active model for a name with a TTL.
func (c *ModelCache) Set(modelName string, m *models.MLModel) {
	if c.redis == nil || m == nil {
		return
	}
	entry := cacheEntry{Model: *m, Artefact: m.Artefact}
	if err := c.redis.Set(context.Background(), activeModelKeyPrefix+modelName, entry, activeModelTTL); err != nil {
		log.Printf("⚠️  Failed to cache active model %s: %v", modelName, err)
	}
}

// Invalidate drops the cached entry for a name.
func (c *ModelCache) Invalidate(modelName string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Delete(context.Background(), activeModelKeyPrefix+modelName); err != nil {
		log.Printf("⚠️  Failed to invalidate model cache %s: %v", modelName, err)
	}
}
