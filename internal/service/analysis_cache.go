package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/medical-examination-assistant/internal/domain"
	"github.com/medical-examination-assistant/pkg/external"
)

// RemoteCache is the distributed tier of the analysis cache
type RemoteCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// AnalysisCache keeps pipeline results keyed by the transcript hash.
// Tier 1 is an in-memory expirable LRU, tier 2 an optional Redis cache.
type AnalysisCache struct {
	memory   *expirable.LRU[string, *domain.AnalysisResult]
	remote   RemoteCache
	remoteTTL time.Duration

	logger  *logrus.Logger
	stats   CacheStats
	statsMu sync.Mutex
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	MemoryHits   int64 `json:"memory_hits"`
	MemoryMisses int64 `json:"memory_misses"`
	RemoteHits   int64 `json:"remote_hits"`
	RemoteMisses int64 `json:"remote_misses"`
	ErrorCount   int64 `json:"error_count"`
}

// AnalysisCacheConfig configures both tiers
type AnalysisCacheConfig struct {
	MemorySize int
	MemoryTTL  time.Duration
	RemoteTTL  time.Duration
}

// NewAnalysisCache creates the cache. remote may be nil.
func NewAnalysisCache(config AnalysisCacheConfig, remote RemoteCache, logger *logrus.Logger) *AnalysisCache {
	if config.MemorySize <= 0 {
		config.MemorySize = 256
	}
	if config.MemoryTTL <= 0 {
		config.MemoryTTL = time.Hour
	}
	if config.RemoteTTL <= 0 {
		config.RemoteTTL = 24 * time.Hour
	}

	return &AnalysisCache{
		memory:    expirable.NewLRU[string, *domain.AnalysisResult](config.MemorySize, nil, config.MemoryTTL),
		remote:    remote,
		remoteTTL: config.RemoteTTL,
		logger:    logger,
	}
}

func analysisKey(transcript string) string {
	return external.Key("analysis", strings.TrimSpace(transcript))
}

// Get looks the transcript up in memory, then in the remote tier
func (c *AnalysisCache) Get(ctx context.Context, transcript string) (*domain.AnalysisResult, bool) {
	if c == nil {
		return nil, false
	}
	key := analysisKey(transcript)

	if result, ok := c.memory.Get(key); ok {
		c.count(func(s *CacheStats) { s.MemoryHits++ })
		c.logger.WithField("cache_tier", "memory").Debug("Analysis cache hit")
		return result, true
	}
	c.count(func(s *CacheStats) { s.MemoryMisses++ })

	if c.remote == nil {
		return nil, false
	}

	var result domain.AnalysisResult
	found, err := c.remote.Get(ctx, key, &result)
	if err != nil {
		c.count(func(s *CacheStats) { s.ErrorCount++ })
		c.logger.WithError(err).Warn("Analysis cache lookup failed")
		return nil, false
	}
	if !found {
		c.count(func(s *CacheStats) { s.RemoteMisses++ })
		return nil, false
	}

	c.count(func(s *CacheStats) { s.RemoteHits++ })
	c.logger.WithField("cache_tier", "redis").Debug("Analysis cache hit")
	c.memory.Add(key, &result)
	return &result, true
}

// Set stores the result in both tiers
func (c *AnalysisCache) Set(ctx context.Context, transcript string, result *domain.AnalysisResult) {
	if c == nil || result == nil {
		return
	}
	key := analysisKey(transcript)
	c.memory.Add(key, result)

	if c.remote == nil {
		return
	}
	if err := c.remote.Set(ctx, key, result, c.remoteTTL); err != nil {
		c.count(func(s *CacheStats) { s.ErrorCount++ })
		c.logger.WithError(err).Warn("Analysis cache store failed")
	}
}

// Invalidate drops the transcript from both tiers
func (c *AnalysisCache) Invalidate(ctx context.Context, transcript string) error {
	if c == nil {
		return nil
	}
	key := analysisKey(transcript)
	c.memory.Remove(key)
	if c.remote == nil {
		return nil
	}
	return c.remote.Delete(ctx, key)
}

// Stats returns a snapshot of the counters
func (c *AnalysisCache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *AnalysisCache) count(update func(*CacheStats)) {
	c.statsMu.Lock()
	update(&c.stats)
	c.statsMu.Unlock()
}
