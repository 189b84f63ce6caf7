// Package searchcache caches provider search results in a key-value store.
package searchcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/shoplens/internal/db"
	"github.com/kailas-cloud/shoplens/internal/domain/product"
	"github.com/kailas-cloud/shoplens/internal/domain/search/request"
)

// DefaultKeyPrefix namespaces cache keys.
const DefaultKeyPrefix = "shoplens:search:"

// searcher is the decorated provider.
type searcher interface {
	Name() string
	Search(ctx context.Context, req request.Request) ([]product.Product, error)
}

// store is the consumer interface for the result cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedProvider serves repeated searches from the store.
// Only successful, non-empty results are cached; store failures degrade to a miss.
type CachedProvider struct {
	inner      searcher
	store      store
	ttl        time.Duration
	prefix     string
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"/"error"), passed explicitly.
func New(
	inner searcher,
	s store,
	ttl time.Duration,
	prefix string,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedProvider {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{
		inner:      inner,
		store:      s,
		ttl:        ttl,
		prefix:     prefix,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Name returns the decorated provider's name.
func (c *CachedProvider) Name() string { return c.inner.Name() }

// Search returns cached products or calls the inner provider.
func (c *CachedProvider) Search(ctx context.Context, req request.Request) ([]product.Product, error) {
	key := c.cacheKey(req)

	if products, ok := c.getFromCache(ctx, key); ok {
		c.incCache("hit")
		return products, nil
	}

	c.incCache("miss")

	products, err := c.inner.Search(ctx, req)
	if err != nil {
		return products, err //nolint:wrapcheck // provider errors are already wrapped with provider context
	}
	if len(products) > 0 {
		c.putToCache(ctx, key, products)
	}
	return products, nil
}

func (c *CachedProvider) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *CachedProvider) cacheKey(req request.Request) string {
	parts := []string{
		c.inner.Name(),
		req.Query(),
		strconv.Itoa(req.Page()),
		strconv.Itoa(req.Limit()),
		req.Country(),
		req.Language(),
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return c.prefix + hex.EncodeToString(h[:])
}

func (c *CachedProvider) getFromCache(ctx context.Context, key string) ([]product.Product, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.incCache("error")
			c.logger.Warn("Failed to get cached search", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	var products []product.Product
	if err := json.Unmarshal(data, &products); err != nil || len(products) == 0 {
		c.logger.Warn("Failed to parse cached search", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return products, true
}

func (c *CachedProvider) putToCache(ctx context.Context, key string, products []product.Product) {
	data, err := json.Marshal(products)
	if err != nil {
		c.logger.Warn("Failed to encode search for cache", zap.Error(err))
		return
	}
	if err := c.store.SetWithTTL(ctx, key, data, c.ttl); err != nil {
		c.incCache("error")
		c.logger.Warn("Failed to cache search", zap.String("key", key), zap.Error(err))
	}
}
