package licensekey

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/cespare/xxhash"
	"github.com/cornelk/hashmap"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

const defaultCacheSize = 64

// Cache memoizes Deserialize together with the signature outcome under one
// trust context. Keys are the exact input strings. Validation is time
// dependent and is recomputed on every call.
//
// A Cache is safe for concurrent use. Concurrent first parses of the same key
// share one parse; racing inserts keep the first stored record.
type Cache struct {
	trust   *TrustContext
	entries *hashmap.HashMap
	group   singleflight.Group
	metrics *cacheMetrics
	logger  log.Interface
	reg     prometheus.Registerer
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithRegisterer exports the cache counters to reg.
func WithRegisterer(reg prometheus.Registerer) CacheOption {
	return func(c *Cache) { c.reg = reg }
}

// WithCacheLogger sets the logger for parse and signature failures.
func WithCacheLogger(l log.Interface) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// NewCache returns an empty cache verifying signatures with trust. A nil trust
// uses DefaultTrust.
func NewCache(trust *TrustContext, opts ...CacheOption) (*Cache, error) {
	if trust == nil {
		trust = DefaultTrust()
	}
	c := &Cache{
		trust:   trust,
		entries: hashmap.New(defaultCacheSize),
		logger:  log.Log,
	}
	c.metrics = newCacheMetrics(func() float64 { return float64(c.Len()) })
	for _, opt := range opts {
		opt(c)
	}
	if c.reg != nil {
		if err := c.metrics.register(c.reg); err != nil {
			return nil, fmt.Errorf("register cache metrics: %w", err)
		}
	}
	return c, nil
}

// Trust returns the trust context signatures are checked against.
func (c *Cache) Trust() *TrustContext { return c.trust }

// Len returns the number of cached keys.
func (c *Cache) Len() int { return c.entries.Len() }

// Forget drops key from the cache.
func (c *Cache) Forget(key string) { c.entries.Del(key) }

// Deserialize is the package Deserialize, memoized.
func (c *Cache) Deserialize(key string) (*Record, error) {
	return c.DeserializeContext(context.Background(), key)
}

// DeserializeContext is Deserialize with a context bounding key source retries.
func (c *Cache) DeserializeContext(ctx context.Context, key string) (*Record, error) {
	if v, ok := c.entries.GetStringKey(key); ok {
		c.metrics.hits.Inc()
		return v.(*Record), nil
	}
	c.metrics.misses.Inc()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.load(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}

func (c *Cache) load(ctx context.Context, key string) (*Record, error) {
	logger := c.logger.WithField("key", KeyDigest(key))
	r, err := Deserialize(key)
	if err != nil {
		c.metrics.parseFailures.Inc()
		logger.WithError(err).Debug("license key rejected")
		return nil, err
	}
	if !r.checksSignature() {
		actual, _ := c.entries.GetOrInsert(key, r)
		return actual.(*Record), nil
	}

	verr := c.trust.verify(ctx, r)
	if verr != nil && checkDeferred(verr) {
		logger.WithError(verr).Warn("signature check deferred")
		return r, nil
	}
	if verr != nil {
		c.metrics.signatureFailures.Inc()
		logger.WithField("id", r.UniqueID()).WithError(verr).Info("license signature rejected")
	}
	r.sig = &signatureState{trust: c.trust, err: verr}
	actual, _ := c.entries.GetOrInsert(key, r)
	return actual.(*Record), nil
}

// Validate parses key through the cache and validates it with the cache's trust context.
// The record is returned whenever the key parses, even if validation fails.
func (c *Cache) Validate(key string, vc ValidationContext) (*Record, error) {
	return c.ValidateContext(context.Background(), key, vc)
}

// ValidateContext is Validate with a context bounding key source retries.
func (c *Cache) ValidateContext(ctx context.Context, key string, vc ValidationContext) (*Record, error) {
	r, err := c.DeserializeContext(ctx, key)
	if err != nil {
		return nil, err
	}
	return r, ValidateContext(ctx, r, c.trust, vc)
}

// KeyDigest identifies a license key in logs and stores without revealing it.
func KeyDigest(key string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}
