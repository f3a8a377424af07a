// Package embedding turns text into fixed-length vectors. Remote results are
// cached by content hash; when the remote service is missing, slow or broken
// the deterministic Fallback vector is used instead, so Embed never fails.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/larder/internal/observe"
	"github.com/felixgeelhaar/larder/internal/provider"
)

// DefaultDimensions matches text-embedding-3-small.
const DefaultDimensions = 1536

// Config tunes a Provider.
type Config struct {
	Dimensions int
	CacheSize  int64
	Workers    int
	Timeout    time.Duration
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		Dimensions: DefaultDimensions,
		CacheSize:  10000,
		Workers:    4,
		Timeout:    5 * time.Second,
	}
}

// Provider is the total text-to-vector function used for both indexing and
// querying. It is safe for concurrent use.
type Provider struct {
	remote provider.Embedder
	dims   int
	cache  *ristretto.Cache
	group  singleflight.Group
	bridge *Bridge
	obs    *observe.Observer
}

// New creates a Provider. remote may be nil, in which case every vector
// comes from Fallback.
func New(remote provider.Embedder, cfg Config, obs *observe.Observer) (*Provider, error) {
	def := DefaultConfig()
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = def.Dimensions
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if obs == nil {
		obs = observe.Discard()
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cfg.CacheSize * 10,
		MaxCost:            cfg.CacheSize,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	return &Provider{
		remote: remote,
		dims:   cfg.Dimensions,
		cache:  cache,
		bridge: NewBridge(cfg.Workers, cfg.Timeout),
		obs:    obs,
	}, nil
}

// Dimensions returns the length of every vector Embed produces.
func (p *Provider) Dimensions() int {
	return p.dims
}

// Name identifies the remote service, or "offline".
func (p *Provider) Name() string {
	if p.remote == nil {
		return "offline"
	}
	return p.remote.Name()
}

// Embed returns the vector for text. Remote failures are logged and answered
// with the fallback vector, which is not cached so a recovered service is
// used on the next call.
func (p *Provider) Embed(ctx context.Context, text string) []float32 {
	key := cacheKey(text)
	if v, ok := p.cache.Get(key); ok {
		p.obs.Metrics().Embedding(observe.SourceCache)
		return clone(v.([]float32))
	}

	if p.remote == nil {
		p.obs.Metrics().Embedding(observe.SourceFallback)
		return Fallback(text, p.dims)
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		vec, err := p.bridge.Run(ctx, func(ctx context.Context) ([]float32, error) {
			return p.remote.Embed(ctx, text)
		})
		if err == nil && len(vec) != p.dims {
			err = fmt.Errorf("%s returned %d dimensions, want %d (set dimensions to %d to match the model)",
				p.remote.Name(), len(vec), p.dims, len(vec))
		}
		if err != nil {
			return nil, err
		}
		p.cache.Set(key, vec, 1)
		return vec, nil
	})
	if err != nil {
		p.obs.Log().Warn().
			Str("provider", p.remote.Name()).
			Err(err).
			Msg("remote embedding failed, using fallback")
		p.obs.Metrics().Embedding(observe.SourceFallback)
		return Fallback(text, p.dims)
	}

	p.obs.Metrics().Embedding(observe.SourceRemote)
	return clone(v.([]float32))
}

// Close releases the cache.
func (p *Provider) Close() {
	p.cache.Close()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func clone(v []float32) []float32 {
	return append([]float32(nil), v...)
}
