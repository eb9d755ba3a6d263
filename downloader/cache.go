package downloader

import (
	"context"
	"time"

	"github.com/bluele/gcache"
)

// Cached wraps a Downloader with a TTL cache over Get. Realtime
// payloads are fetched on every consumer poll; without this, ten
// sensors watching ten stops on the same provider would hammer the
// upstream with identical requests.
//
// FetchFile passes through untouched, static archives have their own
// disk cache.
type Cached struct {
	inner Downloader
	ttl   time.Duration
	cache gcache.Cache
}

func NewCached(inner Downloader, size int, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		ttl:   ttl,
		cache: gcache.New(size).LRU().Build(),
	}
}

func (c *Cached) Get(ctx context.Context, url string, options FetchOptions) ([]byte, error) {
	if v, err := c.cache.Get(url); err == nil {
		return v.([]byte), nil
	}

	body, err := c.inner.Get(ctx, url, options)
	if err != nil {
		return nil, err
	}

	_ = c.cache.SetWithExpire(url, body, c.ttl)
	return body, nil
}

func (c *Cached) FetchFile(ctx context.Context, url, dest string, options FetchOptions) (int64, error) {
	return c.inner.FetchFile(ctx, url, dest, options)
}
