package feed

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"papermail/internal/domain"
)

type EntryFetcher interface {
	Fetch(ctx context.Context, src domain.Source) []domain.Entry
}

// CachedFetcher collapses concurrent fetches of one endpoint and keeps
// non-empty results for ttl. Empty results are never cached so a failing
// feed is retried by the next caller.
type CachedFetcher struct {
	next  EntryFetcher
	cache *cache.Cache
	group singleflight.Group
	ttl   time.Duration
}

func NewCachedFetcher(next EntryFetcher, ttl time.Duration) *CachedFetcher {
	cleanup := 2 * ttl
	if ttl <= 0 {
		cleanup = time.Minute
	}

	return &CachedFetcher{
		next:  next,
		cache: cache.New(ttl, cleanup),
		ttl:   ttl,
	}
}

func (c *CachedFetcher) Fetch(ctx context.Context, src domain.Source) []domain.Entry {
	key := src.Endpoint

	if c.ttl > 0 {
		if v, ok := c.cache.Get(key); ok {
			if entries, castOk := v.([]domain.Entry); castOk {
				return retag(entries, src.Name)
			}
		}
	}

	// The shared fetch outlives any single caller; Fetcher bounds it with its
	// own per-attempt timeout.
	flight := c.group.DoChan(key, func() (any, error) {
		entries := c.next.Fetch(context.WithoutCancel(ctx), src)
		if c.ttl > 0 && len(entries) > 0 {
			c.cache.Set(key, entries, cache.DefaultExpiration)
		}

		return entries, nil
	})

	select {
	case res := <-flight:
		entries, _ := res.Val.([]domain.Entry)

		return retag(entries, src.Name)
	case <-ctx.Done():
		return nil
	}
}

// retag copies entries under the caller's source name: several catalog
// sources may share one endpoint.
func retag(entries []domain.Entry, sourceName string) []domain.Entry {
	if len(entries) == 0 {
		return nil
	}

	out := make([]domain.Entry, len(entries))
	for i, e := range entries {
		e.SourceName = sourceName
		out[i] = e
	}

	return out
}
