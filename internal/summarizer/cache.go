package summarizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheMaxEntries = 1024
	DefaultCacheTTL        = 48 * time.Hour
)

// Cached memoizes another Summarizer per paper. On a weekend every subscriber
// draws from the same feed, so one abstract is summarized once and concurrent
// requests for it share a single call.
type Cached struct {
	next       Summarizer
	items      *cache.Cache
	group      singleflight.Group
	maxEntries int
}

func NewCached(next Summarizer, maxEntries int, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}

	return &Cached{
		next:       next,
		items:      cache.New(ttl, ttl/2),
		maxEntries: maxEntries,
	}
}

func (c *Cached) Summarize(ctx context.Context, input Input) (string, error) {
	key := paperKey(input)
	if key == "" {
		return c.next.Summarize(ctx, input)
	}

	if v, ok := c.items.Get(key); ok {
		if summary, castOk := v.(string); castOk {
			return summary, nil
		}
	}

	// The shared call is bounded by the wrapped summarizer's own timeout.
	flight := c.group.DoChan(key, func() (any, error) {
		summary, err := c.next.Summarize(context.WithoutCancel(ctx), input)
		if err != nil {
			return "", err
		}

		c.store(key, summary)

		return summary, nil
	})

	select {
	case res := <-flight:
		if res.Err != nil {
			return "", res.Err
		}

		summary, _ := res.Val.(string)

		return summary, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Cached) store(key string, summary string) {
	if summary == "" {
		return
	}

	if c.items.ItemCount() >= c.maxEntries {
		c.items.DeleteExpired()
	}

	if c.items.ItemCount() >= c.maxEntries {
		return
	}

	c.items.SetDefault(key, summary)
}

// paperKey prefers the paper link; an edited abstract under the same link
// still gets a fresh summary.
func paperKey(input Input) string {
	abstract := oneLine(input.Abstract)
	if abstract == "" {
		return ""
	}

	hash := sha256.Sum256([]byte(oneLine(input.Title) + "\n" + abstract))

	return strings.TrimSpace(input.Link) + "#" + hex.EncodeToString(hash[:8])
}
