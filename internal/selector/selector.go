// Package selector picks the one entry a subscriber receives on a tick.
package selector

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"papermail/internal/catalog"
	"papermail/internal/domain"
	"papermail/internal/feed"
)

type Selector struct {
	catalog *catalog.Catalog
	fetcher feed.EntryFetcher
	log     *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// New builds a Selector. A nil rnd is replaced by a time-seeded PCG source.
func New(
	c *catalog.Catalog,
	fetcher feed.EntryFetcher,
	rnd *rand.Rand,
	log *slog.Logger,
) *Selector {
	if rnd == nil {
		rnd = NewRand(0)
	}

	return &Selector{
		catalog: c,
		fetcher: fetcher,
		log:     log,
		rnd:     rnd,
	}
}

// NewRand returns a PCG-backed source. A zero seed means time-seeded.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Select resolves the source for sub and draws one entry from it. The
// boolean is false when the subscriber has nothing to receive on a weekday.
func (s *Selector) Select(
	ctx context.Context,
	sub domain.Subscriber,
	isWeekend bool,
) (domain.Selection, bool) {
	if isWeekend {
		return s.draw(ctx, s.catalog.Weekend(), true), true
	}

	if len(sub.Topics) == 0 {
		s.log.DebugContext(ctx, "Skipping subscriber without topics",
			"email", sub.Email)

		return domain.Selection{}, false
	}

	known := s.catalog.Known(sub.Topics)
	if len(known) < len(sub.Topics) {
		s.log.WarnContext(ctx, "Ignoring unknown topics",
			"email", sub.Email,
			"topics", sub.Topics,
			"knownTopics", known)
	}

	if len(known) == 0 {
		return domain.Selection{}, false
	}

	topic := known[s.intN(len(known))]
	src, _ := s.catalog.ByTopic(topic)

	return s.draw(ctx, src, false), true
}

// Sample draws from a uniformly chosen topic source.
func (s *Selector) Sample(ctx context.Context) domain.Selection {
	s.mu.Lock()
	src := s.catalog.RandomTopic(s.rnd)
	s.mu.Unlock()

	return s.draw(ctx, src, false)
}

func (s *Selector) draw(
	ctx context.Context,
	src domain.Source,
	weekend bool,
) domain.Selection {
	entries := s.fetcher.Fetch(ctx, src)
	if len(entries) == 0 {
		s.log.InfoContext(ctx, "No entries available",
			"source", src.Name,
			"endpoint", src.Endpoint)

		return domain.Selection{
			Entry:   domain.NotFoundEntry(src.Name),
			Source:  src,
			Weekend: weekend,
		}
	}

	entry := entries[s.intN(len(entries))]
	entry.SourceName = src.Name

	if weekend {
		entry.Summary = domain.WeekendSummaryPrefix + entry.Summary
	}

	return domain.Selection{
		Entry:   entry,
		Source:  src,
		Weekend: weekend,
	}
}

func (s *Selector) intN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rnd.IntN(n)
}
