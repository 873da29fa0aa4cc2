package selector_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"papermail/internal/catalog"
	"papermail/internal/domain"
	"papermail/internal/selector"
)

type stubFetcher struct {
	mu      sync.Mutex
	entries map[string][]domain.Entry
	fetched []string
}

func (f *stubFetcher) Fetch(_ context.Context, src domain.Source) []domain.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetched = append(f.fetched, src.Endpoint)

	entries := f.entries[src.Endpoint]
	out := make([]domain.Entry, len(entries))
	for i, e := range entries {
		e.SourceName = src.Name
		out[i] = e
	}

	return out
}

func (f *stubFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.fetched)
}

var (
	sourceA = domain.Source{Name: "Source A", Topic: "a", Endpoint: "https://a.example.com/feed"}
	sourceB = domain.Source{Name: "Source B", Topic: "b", Endpoint: "https://b.example.com/feed"}
	sourceC = domain.Source{Name: "Source C", Topic: "c", Endpoint: "https://c.example.com/feed"}
	sourceW = domain.Source{Name: "Weekend Source", Endpoint: "https://w.example.com/feed", Weekend: true}
)

func newCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	c, err := catalog.New([]domain.Source{sourceA, sourceB, sourceC, sourceW})
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}

	return c
}

func entriesFor(prefix string, n int) []domain.Entry {
	out := make([]domain.Entry, n)
	for i := range out {
		out[i] = domain.Entry{
			Title:   prefix + " paper",
			Link:    "https://" + prefix + ".example.com/abs/" + string(rune('0'+i)),
			Summary: "Abstract: about " + prefix,
		}
	}

	return out
}

func newFetcher() *stubFetcher {
	return &stubFetcher{entries: map[string][]domain.Entry{
		sourceA.Endpoint: entriesFor("a", 3),
		sourceB.Endpoint: entriesFor("b", 3),
		sourceC.Endpoint: entriesFor("c", 3),
		sourceW.Endpoint: entriesFor("w", 3),
	}}
}

func newSelector(t *testing.T, fetcher *stubFetcher) *selector.Selector {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return selector.New(newCatalog(t), fetcher, selector.NewRand(42), log)
}

func TestSelectWeekdayStaysWithinTopics(t *testing.T) {
	s := newSelector(t, newFetcher())
	sub := domain.Subscriber{Email: "x@example.com", Topics: []domain.TopicID{"a", "b"}}

	seen := map[string]int{}

	for range 1000 {
		sel, ok := s.Select(context.Background(), sub, false)
		if !ok {
			t.Fatalf("expected a selection on a weekday")
		}

		if sel.Weekend {
			t.Fatalf("weekday selection flagged as weekend")
		}

		if strings.HasPrefix(sel.Entry.Summary, domain.WeekendSummaryPrefix) {
			t.Fatalf("weekday summary carries weekend prefix: %q", sel.Entry.Summary)
		}

		seen[sel.Source.Name]++
	}

	if seen[sourceC.Name] != 0 {
		t.Fatalf("source C was never requested but was selected %d times", seen[sourceC.Name])
	}

	if seen[sourceA.Name] == 0 || seen[sourceB.Name] == 0 {
		t.Fatalf("expected both A and B to be drawn, got %v", seen)
	}
}

func TestSelectWeekendOverridesTopics(t *testing.T) {
	s := newSelector(t, newFetcher())
	sub := domain.Subscriber{Email: "x@example.com", Topics: []domain.TopicID{"a", "b"}}

	for range 1000 {
		sel, ok := s.Select(context.Background(), sub, true)
		if !ok {
			t.Fatalf("expected a selection on a weekend")
		}

		if sel.Source.Name != sourceW.Name {
			t.Fatalf("expected weekend source, got %q", sel.Source.Name)
		}

		if !sel.Weekend {
			t.Fatalf("weekend selection not flagged")
		}

		if !strings.HasPrefix(sel.Entry.Summary, domain.WeekendSummaryPrefix) {
			t.Fatalf("expected weekend prefix, got %q", sel.Entry.Summary)
		}
	}
}

func TestSelectWeekendIncludesSubscribersWithoutTopics(t *testing.T) {
	s := newSelector(t, newFetcher())

	sel, ok := s.Select(context.Background(), domain.Subscriber{Email: "x@example.com"}, true)
	if !ok {
		t.Fatalf("expected weekend delivery for subscriber without topics")
	}

	if sel.Source.Name != sourceW.Name {
		t.Fatalf("expected weekend source, got %q", sel.Source.Name)
	}
}

func TestSelectSkipsEmptyTopicsOnWeekday(t *testing.T) {
	fetcher := newFetcher()
	s := newSelector(t, fetcher)

	if _, ok := s.Select(context.Background(), domain.Subscriber{Email: "x@example.com"}, false); ok {
		t.Fatalf("expected skip for subscriber without topics")
	}

	if got := fetcher.fetchCount(); got != 0 {
		t.Fatalf("expected no fetch for skipped subscriber, got %d", got)
	}
}

func TestSelectIgnoresUnknownTopics(t *testing.T) {
	s := newSelector(t, newFetcher())

	sub := domain.Subscriber{Email: "x@example.com", Topics: []domain.TopicID{"nope", "c"}}
	for range 100 {
		sel, ok := s.Select(context.Background(), sub, false)
		if !ok {
			t.Fatalf("expected a selection")
		}

		if sel.Source.Name != sourceC.Name {
			t.Fatalf("expected only source C, got %q", sel.Source.Name)
		}
	}

	if _, ok := s.Select(context.Background(), domain.Subscriber{Topics: []domain.TopicID{"nope"}}, false); ok {
		t.Fatalf("expected skip when no topic resolves")
	}
}

func TestSelectEmptyFeedYieldsNotFound(t *testing.T) {
	fetcher := newFetcher()
	fetcher.entries[sourceA.Endpoint] = nil
	fetcher.entries[sourceW.Endpoint] = nil
	s := newSelector(t, fetcher)

	sel, ok := s.Select(context.Background(), domain.Subscriber{Topics: []domain.TopicID{"a"}}, false)
	if !ok {
		t.Fatalf("expected a selection")
	}

	if !sel.Entry.IsNotFound() {
		t.Fatalf("expected not-found entry, got %+v", sel.Entry)
	}

	if sel.Entry.SourceName != sourceA.Name {
		t.Fatalf("expected not-found entry tagged with %q, got %q", sourceA.Name, sel.Entry.SourceName)
	}

	weekend, ok := s.Select(context.Background(), domain.Subscriber{}, true)
	if !ok || !weekend.Entry.IsNotFound() || !weekend.Weekend {
		t.Fatalf("expected weekend not-found selection, got %+v (ok = %v)", weekend, ok)
	}
}

func TestSelectEntryComesFromFeed(t *testing.T) {
	fetcher := newFetcher()
	s := newSelector(t, fetcher)

	sel, _ := s.Select(context.Background(), domain.Subscriber{Topics: []domain.TopicID{"b"}}, false)

	found := false
	for _, e := range fetcher.entries[sourceB.Endpoint] {
		if e.Link == sel.Entry.Link && e.Title == sel.Entry.Title {
			found = true
		}
	}

	if !found {
		t.Fatalf("selected entry %+v is not in source B", sel.Entry)
	}
}

func TestSampleDrawsFromTopicSources(t *testing.T) {
	s := newSelector(t, newFetcher())

	for range 100 {
		sel := s.Sample(context.Background())
		if sel.Weekend || sel.Source.Name == sourceW.Name {
			t.Fatalf("sample must not use the weekend source")
		}
	}
}

func TestSelectConcurrentCallers(t *testing.T) {
	s := newSelector(t, newFetcher())
	sub := domain.Subscriber{Topics: []domain.TopicID{"a", "b", "c"}}

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			for range 50 {
				if _, ok := s.Select(context.Background(), sub, false); !ok {
					t.Errorf("expected a selection")
				}
			}
		})
	}
	wg.Wait()
}

func TestSelectMixedAvailabilityScenario(t *testing.T) {
	only := domain.Entry{Title: "Only A", Link: "https://a.example.com/abs/1", Summary: "Abstract: A."}
	fetcher := &stubFetcher{entries: map[string][]domain.Entry{
		sourceA.Endpoint: {only},
	}}
	s := newSelector(t, fetcher)
	sub := domain.Subscriber{Email: "x@example.com", Topics: []domain.TopicID{"a", "c"}}

	var fromA, fromC int

	for range 1000 {
		sel, ok := s.Select(context.Background(), sub, false)
		if !ok {
			t.Fatalf("expected a selection")
		}

		switch sel.Source.Topic {
		case sourceA.Topic:
			fromA++
			if sel.Entry.Link != only.Link || sel.Entry.Title != only.Title {
				t.Fatalf("expected mocked entry for A, got %+v", sel.Entry)
			}
		case sourceC.Topic:
			fromC++
			if !sel.Entry.IsNotFound() {
				t.Fatalf("expected not-found entry for C, got %+v", sel.Entry)
			}
		default:
			t.Fatalf("unexpected source %q", sel.Source.Name)
		}
	}

	if fromA == 0 || fromC == 0 {
		t.Fatalf("expected draws from both topics, got A=%d C=%d", fromA, fromC)
	}
}
