// Package catalog is the static registry of content sources. It is built
// once at startup and is read-only afterwards.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"regexp"
	"strings"

	"go.yaml.in/yaml/v3"
	"mvdan.cc/xurls/v2"

	"papermail/internal/domain"
)

// WeekendTopic marks the weekend override source. It is never resolvable
// through ByTopic.
const WeekendTopic domain.TopicID = "weekend"

//go:embed default.yaml
var defaultCatalog []byte

type fileSource struct {
	Topic    string `yaml:"topic"`
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
}

type file struct {
	Sources []fileSource `yaml:"sources"`
	Weekend fileSource   `yaml:"weekend"`
}

type Catalog struct {
	topics  []domain.Source
	byTopic map[domain.TopicID]domain.Source
	weekend domain.Source
}

// Load reads a YAML catalog from path, or the embedded default when path is
// empty.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog

	if path = strings.TrimSpace(path); path != "" {
		var err error

		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
	}

	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	sources := make([]domain.Source, 0, len(f.Sources)+1)
	for _, s := range f.Sources {
		sources = append(sources, domain.Source{
			Name:     strings.TrimSpace(s.Name),
			Topic:    domain.TopicID(strings.TrimSpace(s.Topic)),
			Endpoint: strings.TrimSpace(s.Endpoint),
		})
	}

	if strings.TrimSpace(f.Weekend.Endpoint) != "" {
		sources = append(sources, domain.Source{
			Name:     strings.TrimSpace(f.Weekend.Name),
			Topic:    WeekendTopic,
			Endpoint: strings.TrimSpace(f.Weekend.Endpoint),
			Weekend:  true,
		})
	}

	return New(sources)
}

func New(sources []domain.Source) (*Catalog, error) {
	endpointRe, err := xurls.StrictMatchingScheme(`https?://`)
	if err != nil {
		return nil, fmt.Errorf("create regexp: %w", err)
	}

	c := &Catalog{byTopic: make(map[domain.TopicID]domain.Source, len(sources))}

	var (
		errs       []error
		hasWeekend bool
	)

	for _, s := range sources {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("source %q: name is empty", s.Topic))
			continue
		}

		if !isEndpoint(endpointRe, s.Endpoint) {
			errs = append(errs, fmt.Errorf("source %q: endpoint %q is not an http(s) URL", s.Name, s.Endpoint))
			continue
		}

		if s.Weekend {
			if hasWeekend {
				errs = append(errs, fmt.Errorf("source %q: more than one weekend source", s.Name))
				continue
			}

			s.Topic = WeekendTopic
			c.weekend = s
			hasWeekend = true

			continue
		}

		if s.Topic == "" || s.Topic == WeekendTopic {
			errs = append(errs, fmt.Errorf("source %q: invalid topic id %q", s.Name, s.Topic))
			continue
		}

		if _, ok := c.byTopic[s.Topic]; ok {
			errs = append(errs, fmt.Errorf("source %q: duplicate topic id %q", s.Name, s.Topic))
			continue
		}

		c.byTopic[s.Topic] = s
		c.topics = append(c.topics, s)
	}

	if len(c.topics) == 0 {
		errs = append(errs, errors.New("no topic sources"))
	}

	if !hasWeekend {
		errs = append(errs, errors.New("no weekend source"))
	}

	if err = errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}

	return c, nil
}

func isEndpoint(re *regexp.Regexp, endpoint string) bool {
	return endpoint != "" && re.FindString(endpoint) == endpoint
}

func (c *Catalog) ByTopic(id domain.TopicID) (domain.Source, bool) {
	s, ok := c.byTopic[id]
	return s, ok
}

// RandomTopic draws uniformly over the non-weekend sources. rnd is not
// synchronized here; callers sharing it must serialize access.
func (c *Catalog) RandomTopic(rnd *rand.Rand) domain.Source {
	return c.topics[rnd.IntN(len(c.topics))]
}

func (c *Catalog) Weekend() domain.Source {
	return c.weekend
}

// Topics lists the topic sources in catalog order.
func (c *Catalog) Topics() []domain.Source {
	out := make([]domain.Source, len(c.topics))
	copy(out, c.topics)

	return out
}

// Known filters ids down to the ones present in the catalog.
func (c *Catalog) Known(ids []domain.TopicID) []domain.TopicID {
	out := make([]domain.TopicID, 0, len(ids))
	for _, id := range ids {
		if _, ok := c.byTopic[id]; ok {
			out = append(out, id)
		}
	}

	return out
}
