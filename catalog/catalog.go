// Package catalog lists the metrics a competition poll can offer and maps
// poll labels back to the tracker's metric keys.
package catalog

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"competition-lifecycle/models"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	KindSkill = "skill"
	KindBoss  = "boss"
)

//go:embed metrics.yaml
var embeddedMetrics []byte

// Metric is one trackable skill or boss.
type Metric struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
	Kind string `yaml:"-"`
}

// Option is a poll answer built from a Metric.
type Option struct {
	Key   string
	Label string
	Emoji string
}

type document struct {
	Skills []Metric `yaml:"skills"`
	Bosses []Metric `yaml:"bosses"`
}

// Catalog is immutable after Parse and safe for concurrent use.
type Catalog struct {
	metrics []Metric
	byKey   map[string]Metric
	bySlug  map[string]Metric
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(embeddedMetrics)
	})
	return defaultCatalog, defaultErr
}

// Parse decodes a YAML catalog document.
func Parse(raw []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode metric catalog: %w", err)
	}

	c := &Catalog{
		byKey:  make(map[string]Metric),
		bySlug: make(map[string]Metric),
	}
	titler := cases.Title(language.English)
	add := func(m Metric, kind string) error {
		m.Key = strings.TrimSpace(m.Key)
		if m.Key == "" {
			return fmt.Errorf("metric catalog: empty %s key", kind)
		}
		if _, dup := c.byKey[m.Key]; dup {
			return fmt.Errorf("metric catalog: duplicate key %q", m.Key)
		}
		if m.Name == "" {
			m.Name = titler.String(strings.ReplaceAll(m.Key, "_", " "))
		}
		m.Kind = kind
		c.metrics = append(c.metrics, m)
		c.byKey[m.Key] = m
		c.bySlug[slug.Make(m.Name)] = m
		c.bySlug[slug.Make(strings.ReplaceAll(m.Key, "_", " "))] = m
		return nil
	}
	for _, m := range doc.Skills {
		if err := add(m, KindSkill); err != nil {
			return nil, err
		}
	}
	for _, m := range doc.Bosses {
		if err := add(m, KindBoss); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Lookup finds a metric by its tracker key.
func (c *Catalog) Lookup(key string) (Metric, bool) {
	m, ok := c.byKey[strings.ToLower(strings.TrimSpace(key))]
	return m, ok
}

// Resolve maps a poll label (display name) to its metric. Matching ignores
// case and punctuation, so "Kree'Arra" and "kreearra" resolve alike.
func (c *Catalog) Resolve(label string) (Metric, bool) {
	m, ok := c.bySlug[slug.Make(label)]
	return m, ok
}

// DisplayName prefers the catalog name and falls back to the raw key.
func (c *Catalog) DisplayName(key string) string {
	if m, ok := c.Lookup(key); ok {
		return m.Name
	}
	return key
}

// KindFor maps a competition type to the metric kind it polls over.
func KindFor(competitionType string) string {
	switch competitionType {
	case models.CompetitionTypeSkill:
		return KindSkill
	case models.CompetitionTypeBoss:
		return KindBoss
	default:
		return ""
	}
}

// ListByType returns every metric offered for the competition type, in catalog order.
func (c *Catalog) ListByType(competitionType string) []Metric {
	kind := KindFor(competitionType)
	var out []Metric
	for _, m := range c.metrics {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// EmojiName is the application emoji the chat gateway attaches to a metric.
// Skill emojis carry a "_skill" suffix to keep them apart from boss art.
func EmojiName(m Metric) string {
	if m.Kind == KindSkill {
		return m.Key + "_skill"
	}
	return m.Key
}

// BuildPollOptions picks up to count shuffled options of the competition type,
// leaving out excluded keys (blacklists and recently chosen metrics).
// rnd may be nil to use the global source.
func (c *Catalog) BuildPollOptions(competitionType string, exclude []string, count int, rnd *rand.Rand) []Option {
	skip := make(map[string]struct{}, len(exclude))
	for _, k := range exclude {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			skip[k] = struct{}{}
		}
	}

	var candidates []Metric
	for _, m := range c.ListByType(competitionType) {
		if _, excluded := skip[strings.ToLower(m.Key)]; excluded {
			continue
		}
		candidates = append(candidates, m)
	}

	swap := func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] }
	if rnd != nil {
		rnd.Shuffle(len(candidates), swap)
	} else {
		rand.Shuffle(len(candidates), swap)
	}

	if count > 0 && len(candidates) > count {
		candidates = candidates[:count]
	}
	options := make([]Option, 0, len(candidates))
	for _, m := range candidates {
		options = append(options, Option{Key: m.Key, Label: m.Name, Emoji: EmojiName(m)})
	}
	return options
}

// SplitList parses the comma separated lists stored on guild settings.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
