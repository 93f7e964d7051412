// Package catalog holds the read-only registry of modules, topics, and their
// scripted prompts. A Catalog is built once at startup and shared by every
// session.
package catalog

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

type ModuleID string

const (
	ModuleValues   ModuleID = "values"
	ModuleTalents  ModuleID = "talents"
	ModulePassions ModuleID = "passions"
)

// Kind selects how a topic's conversation is driven.
type Kind string

const (
	// KindOpenEnded topics send every user turn to the coach.
	KindOpenEnded Kind = "open_ended"
	// KindQuestionnaire topics ask their questions in order before
	// involving the coach.
	KindQuestionnaire Kind = "questionnaire"
)

type Topic struct {
	ID         string   `yaml:"id" json:"id"`
	Title      string   `yaml:"title" json:"title"`
	MainPrompt string   `yaml:"main_prompt" json:"main_prompt"`
	Intro      string   `yaml:"intro,omitempty" json:"intro,omitempty"`
	Questions  []string `yaml:"questions" json:"questions"`
	Kind       Kind     `yaml:"kind,omitempty" json:"kind"`
}

// IsQuestionnaire reports whether the topic runs a scripted question phase.
func (t Topic) IsQuestionnaire() bool {
	return t.Kind == KindQuestionnaire
}

type Module struct {
	ID          ModuleID `yaml:"id" json:"id"`
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description" json:"description"`
	Icon        string   `yaml:"icon" json:"icon"`
	Color       string   `yaml:"color" json:"color"`
	Kind        Kind     `yaml:"kind" json:"kind"`
	Topics      []Topic  `yaml:"topics" json:"topics"`
}

type topicRef struct {
	module int
	topic  int
}

// Catalog is an immutable, ordered set of modules.
type Catalog struct {
	modules []Module
	index   map[TopicKey]topicRef
	keys    []TopicKey
}

type catalogFile struct {
	Modules []Module `yaml:"modules"`
}

// Load parses and validates a YAML catalog.
func Load(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return New(f.Modules)
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Load(defaultCatalogYAML)
}

// New validates modules and builds a Catalog. Topic kinds left empty inherit
// the module kind; a module without a kind is open-ended.
func New(modules []Module) (*Catalog, error) {
	c := &Catalog{index: make(map[TopicKey]topicRef)}
	seenModules := make(map[ModuleID]bool)

	for mi, m := range modules {
		if !moduleIDPattern.MatchString(string(m.ID)) {
			return nil, fmt.Errorf("module %d: invalid id %q", mi, m.ID)
		}
		if seenModules[m.ID] {
			return nil, fmt.Errorf("module %q: duplicate id", m.ID)
		}
		seenModules[m.ID] = true

		if m.Kind == "" {
			m.Kind = KindOpenEnded
		}
		if err := validateKind(m.Kind); err != nil {
			return nil, fmt.Errorf("module %q: %w", m.ID, err)
		}

		topics := make([]Topic, len(m.Topics))
		for ti, t := range m.Topics {
			if !topicIDPattern.MatchString(t.ID) {
				return nil, fmt.Errorf("module %q topic %d: invalid id %q", m.ID, ti, t.ID)
			}
			if t.Title == "" || t.MainPrompt == "" {
				return nil, fmt.Errorf("topic %s-%s: title and main_prompt are required", m.ID, t.ID)
			}
			if t.Kind == "" {
				t.Kind = m.Kind
			}
			if err := validateKind(t.Kind); err != nil {
				return nil, fmt.Errorf("topic %s-%s: %w", m.ID, t.ID, err)
			}
			key := TopicKey{Module: m.ID, Topic: t.ID}
			if _, dup := c.index[key]; dup {
				return nil, fmt.Errorf("topic %s: duplicate id", key)
			}
			t.Questions = append([]string(nil), t.Questions...)
			topics[ti] = t
			c.index[key] = topicRef{module: mi, topic: ti}
			c.keys = append(c.keys, key)
		}
		m.Topics = topics
		c.modules = append(c.modules, m)
	}

	return c, nil
}

func validateKind(k Kind) error {
	switch k {
	case KindOpenEnded, KindQuestionnaire:
		return nil
	default:
		return fmt.Errorf("unknown kind %q", k)
	}
}

// Modules returns the modules in catalog order. Callers must not mutate the
// result.
func (c *Catalog) Modules() []Module {
	return c.modules
}

// Lookup resolves a key to its module and topic.
func (c *Catalog) Lookup(key TopicKey) (Module, Topic, bool) {
	ref, ok := c.index[key]
	if !ok {
		return Module{}, Topic{}, false
	}
	m := c.modules[ref.module]
	return m, m.Topics[ref.topic], true
}

// Keys returns every topic key in catalog order.
func (c *Catalog) Keys() []TopicKey {
	out := make([]TopicKey, len(c.keys))
	copy(out, c.keys)
	return out
}

func (c *Catalog) TopicCount() int {
	return len(c.keys)
}
