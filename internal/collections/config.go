// Package collections manages YAML documents of named family collections.
package collections

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/thebtf/smallmerge/pkg/models"
)

// Collection is a named set of meaning families that are merged together.
type Collection struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Families    []models.Family `yaml:"families" json:"families"`
}

// Config is the top-level YAML structure.
type Config struct {
	Collections []Collection `yaml:"collections" json:"collections"`
}

// Registry holds loaded collections, keyed by name.
type Registry struct {
	byName map[string]*Collection
	order  []string // preserves definition order
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Collection)}
}

// Parse decodes a YAML collections document.
func Parse(data []byte) (*Registry, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	r := NewRegistry()
	for i := range cfg.Collections {
		if err := r.Add(cfg.Collections[i]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers a collection. Names must be unique and non-empty.
func (r *Registry) Add(c Collection) error {
	if c.Name == "" {
		return fmt.Errorf("collection %d has no name", len(r.order))
	}
	if _, exists := r.byName[c.Name]; exists {
		return fmt.Errorf("duplicate collection %q", c.Name)
	}
	r.byName[c.Name] = &c
	r.order = append(r.order, c.Name)
	return nil
}

// Get returns a collection by name. Returns (nil, false) if not found.
func (r *Registry) Get(name string) (*Collection, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// All returns all collections in definition order.
func (r *Registry) All() []*Collection {
	result := make([]*Collection, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.byName[name])
	}
	return result
}

// Names returns a sorted list of collection names.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Collections returns copies of all collections in definition order.
func (r *Registry) Collections() []Collection {
	cfg := make([]Collection, 0, len(r.order))
	for _, c := range r.All() {
		cfg = append(cfg, *c)
	}
	return cfg
}

// Marshal encodes the registry back to YAML in definition order.
func (r *Registry) Marshal() ([]byte, error) {
	cfg := Config{Collections: r.Collections()}
	return yaml.Marshal(&cfg)
}
