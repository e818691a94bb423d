// Package catalog holds the fixed question lists and clinic labels per form category.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxFollowUpSeeds caps the seed list handed to a follow-up session.
const MaxFollowUpSeeds = 5

//go:embed questions.yaml
var defaultQuestions []byte

// Category describes one written-form category.
type Category struct {
	Name      string   `yaml:"-"`
	Clinic    string   `yaml:"clinic"`
	FormType  string   `yaml:"form_type"`
	VoiceType string   `yaml:"voice_type"`
	FollowUp  []string `yaml:"followup"`
}

// Catalog is immutable after Parse.
type Catalog struct {
	Screening       []string            `yaml:"screening"`
	DefaultCategory string              `yaml:"default_category"`
	Categories      map[string]Category `yaml:"categories"`
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultQuestions)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded questions.yaml: %v", err))
	}
	return c
}

// Parse decodes a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.Categories) == 0 {
		return nil, fmt.Errorf("parse catalog: no categories")
	}
	for name, cat := range c.Categories {
		cat.Name = name
		c.Categories[name] = cat
	}
	if _, ok := c.Categories[c.DefaultCategory]; !ok {
		return nil, fmt.Errorf("parse catalog: default category %q not defined", c.DefaultCategory)
	}
	return &c, nil
}

// Lookup finds a category by name or by its form type, case-insensitively.
func (c *Catalog) Lookup(name string) (Category, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Category{}, false
	}
	if cat, ok := c.Categories[key]; ok {
		return cat, true
	}
	for _, cat := range c.Categories {
		if strings.EqualFold(cat.FormType, key) {
			return cat, true
		}
	}
	return Category{}, false
}

// Resolve is Lookup with a fallback to the default category.
func (c *Catalog) Resolve(name string) Category {
	if cat, ok := c.Lookup(name); ok {
		return cat
	}
	return c.Categories[c.DefaultCategory]
}

// FollowUpSeeds returns the ordered follow-up questions for a category, at most MaxFollowUpSeeds.
// Unknown categories have no seeds.
func (c *Catalog) FollowUpSeeds(name string) []string {
	cat, ok := c.Lookup(name)
	if !ok {
		return nil
	}
	n := len(cat.FollowUp)
	if n > MaxFollowUpSeeds {
		n = MaxFollowUpSeeds
	}
	out := make([]string, n)
	copy(out, cat.FollowUp[:n])
	return out
}
