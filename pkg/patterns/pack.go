package patterns

import (
	"fmt"
	"log"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// PackEntry is one pattern definition in a YAML pattern pack.
type PackEntry struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Severity    string   `yaml:"severity"`
	Category    string   `yaml:"category"`
	Mitigation  string   `yaml:"mitigation"`
	Matchers    []string `yaml:"matchers"`
}

// Pack is a named collection of pattern definitions loadable at runtime.
type Pack struct {
	Name     string      `yaml:"name"`
	Patterns []PackEntry `yaml:"patterns"`
}

// ParsePack decodes a YAML pattern pack. Individual malformed entries are
// skipped with a warning; the pack only fails as a whole if the YAML itself
// cannot be decoded.
func ParsePack(data []byte) (*Pack, error) {
	var p Pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("patterns: decode pack: %w", err)
	}
	return &p, nil
}

// LoadPack reads a YAML pattern pack from disk and registers its valid
// entries into the catalog. Returns the number of patterns registered.
func (c *Catalog) LoadPack(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("patterns: read pack %s: %w", path, err)
	}
	pack, err := ParsePack(data)
	if err != nil {
		return 0, err
	}
	return c.RegisterPack(pack), nil
}

// RegisterPack registers every well-formed entry of the pack, skipping and
// logging the rest. Never fatal: a bad rule must not take down detection.
func (c *Catalog) RegisterPack(pack *Pack) int {
	registered := 0
	for _, e := range pack.Patterns {
		if e.Name == "" || len(e.Matchers) == 0 {
			log.Printf("[WARN] patterns: pack %q: skipping entry without name or matchers", pack.Name)
			continue
		}

		matchers := make([]*regexp.Regexp, 0, len(e.Matchers))
		ok := true
		for _, expr := range e.Matchers {
			re, err := regexp.Compile(expr)
			if err != nil {
				log.Printf("[WARN] patterns: pack %q: skipping %q: bad matcher %q: %v", pack.Name, e.Name, expr, err)
				ok = false
				break
			}
			matchers = append(matchers, re)
		}
		if !ok {
			continue
		}

		if err := c.Register(&InjectionPattern{
			Name:        e.Name,
			Description: e.Description,
			Matchers:    matchers,
			Severity:    Severity(e.Severity),
			Category:    Category(e.Category),
			Mitigation:  e.Mitigation,
		}); err != nil {
			log.Printf("[WARN] patterns: pack %q: skipping %q: %v", pack.Name, e.Name, err)
			continue
		}
		registered++
	}
	return registered
}
