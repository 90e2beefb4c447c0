// Package patterns provides the injection pattern catalog used by the
// detection engine. All regex matchers are compiled when a pattern is
// registered and shared across all scans.
//
// Design principles:
// - COMPILE ONCE: matchers compiled at registration, not per-request
// - DRY: single source of truth for detection rules
// - CATEGORIZED: patterns organized by attack category for reporting
// - INJECTED: catalogs are constructed instances, never package globals,
//   so tests and multi-tenant hosts can run independent catalogs
package patterns

import (
	"fmt"
	"log"
	"regexp"
	"sync"
)

// Severity classifies how dangerous a pattern match is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity level.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Category represents an attack pattern category.
type Category string

const (
	CategoryDirectInjection  Category = "direct_prompt_injection"
	CategoryJailbreak        Category = "jailbreak"
	CategoryPromptExtraction Category = "prompt_extraction"
	CategoryToolPoisoning    Category = "tool_poisoning"
	CategoryPolicyInjection  Category = "policy_injection"
	CategoryIndirectInj      Category = "indirect_injection"
	CategoryExfiltration     Category = "data_exfiltration"
	CategoryCredential       Category = "credential_leak"
)

// InjectionPattern holds a named detection rule: an ordered set of compiled
// matchers plus classification metadata. Immutable once registered.
type InjectionPattern struct {
	Name        string           // Unique name, used for add/remove and logging
	Description string           // What this pattern detects
	Matchers    []*regexp.Regexp // Ordered matchers; any match triggers the pattern
	Severity    Severity         // low | medium | high | critical
	Category    Category         // Attack category
	Mitigation  string           // Operator-facing mitigation note
}

// MustCompile compiles matcher expressions for hand-built patterns,
// panicking on a bad expression. For static rules in code and tests; runtime
// rule loading goes through Register/RegisterPack, which never panic.
func MustCompile(exprs ...string) []*regexp.Regexp {
	matchers := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		matchers = append(matchers, regexp.MustCompile(expr))
	}
	return matchers
}

// Match is one pattern hit against a payload, including the location of the
// first matching span.
type Match struct {
	Pattern *InjectionPattern
	Start   int
	End     int
}

// Catalog holds the registered patterns. Safe for concurrent use: scans take
// a read lock, Register/Remove take the write lock, so a scan never observes
// a partially updated rule set.
type Catalog struct {
	mu         sync.RWMutex
	byName     map[string]*InjectionPattern
	byCategory map[Category][]*InjectionPattern
	all        []*InjectionPattern
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byName:     make(map[string]*InjectionPattern),
		byCategory: make(map[Category][]*InjectionPattern),
	}
}

// Register adds a pattern to the catalog. Patterns are immutable once
// registered; re-registering a name replaces the previous rule.
func (c *Catalog) Register(p *InjectionPattern) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("patterns: pattern must have a name")
	}
	if len(p.Matchers) == 0 {
		return fmt.Errorf("patterns: pattern %q has no matchers", p.Name)
	}
	if !p.Severity.Valid() {
		// Policy error: unknown severity falls back to the documented default.
		log.Printf("[WARN] patterns: pattern %q has unknown severity %q, defaulting to medium", p.Name, p.Severity)
		p.Severity = SeverityMedium
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byName[p.Name]; exists {
		c.removeLocked(p.Name)
	}
	c.byName[p.Name] = p
	c.byCategory[p.Category] = append(c.byCategory[p.Category], p)
	c.all = append(c.all, p)
	return nil
}

// register is the internal helper used by the default catalog: it compiles
// the given expressions and skips the whole rule if any fail to compile.
// Malformed definitions are logged and dropped, never fatal.
func (c *Catalog) register(name, description string, severity Severity, category Category, mitigation string, exprs ...string) {
	matchers := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			log.Printf("[WARN] patterns: skipping pattern %q: bad matcher %q: %v", name, expr, err)
			return
		}
		matchers = append(matchers, re)
	}
	_ = c.Register(&InjectionPattern{
		Name:        name,
		Description: description,
		Matchers:    matchers,
		Severity:    severity,
		Category:    category,
		Mitigation:  mitigation,
	})
}

// Remove deletes a pattern by name. Returns false if no such pattern exists.
func (c *Catalog) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byName[name]; !ok {
		return false
	}
	c.removeLocked(name)
	return true
}

func (c *Catalog) removeLocked(name string) {
	p := c.byName[name]
	delete(c.byName, name)

	cat := c.byCategory[p.Category]
	for i, q := range cat {
		if q.Name == name {
			c.byCategory[p.Category] = append(cat[:i], cat[i+1:]...)
			break
		}
	}
	for i, q := range c.all {
		if q.Name == name {
			c.all = append(c.all[:i], c.all[i+1:]...)
			break
		}
	}
}

// Get returns the pattern registered under name, or nil.
func (c *Catalog) Get(name string) *InjectionPattern {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byName[name]
}

// All returns a snapshot of every registered pattern.
func (c *Catalog) All() []*InjectionPattern {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*InjectionPattern, len(c.all))
	copy(out, c.all)
	return out
}

// GetByCategory returns all patterns for a category. Never nil.
func (c *Catalog) GetByCategory(cat Category) []*InjectionPattern {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*InjectionPattern, len(c.byCategory[cat]))
	copy(out, c.byCategory[cat])
	return out
}

// MatchAll returns every pattern that matches the text, with the span of the
// first matcher that hit. Use for comprehensive scoring.
func (c *Catalog) MatchAll(text string) []Match {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matches []Match
	for _, p := range c.all {
		for _, re := range p.Matchers {
			if loc := re.FindStringIndex(text); loc != nil {
				matches = append(matches, Match{Pattern: p, Start: loc[0], End: loc[1]})
				break // one hit per pattern
			}
		}
	}
	return matches
}

// MatchAny returns the first pattern that matches the text, or nil.
// Optimized for early exit when only a yes/no answer is needed.
func (c *Catalog) MatchAny(text string) *InjectionPattern {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.all {
		for _, re := range p.Matchers {
			if re.MatchString(text) {
				return p
			}
		}
	}
	return nil
}

// Len returns the number of registered patterns.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.all)
}

// CategoryCount returns the number of patterns in a category.
func (c *Catalog) CategoryCount(cat Category) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byCategory[cat])
}
