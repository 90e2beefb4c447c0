// Package detect implements the injection detector: a deterministic scan of
// a text payload against the pattern catalog plus an optional heuristic
// term-weighting phase. Detect performs no I/O and never fails; malformed
// input degrades to a benign result.
package detect

import (
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/mcpwarden/warden/pkg/metrics"
	"github.com/mcpwarden/warden/pkg/patterns"
)

// Span locates a finding inside the scanned payload.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Finding is a single detection produced by one scan call. Ephemeral; never
// persisted directly.
type Finding struct {
	Category    string                 `json:"category"`
	Confidence  float64                `json:"confidence"`
	Description string                 `json:"description"`
	Span        *Span                  `json:"span,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Result is the outcome of scanning one payload. Pure function of
// (payload, catalog, config).
type Result struct {
	IsMalicious bool      `json:"is_malicious"`
	Confidence  float64   `json:"confidence"`
	Findings    []Finding `json:"findings"`
	RiskScore   float64   `json:"risk_score"`
}

// Config holds detector tuning. Zero values are replaced with defaults.
type Config struct {
	// Threshold above which a payload is flagged malicious (default 0.7).
	Threshold float64
	// MaxContextLength bounds how much of the payload is scanned
	// (default 100000 bytes). This is a performance bound, not a security
	// control: content past the cutoff is not inspected.
	MaxContextLength int
	// EnableHeuristics gates the term-weighting phase (default true via
	// NewDefaultConfig; false disables it).
	EnableHeuristics bool
	// CacheSize bounds the scan-result cache (default 1024; 0 keeps the
	// default, negative disables caching).
	CacheSize int
}

// NewDefaultConfig returns the documented detector defaults.
func NewDefaultConfig() Config {
	return Config{
		Threshold:        0.7,
		MaxContextLength: 100000,
		EnableHeuristics: true,
		CacheSize:        1024,
	}
}

// Detector scans payloads against an injected catalog. Stateless per call
// apart from the catalog and the bounded result cache, so a single instance
// serves many concurrent traffic flows.
type Detector struct {
	catalog *patterns.Catalog
	cfg     Config
	cache   *lru.Cache[uint64, Result]
}

// New constructs a detector around the given catalog.
func New(catalog *patterns.Catalog, cfg Config) *Detector {
	if catalog == nil {
		catalog = patterns.DefaultCatalog()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.7
	}
	if cfg.MaxContextLength <= 0 {
		cfg.MaxContextLength = 100000
	}
	d := &Detector{catalog: catalog, cfg: cfg}

	size := cfg.CacheSize
	if size == 0 {
		size = 1024
	}
	if size > 0 {
		// lru.New only errors on a non-positive size.
		if cache, err := lru.New[uint64, Result](size); err == nil {
			d.cache = cache
		}
	}
	return d
}

// Catalog exposes the detector's catalog for runtime pattern management.
func (d *Detector) Catalog() *patterns.Catalog { return d.catalog }

// severityConfidence maps pattern severity to finding confidence.
func severityConfidence(s patterns.Severity) float64 {
	switch s {
	case patterns.SeverityCritical:
		return 0.95
	case patterns.SeverityHigh:
		return 0.85
	case patterns.SeverityMedium:
		return 0.65
	case patterns.SeverityLow:
		return 0.4
	default:
		return 0.5
	}
}

// severityWeight maps finding severity to its aggregation weight.
// Unknown severities fall back to medium.
func severityWeight(s string) float64 {
	switch patterns.Severity(s) {
	case patterns.SeverityLow:
		return 0.3
	case patterns.SeverityMedium:
		return 0.6
	case patterns.SeverityHigh:
		return 0.9
	case patterns.SeverityCritical:
		return 1.0
	default:
		return 0.6
	}
}

// Detect scans a payload and returns a detection result. It never returns an
// error and never panics out: any internal failure degrades to the benign
// result and is logged.
func (d *Detector) Detect(payload string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WARN] detect: recovered during scan: %v", r)
			result = Result{}
		}
	}()

	metrics.ScansTotal.Inc()

	// Performance bound, documented limitation: content past the cutoff is
	// not scanned.
	if len(payload) > d.cfg.MaxContextLength {
		payload = payload[:d.cfg.MaxContextLength]
	}

	// NFKC normalization defeats homoglyph/width obfuscation before any
	// matcher runs.
	text := norm.NFKC.String(payload)

	key := cacheKey(text, d.catalog.Len(), d.cfg)
	if d.cache != nil {
		if cached, ok := d.cache.Get(key); ok {
			metrics.ScanCacheHits.Inc()
			return cached
		}
	}

	var findings []Finding

	// Pattern phase.
	for _, m := range d.catalog.MatchAll(text) {
		p := m.Pattern
		findings = append(findings, Finding{
			Category:    string(p.Category),
			Confidence:  severityConfidence(p.Severity),
			Description: p.Description,
			Span:        &Span{Start: m.Start, End: m.End},
			Metadata: map[string]interface{}{
				"pattern":    p.Name,
				"severity":   string(p.Severity),
				"mitigation": p.Mitigation,
			},
		})
		metrics.FindingsTotal.WithLabelValues(string(p.Category)).Inc()
	}

	// Heuristic phase (config-gated).
	if d.cfg.EnableHeuristics {
		if f := evaluateHeuristics(text); f != nil {
			findings = append(findings, *f)
			metrics.FindingsTotal.WithLabelValues(f.Category).Inc()
		}
	}

	result = aggregate(findings, d.cfg.Threshold)
	if d.cache != nil {
		d.cache.Add(key, result)
	}
	if result.IsMalicious {
		metrics.MaliciousPayloads.Inc()
	}
	return result
}

// aggregate combines findings into the final risk score. Blending the mean
// weighted score with the worst single finding keeps one low-confidence match
// from flagging content while still surfacing a single severe match strongly.
func aggregate(findings []Finding, threshold float64) Result {
	if len(findings) == 0 {
		return Result{Findings: []Finding{}}
	}

	sumWeighted, maxWeighted, sumConf := 0.0, 0.0, 0.0
	for _, f := range findings {
		sev := "medium"
		if s, ok := f.Metadata["severity"].(string); ok && s != "" {
			sev = s
		}
		w := f.Confidence * severityWeight(sev)
		sumWeighted += w
		if w > maxWeighted {
			maxWeighted = w
		}
		sumConf += f.Confidence
	}

	avgWeighted := sumWeighted / float64(len(findings))
	risk := math.Min(1.0, 0.7*avgWeighted+0.3*maxWeighted)

	return Result{
		IsMalicious: risk >= threshold,
		Confidence:  sumConf / float64(len(findings)),
		Findings:    findings,
		RiskScore:   risk,
	}
}

// cacheKey hashes the normalized payload together with catalog size and the
// knobs that change scan output, so config/catalog changes invalidate entries.
func cacheKey(text string, catalogLen int, cfg Config) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	_, _ = fmt.Fprintf(h, "|%d|%v|%.3f", catalogLen, cfg.EnableHeuristics, cfg.Threshold)
	return h.Sum64()
}

// trimToken strips leading/trailing punctuation so "instructions." matches
// the term table.
func trimToken(tok string) string {
	return strings.Trim(tok, ".,;:!?\"'()[]{}<>")
}
