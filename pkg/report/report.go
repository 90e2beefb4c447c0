// Package report builds operator-facing threat summaries from live sandbox
// and reputation state. Reports are computed on demand from the bounded
// in-memory logs; they are a view, not a store.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mcpwarden/warden/pkg/config"
	"github.com/mcpwarden/warden/pkg/metrics"
	"github.com/mcpwarden/warden/pkg/reputation"
	"github.com/mcpwarden/warden/pkg/sandbox"
)

// Threat score composition. The level base reflects how hard a server is
// currently contained; recent violations weigh far more than stale ones.
const (
	baseLight    = 10
	baseModerate = 30
	baseStrict   = 50

	perRecentViolation = 8
	perOldViolation    = 1
	maxThreatScore     = 100

	tierHighMin   = 70
	tierMediumMin = 30

	recentViolationLimit = 10
)

// Tier buckets a composite threat score.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// ServerThreat is the per-server line item of a report.
type ServerThreat struct {
	ServerID         string               `json:"server_id"`
	ServerName       string               `json:"server_name"`
	Level            sandbox.Level        `json:"sandbox_level"`
	ThreatScore      int                  `json:"threat_score"`
	Tier             Tier                 `json:"tier"`
	RecentViolations int                  `json:"recent_violations"`
	TotalViolations  int                  `json:"total_violations"`
	ThreatsBlocked   int                  `json:"threats_blocked"`
	RiskLevel        reputation.RiskLevel `json:"risk_level"`
	ReputationScore  float64              `json:"reputation_score"`
}

// ViolationEntry is a violation annotated with the server's display name.
type ViolationEntry struct {
	sandbox.Violation
	ServerName string `json:"server_name"`
}

// Summary holds the report's headline numbers.
type Summary struct {
	ActiveSandboxes    int     `json:"active_sandboxes"`
	TotalViolations    int     `json:"total_violations"`
	ThreatsBlocked     int     `json:"threats_blocked"`
	HighTierServers    int     `json:"high_tier_servers"`
	AverageThreatScore float64 `json:"average_threat_score"`
}

// Report is a point-in-time threat summary.
type Report struct {
	GeneratedAt      time.Time        `json:"generated_at"`
	Window           time.Duration    `json:"window"`
	Summary          Summary          `json:"summary"`
	Servers          []ServerThreat   `json:"servers"`
	RecentViolations []ViolationEntry `json:"recent_violations"`
	Recommendations  []string         `json:"recommendations"`
}

// Generator builds reports from the sandbox manager and the reputation
// ledger. The ledger may be nil.
type Generator struct {
	cfg     *config.Config
	manager *sandbox.Manager
	ledger  *reputation.Ledger
}

// NewGenerator wires a report generator.
func NewGenerator(cfg *config.Config, manager *sandbox.Manager, ledger *reputation.Ledger) *Generator {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	return &Generator{cfg: cfg, manager: manager, ledger: ledger}
}

// Generate builds a report over the given window. A non-positive window
// uses the configured default.
func (g *Generator) Generate(window time.Duration) *Report {
	if window <= 0 {
		window = g.cfg.ReportWindow
	}
	metrics.ReportsGenerated.Inc()
	now := time.Now().UTC()
	cutoff := now.Add(-window)

	violations := g.manager.Violations()
	perServer := make(map[string][2]int) // recent, old
	for _, v := range violations {
		counts := perServer[v.ServerID]
		if v.Timestamp.After(cutoff) {
			counts[0]++
		} else {
			counts[1]++
		}
		perServer[v.ServerID] = counts
	}

	rep := &Report{
		GeneratedAt: now,
		Window:      window,
	}

	for _, s := range g.manager.Active() {
		counts := perServer[s.ServerID]
		score := threatScore(s.Level, counts[0], counts[1])

		st := ServerThreat{
			ServerID:         s.ServerID,
			ServerName:       s.ServerName,
			Level:            s.Level,
			ThreatScore:      score,
			Tier:             tierFor(score),
			RecentViolations: counts[0],
			TotalViolations:  s.Stats.Violations,
			ThreatsBlocked:   s.Stats.ThreatsBlocked,
			RiskLevel:        reputation.RiskUnknown,
		}
		if g.ledger != nil {
			risk := g.ledger.EvaluateRisk(s.ServerID)
			st.RiskLevel = risk.RiskLevel
			st.ReputationScore = risk.Score
		}

		rep.Servers = append(rep.Servers, st)
		rep.Summary.ActiveSandboxes++
		rep.Summary.ThreatsBlocked += s.Stats.ThreatsBlocked
		if st.Tier == TierHigh {
			rep.Summary.HighTierServers++
		}
	}
	rep.Summary.TotalViolations = len(violations)
	if n := len(rep.Servers); n > 0 {
		total := 0
		for _, s := range rep.Servers {
			total += s.ThreatScore
		}
		rep.Summary.AverageThreatScore = float64(total) / float64(n)
	}

	sort.Slice(rep.Servers, func(i, j int) bool {
		if rep.Servers[i].ThreatScore != rep.Servers[j].ThreatScore {
			return rep.Servers[i].ThreatScore > rep.Servers[j].ThreatScore
		}
		return rep.Servers[i].ServerID < rep.Servers[j].ServerID
	})

	// Newest violations first, bounded.
	for i := len(violations) - 1; i >= 0 && len(rep.RecentViolations) < recentViolationLimit; i-- {
		v := violations[i]
		rep.RecentViolations = append(rep.RecentViolations, ViolationEntry{
			Violation:  v,
			ServerName: g.manager.ServerName(v.ServerID),
		})
	}

	rep.Recommendations = recommendations(rep)
	return rep
}

// threatScore composes the per-server score: containment level base plus a
// heavy weight for in-window violations and a residual for older ones.
func threatScore(level sandbox.Level, recent, old int) int {
	score := baseLight
	switch level {
	case sandbox.LevelModerate:
		score = baseModerate
	case sandbox.LevelStrict:
		score = baseStrict
	}
	score += recent*perRecentViolation + old*perOldViolation
	if score > maxThreatScore {
		score = maxThreatScore
	}
	return score
}

func tierFor(score int) Tier {
	switch {
	case score >= tierHighMin:
		return TierHigh
	case score >= tierMediumMin:
		return TierMedium
	default:
		return TierLow
	}
}

func recommendations(r *Report) []string {
	var recs []string
	for _, s := range r.Servers {
		switch {
		case s.Tier == TierHigh:
			recs = append(recs, fmt.Sprintf(
				"review %s (%s): threat score %d at %s containment, consider revoking access",
				s.ServerName, s.ServerID, s.ThreatScore, s.Level))
		case s.Tier == TierMedium && s.Level != sandbox.LevelStrict:
			recs = append(recs, fmt.Sprintf(
				"consider escalating %s (%s) beyond %s containment",
				s.ServerName, s.ServerID, s.Level))
		case s.RecentViolations == 0 && s.TotalViolations == 0 && s.Level == sandbox.LevelLight:
			recs = append(recs, fmt.Sprintf(
				"%s (%s) has no violations on record, candidate for release",
				s.ServerName, s.ServerID))
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "no elevated threats in the reporting window")
	}
	return recs
}

// RenderText formats the report for terminals and log aggregation.
func (r *Report) RenderText() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Threat Report  %s  (window %s)\n",
		r.GeneratedAt.Format(time.RFC3339), r.Window)
	fmt.Fprintf(&b, "Sandboxes: %d active | Violations: %d | Threats blocked: %d | High tier: %d | Avg score: %.1f\n\n",
		r.Summary.ActiveSandboxes, r.Summary.TotalViolations,
		r.Summary.ThreatsBlocked, r.Summary.HighTierServers,
		r.Summary.AverageThreatScore)

	if len(r.Servers) == 0 {
		b.WriteString("No servers under containment.\n")
	} else {
		b.WriteString("Servers:\n")
		for _, s := range r.Servers {
			fmt.Fprintf(&b, "  [%-6s] %-24s score=%-3d level=%-8s violations=%d blocked=%d risk=%s\n",
				s.Tier, s.ServerName, s.ThreatScore, s.Level,
				s.TotalViolations, s.ThreatsBlocked, s.RiskLevel)
		}
	}

	if len(r.RecentViolations) > 0 {
		b.WriteString("\nRecent violations:\n")
		for _, v := range r.RecentViolations {
			fmt.Fprintf(&b, "  %s  %-18s %-16s %-9s %s\n",
				v.Timestamp.Format("2006-01-02 15:04:05"),
				v.ServerName, v.Type, v.ActionTaken, v.Description)
		}
	}

	b.WriteString("\nRecommendations:\n")
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&b, "  - %s\n", rec)
	}
	return b.String()
}
