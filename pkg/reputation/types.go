// Package reputation maintains a per-server trust score recomputed from
// normalized operational and security metrics. Scores are never nudged by
// ad-hoc deltas: every update mutates metrics, then recomputes the composite.
package reputation

import "time"

// EventType classifies a security event feeding the ledger.
type EventType string

const (
	EventSecurityIncident EventType = "security_incident"
	EventPerformanceIssue EventType = "performance_issue"
	EventPositiveBehavior EventType = "positive_behavior"
	EventManualReview     EventType = "manual_review"
)

// Severity grades an event or risk factor.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// normalizeSeverity applies the documented policy-error fallback: unknown
// severities are treated as medium rather than failing.
func normalizeSeverity(s Severity) Severity {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return s
	}
	return SeverityMedium
}

// Metrics are the raw per-server observations the score derives from.
type Metrics struct {
	ResponseTimeMs     float64  `json:"response_time_ms"`
	ErrorRate          float64  `json:"error_rate"`
	SecurityIncidents  int      `json:"security_incidents"`
	Uptime             float64  `json:"uptime"`
	CommunityRating    *float64 `json:"community_rating,omitempty"` // 0-5, optional
	ComplianceScore    float64  `json:"compliance_score"`
	ThreatIntelMatches int      `json:"threat_intel_matches"`
}

// HistoricalScore is one entry in the bounded score history.
type HistoricalScore struct {
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// RiskFactor records a specific elevated-risk condition attached to a
// server. Mitigation marks it resolved but never deletes history.
type RiskFactor struct {
	Type        string    `json:"type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	IsMitigated bool      `json:"is_mitigated"`
	Mitigation  string    `json:"mitigation,omitempty"`
}

// ReputationScore is the per-server ledger entry. Score is on a 0-1000 scale
// where 1000 is fully trusted.
type ReputationScore struct {
	ServerID         string            `json:"server_id"`
	Score            float64           `json:"score"`
	Confidence       float64           `json:"confidence"`
	LastUpdated      time.Time         `json:"last_updated"`
	Metrics          Metrics           `json:"metrics"`
	HistoricalScores []HistoricalScore `json:"historical_scores"`
	RiskFactors      []RiskFactor      `json:"risk_factors"`
}

// SecurityEvent is an immutable notification consumed by the ledger.
// ScoreImpact is advisory only: the score is always recomputed from metrics,
// never adjusted by event deltas.
type SecurityEvent struct {
	ID          string                 `json:"id"`
	ServerID    string                 `json:"server_id"`
	EventType   EventType              `json:"event_type"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	ScoreImpact float64                `json:"score_impact,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// RiskLevel buckets a reputation score for policy decisions.
type RiskLevel string

const (
	RiskUnknown  RiskLevel = "unknown"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskAssessment is the output of EvaluateRisk.
type RiskAssessment struct {
	ServerID    string       `json:"server_id"`
	RiskLevel   RiskLevel    `json:"risk_level"`
	Score       float64      `json:"score"`
	Confidence  float64      `json:"confidence"`
	ActiveRisks []RiskFactor `json:"active_risks"`
}

// Ledger entry defaults: the documented starting point for a server with no
// observed history. The metric priors are deliberately mid-range (unverified
// compliance, unobserved uptime) so that the default vector recomputes to
// exactly the starting score of 700 under the default weights.
func defaultMetrics() Metrics {
	return Metrics{
		ResponseTimeMs:     600,
		ErrorRate:          0.10,
		SecurityIncidents:  0,
		Uptime:             0.50,
		CommunityRating:    nil,
		ComplianceScore:    0.0,
		ThreatIntelMatches: 0,
	}
}

const (
	defaultScore      = 700.0
	defaultConfidence = 0.7
)
