package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcpwarden/warden/pkg/audit"
	"github.com/mcpwarden/warden/pkg/config"
	"github.com/mcpwarden/warden/pkg/metrics"
	"github.com/mcpwarden/warden/pkg/store"
)

// historyDeltaThreshold is the minimum absolute score change that earns a
// history entry; smaller wobble is not worth recording.
const historyDeltaThreshold = 10.0

// Metadata keys the ledger understands. Anything else is carried through to
// the audit trail untouched but never mutates metrics.
const (
	metaResponseTime = "responseTime"
	metaErrorRate    = "errorRate"
	metaUptime       = "uptime"
	metaThreatIntel  = "threatIntelligenceMatch"
)

type entry struct {
	mu    sync.Mutex
	score *ReputationScore
}

// Ledger tracks reputation scores for all known servers. All reads and
// writes go through the in-memory map; the store is a write-behind snapshot
// that seeds entries after a restart.
type Ledger struct {
	cfg   *config.Config
	store store.Store
	audit *audit.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	evMu   sync.Mutex
	events []SecurityEvent
}

// NewLedger creates a ledger backed by the given store and audit logger.
// Both collaborators may be nil/disabled; the ledger works standalone.
func NewLedger(cfg *config.Config, st store.Store, auditLog *audit.Logger) *Ledger {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if auditLog == nil {
		auditLog = audit.NewDisabled()
	}
	return &Ledger{
		cfg:     cfg,
		store:   st,
		audit:   auditLog,
		entries: make(map[string]*entry),
	}
}

// Update applies one security event and returns the recomputed score.
// It never fails the caller on persistence problems.
func (l *Ledger) Update(ctx context.Context, event SecurityEvent) (*ReputationScore, error) {
	if event.ServerID == "" {
		return nil, fmt.Errorf("reputation: event has no server id")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Severity = normalizeSeverity(event.Severity)

	metrics.SecurityEvents.WithLabelValues(string(event.EventType)).Inc()

	e := l.entryFor(ctx, event.ServerID)
	e.mu.Lock()
	sc := e.score

	prev := sc.Score
	l.applyEvent(sc, event)
	l.upsertRiskFactor(sc, event)

	sc.Score = calculateScore(sc.Metrics, l.cfg.Weights)
	sc.LastUpdated = event.Timestamp

	if math.Abs(sc.Score-prev) > historyDeltaThreshold {
		sc.HistoricalScores = append(sc.HistoricalScores, HistoricalScore{
			Score:     sc.Score,
			Timestamp: event.Timestamp,
		})
		if n := len(sc.HistoricalScores); n > l.cfg.HistoryCap {
			sc.HistoricalScores = sc.HistoricalScores[n-l.cfg.HistoryCap:]
		}
	}
	sc.Confidence = math.Min(0.99, defaultConfidence+0.005*float64(len(sc.HistoricalScores)))

	out := copyScore(sc)
	e.mu.Unlock()

	l.recordEvent(event)
	l.persist(out)
	go l.audit.RecordEvent(context.Background(), event.ID, event.ServerID,
		string(event.EventType), string(event.Severity), event.Description, event.Metadata)

	return out, nil
}

// applyEvent mutates metrics according to the event type. Unknown event
// types leave metrics untouched, like a manual review.
func (l *Ledger) applyEvent(sc *ReputationScore, event SecurityEvent) {
	m := &sc.Metrics
	alpha := l.cfg.EMAAlpha

	switch event.EventType {
	case EventSecurityIncident:
		m.SecurityIncidents++
		if b, ok := event.Metadata[metaThreatIntel].(bool); ok && b {
			m.ThreatIntelMatches++
		}
	case EventPerformanceIssue:
		if rt, ok := metaFloat(event.Metadata, metaResponseTime); ok && rt >= 0 {
			m.ResponseTimeMs = alpha*rt + (1-alpha)*m.ResponseTimeMs
		}
		if er, ok := metaFloat(event.Metadata, metaErrorRate); ok && er >= 0 && er <= 1 {
			m.ErrorRate = alpha*er + (1-alpha)*m.ErrorRate
		}
	case EventPositiveBehavior:
		if up, ok := metaFloat(event.Metadata, metaUptime); ok && up >= 0 && up <= 1 {
			m.Uptime = alpha*up + (1-alpha)*m.Uptime
		}
		// Compliance recovers asymptotically toward 1 with each clean signal.
		m.ComplianceScore += 0.1 * (1 - m.ComplianceScore)
	case EventManualReview:
		// Recorded for the audit trail only.
	default:
		log.Printf("[WARN] reputation: unknown event type %q for server %s, no metric change", event.EventType, event.ServerID)
	}
}

// upsertRiskFactor attaches or refreshes an unmitigated risk factor for
// high and critical severity events.
func (l *Ledger) upsertRiskFactor(sc *ReputationScore, event SecurityEvent) {
	if event.Severity != SeverityHigh && event.Severity != SeverityCritical {
		return
	}
	riskType := string(event.EventType)
	for i := range sc.RiskFactors {
		rf := &sc.RiskFactors[i]
		if rf.Type == riskType && !rf.IsMitigated {
			rf.LastSeen = event.Timestamp
			if severityRank(event.Severity) > severityRank(rf.Severity) {
				rf.Severity = event.Severity
			}
			return
		}
	}
	sc.RiskFactors = append(sc.RiskFactors, RiskFactor{
		Type:        riskType,
		Severity:    event.Severity,
		Description: event.Description,
		FirstSeen:   event.Timestamp,
		LastSeen:    event.Timestamp,
	})
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Get returns a copy of the server's current score.
func (l *Ledger) Get(serverID string) (*ReputationScore, bool) {
	l.mu.RLock()
	e, ok := l.entries[serverID]
	l.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyScore(e.score), true
}

// EvaluateRisk buckets the server's score into a risk tier. Servers with no
// ledger entry are "unknown": absence of history is not evidence of safety.
func (l *Ledger) EvaluateRisk(serverID string) RiskAssessment {
	sc, ok := l.Get(serverID)
	if !ok {
		return RiskAssessment{ServerID: serverID, RiskLevel: RiskUnknown}
	}

	var level RiskLevel
	switch {
	case sc.Score < l.cfg.CriticalThreshold:
		level = RiskCritical
	case sc.Score < l.cfg.WarningThreshold:
		level = RiskHigh
	case sc.Score < l.cfg.MediumThreshold:
		level = RiskMedium
	default:
		level = RiskLow
	}

	var active []RiskFactor
	for _, rf := range sc.RiskFactors {
		if !rf.IsMitigated {
			active = append(active, rf)
		}
	}
	return RiskAssessment{
		ServerID:    serverID,
		RiskLevel:   level,
		Score:       sc.Score,
		Confidence:  sc.Confidence,
		ActiveRisks: active,
	}
}

// Mitigate marks the first unmitigated risk factor of the given type as
// resolved and records a positive_behavior event so the score recovers
// through the normal recompute path. Returns false when no matching
// unmitigated factor exists.
func (l *Ledger) Mitigate(ctx context.Context, serverID, riskType, notes string) (bool, error) {
	l.mu.RLock()
	e, ok := l.entries[serverID]
	l.mu.RUnlock()
	if !ok {
		return false, nil
	}

	e.mu.Lock()
	mitigated := false
	for i := range e.score.RiskFactors {
		rf := &e.score.RiskFactors[i]
		if rf.Type == riskType && !rf.IsMitigated {
			rf.IsMitigated = true
			rf.Mitigation = notes
			rf.LastSeen = time.Now().UTC()
			mitigated = true
			break
		}
	}
	e.mu.Unlock()

	if !mitigated {
		return false, nil
	}

	_, err := l.Update(ctx, SecurityEvent{
		ServerID:    serverID,
		EventType:   EventPositiveBehavior,
		Severity:    SeverityInfo,
		Description: fmt.Sprintf("risk factor %q mitigated: %s", riskType, notes),
	})
	return true, err
}

// ServerIDs lists every server with a ledger entry.
func (l *Ledger) ServerIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	return ids
}

// EventHistory returns a snapshot of the bounded event log, newest last.
func (l *Ledger) EventHistory() []SecurityEvent {
	l.evMu.Lock()
	defer l.evMu.Unlock()
	out := make([]SecurityEvent, len(l.events))
	copy(out, l.events)
	return out
}

// entryFor returns the entry for a server, hydrating it from the store on
// first access or seeding defaults when nothing is persisted.
func (l *Ledger) entryFor(ctx context.Context, serverID string) *entry {
	l.mu.RLock()
	e, ok := l.entries[serverID]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[serverID]; ok {
		return e
	}

	e = &entry{score: l.seedScore(ctx, serverID)}
	l.entries[serverID] = e
	return e
}

func (l *Ledger) seedScore(ctx context.Context, serverID string) *ReputationScore {
	if l.store != nil {
		data, found, err := l.store.Load(ctx, store.KindReputation, serverID)
		if err != nil {
			metrics.PersistenceErrors.WithLabelValues("redis").Inc()
			log.Printf("[WARN] reputation: load snapshot for %s failed: %v", serverID, err)
		} else if found {
			var sc ReputationScore
			if err := json.Unmarshal(data, &sc); err == nil && sc.ServerID == serverID {
				return &sc
			}
			log.Printf("[WARN] reputation: discarding corrupt snapshot for %s", serverID)
		}
	}
	return &ReputationScore{
		ServerID:    serverID,
		Score:       defaultScore,
		Confidence:  defaultConfidence,
		LastUpdated: time.Now().UTC(),
		Metrics:     defaultMetrics(),
	}
}

func (l *Ledger) recordEvent(event SecurityEvent) {
	l.evMu.Lock()
	l.events = append(l.events, event)
	if n := len(l.events); n > l.cfg.EventHistoryCap {
		l.events = l.events[n-l.cfg.EventHistoryCap:]
	}
	l.evMu.Unlock()
}

// persist snapshots the entry to the store asynchronously. A failed write
// is logged and counted; the in-memory entry stays authoritative.
func (l *Ledger) persist(sc *ReputationScore) {
	if l.store == nil {
		return
	}
	data, err := json.Marshal(sc)
	if err != nil {
		log.Printf("[WARN] reputation: marshal snapshot for %s failed: %v", sc.ServerID, err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.PersistTimeout)
		defer cancel()
		if err := l.store.Save(ctx, store.KindReputation, sc.ServerID, data); err != nil {
			metrics.PersistenceErrors.WithLabelValues("redis").Inc()
			log.Printf("[WARN] reputation: save snapshot for %s failed: %v", sc.ServerID, err)
		}
	}()
}

// calculateScore derives the 0-1000 composite from metrics. Each metric is
// normalized to [0,1] where 1 is best, weighted, and the weighted mean is
// scaled to the ledger range. An unset community rating contributes a
// neutral 3/5.
func calculateScore(m Metrics, w config.ScoreWeights) float64 {
	rtScore := 1 - math.Min(1, m.ResponseTimeMs/1000)
	erScore := 1 - clamp01(m.ErrorRate)
	siScore := 1 - math.Min(1, float64(m.SecurityIncidents)/10)
	upScore := clamp01(m.Uptime)
	csScore := clamp01(m.ComplianceScore)
	tiScore := 1 - math.Min(1, float64(m.ThreatIntelMatches)/5)

	rating := 3.0
	if m.CommunityRating != nil {
		rating = *m.CommunityRating
	}
	crScore := clamp01(rating / 5)

	total := w.Sum()
	if total <= 0 {
		return defaultScore
	}
	weighted := w.ResponseTime*rtScore +
		w.ErrorRate*erScore +
		w.SecurityIncidents*siScore +
		w.Uptime*upScore +
		w.CommunityRating*crScore +
		w.ComplianceScore*csScore +
		w.ThreatIntelligence*tiScore

	score := math.Round(1000 * weighted / total)
	return math.Max(0, math.Min(1000, score))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func metaFloat(meta map[string]interface{}, key string) (float64, bool) {
	v, ok := meta[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func copyScore(sc *ReputationScore) *ReputationScore {
	out := *sc
	out.HistoricalScores = append([]HistoricalScore(nil), sc.HistoricalScores...)
	out.RiskFactors = append([]RiskFactor(nil), sc.RiskFactors...)
	return &out
}
