package reputation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwarden/warden/pkg/config"
	"github.com/mcpwarden/warden/pkg/store"
)

func testLedger(cfg *config.Config) (*Ledger, *store.MemoryStore) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	st := store.NewMemoryStore()
	return NewLedger(cfg, st, nil), st
}

func incident(serverID string, sev Severity) SecurityEvent {
	return SecurityEvent{
		ServerID:    serverID,
		EventType:   EventSecurityIncident,
		Severity:    sev,
		Description: "test incident",
	}
}

func TestCalculateScoreDefaults(t *testing.T) {
	cfg := config.NewDefaultConfig()
	assert.Equal(t, 700.0, calculateScore(defaultMetrics(), cfg.Weights))
}

func TestNewServerStartsAtDefault(t *testing.T) {
	l, _ := testLedger(nil)

	sc, err := l.Update(context.Background(), SecurityEvent{
		ServerID:  "srv-1",
		EventType: EventManualReview,
		Severity:  SeverityInfo,
	})
	require.NoError(t, err)

	assert.Equal(t, 700.0, sc.Score)
	assert.Equal(t, 0.7, sc.Confidence)
	assert.Empty(t, sc.RiskFactors)
	assert.Empty(t, sc.HistoricalScores, "no history entry for a zero-delta update")
}

func TestCriticalIncidentLowersScore(t *testing.T) {
	l, _ := testLedger(nil)

	sc, err := l.Update(context.Background(), incident("srv-1", SeverityCritical))
	require.NoError(t, err)

	assert.Equal(t, 676.0, sc.Score, "one incident lowers the default score")
	assert.Less(t, sc.Score, 700.0)

	require.Len(t, sc.RiskFactors, 1)
	rf := sc.RiskFactors[0]
	assert.Equal(t, string(EventSecurityIncident), rf.Type)
	assert.Equal(t, SeverityCritical, rf.Severity)
	assert.False(t, rf.IsMitigated)

	require.Len(t, sc.HistoricalScores, 1)
	assert.InDelta(t, 0.705, sc.Confidence, 1e-9)
}

func TestScoreMonotonicUnderIncidents(t *testing.T) {
	l, _ := testLedger(nil)

	prev := 700.0
	for i := 0; i < 12; i++ {
		sc, err := l.Update(context.Background(), incident("srv-1", SeverityHigh))
		require.NoError(t, err)
		assert.LessOrEqual(t, sc.Score, prev, "incident %d raised the score", i)
		prev = sc.Score
	}
	assert.GreaterOrEqual(t, prev, 0.0)
}

func TestRiskTierBoundaryIsExclusive(t *testing.T) {
	l, _ := testLedger(nil)
	ctx := context.Background()

	// Ten incidents with threat-intel corroboration saturate both the
	// incident and intel terms, landing exactly on the critical threshold.
	for i := 0; i < 10; i++ {
		ev := incident("srv-1", SeverityCritical)
		ev.Metadata = map[string]interface{}{"threatIntelligenceMatch": true}
		_, err := l.Update(ctx, ev)
		require.NoError(t, err)
	}

	sc, ok := l.Get("srv-1")
	require.True(t, ok)
	require.Equal(t, 300.0, sc.Score)

	// Exactly at the threshold is still high, not critical.
	assert.Equal(t, RiskHigh, l.EvaluateRisk("srv-1").RiskLevel)

	// Push below the line with a degraded error rate.
	_, err := l.Update(ctx, SecurityEvent{
		ServerID:  "srv-1",
		EventType: EventPerformanceIssue,
		Severity:  SeverityMedium,
		Metadata:  map[string]interface{}{"errorRate": 1.0},
	})
	require.NoError(t, err)
	assert.Equal(t, RiskCritical, l.EvaluateRisk("srv-1").RiskLevel)
}

func TestPerformanceIssueUsesEMA(t *testing.T) {
	l, _ := testLedger(nil)

	sc, err := l.Update(context.Background(), SecurityEvent{
		ServerID:  "srv-1",
		EventType: EventPerformanceIssue,
		Severity:  SeverityMedium,
		Metadata: map[string]interface{}{
			"responseTime": 1000.0,
			"errorRate":    0.5,
		},
	})
	require.NoError(t, err)

	// EMA with alpha 0.3 over the 600ms / 0.10 priors.
	assert.InDelta(t, 720.0, sc.Metrics.ResponseTimeMs, 1e-9)
	assert.InDelta(t, 0.22, sc.Metrics.ErrorRate, 1e-9)
	assert.Less(t, sc.Score, 700.0)
}

func TestPerformanceIssueIgnoresOutOfRangeMetadata(t *testing.T) {
	l, _ := testLedger(nil)

	sc, err := l.Update(context.Background(), SecurityEvent{
		ServerID:  "srv-1",
		EventType: EventPerformanceIssue,
		Severity:  SeverityLow,
		Metadata: map[string]interface{}{
			"responseTime": -50.0,
			"errorRate":    3.5,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 600.0, sc.Metrics.ResponseTimeMs)
	assert.Equal(t, 0.10, sc.Metrics.ErrorRate)
}

func TestPositiveBehaviorImprovesScore(t *testing.T) {
	l, _ := testLedger(nil)

	sc, err := l.Update(context.Background(), SecurityEvent{
		ServerID:  "srv-1",
		EventType: EventPositiveBehavior,
		Severity:  SeverityInfo,
		Metadata:  map[string]interface{}{"uptime": 0.99},
	})
	require.NoError(t, err)

	assert.Greater(t, sc.Score, 700.0)
	assert.InDelta(t, 0.1, sc.Metrics.ComplianceScore, 1e-9)
	assert.InDelta(t, 0.647, sc.Metrics.Uptime, 1e-9)
}

func TestUnknownEventTypeLeavesMetricsUntouched(t *testing.T) {
	l, _ := testLedger(nil)

	sc, err := l.Update(context.Background(), SecurityEvent{
		ServerID:  "srv-1",
		EventType: EventType("cosmic_ray"),
		Severity:  SeverityLow,
	})
	require.NoError(t, err)
	assert.Equal(t, 700.0, sc.Score)
	assert.Equal(t, defaultMetrics(), sc.Metrics)
}

func TestUnknownSeverityFallsBackToMedium(t *testing.T) {
	l, _ := testLedger(nil)

	sc, err := l.Update(context.Background(), SecurityEvent{
		ServerID:  "srv-1",
		EventType: EventManualReview,
		Severity:  Severity("catastrophic"),
	})
	require.NoError(t, err)
	// Medium severity never spawns a risk factor.
	assert.Empty(t, sc.RiskFactors)
}

func TestUpdateRejectsMissingServerID(t *testing.T) {
	l, _ := testLedger(nil)
	_, err := l.Update(context.Background(), SecurityEvent{EventType: EventManualReview})
	assert.Error(t, err)
}

func TestRepeatedHighSeverityReusesRiskFactor(t *testing.T) {
	l, _ := testLedger(nil)
	ctx := context.Background()

	_, err := l.Update(ctx, incident("srv-1", SeverityHigh))
	require.NoError(t, err)
	sc, err := l.Update(ctx, incident("srv-1", SeverityCritical))
	require.NoError(t, err)

	require.Len(t, sc.RiskFactors, 1, "same unmitigated type must not duplicate")
	assert.Equal(t, SeverityCritical, sc.RiskFactors[0].Severity, "severity escalates in place")
}

func TestEvaluateRiskUnknownServer(t *testing.T) {
	l, _ := testLedger(nil)
	risk := l.EvaluateRisk("never-seen")
	assert.Equal(t, RiskUnknown, risk.RiskLevel)
	assert.Empty(t, risk.ActiveRisks)
}

func TestMitigate(t *testing.T) {
	l, _ := testLedger(nil)
	ctx := context.Background()

	_, err := l.Update(ctx, incident("srv-1", SeverityCritical))
	require.NoError(t, err)
	before, _ := l.Get("srv-1")

	ok, err := l.Mitigate(ctx, "srv-1", string(EventSecurityIncident), "rotated credentials")
	require.NoError(t, err)
	require.True(t, ok)

	after, found := l.Get("srv-1")
	require.True(t, found)
	require.Len(t, after.RiskFactors, 1)
	assert.True(t, after.RiskFactors[0].IsMitigated)
	assert.Equal(t, "rotated credentials", after.RiskFactors[0].Mitigation)
	assert.Greater(t, after.Score, before.Score, "mitigation recovers the score")
	assert.Empty(t, l.EvaluateRisk("srv-1").ActiveRisks)

	// Nothing left to mitigate.
	ok, err = l.Mitigate(ctx, "srv-1", string(EventSecurityIncident), "again")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMitigateUnknownServer(t *testing.T) {
	l, _ := testLedger(nil)
	ok, err := l.Mitigate(context.Background(), "ghost", "anything", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryAndEventLogAreBounded(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.HistoryCap = 3
	cfg.EventHistoryCap = 5
	l, _ := testLedger(cfg)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := l.Update(ctx, incident("srv-1", SeverityHigh))
		require.NoError(t, err)
	}

	sc, _ := l.Get("srv-1")
	assert.LessOrEqual(t, len(sc.HistoricalScores), 3)
	assert.Len(t, l.EventHistory(), 5)
}

func TestSnapshotSeedsNewLedger(t *testing.T) {
	cfg := config.NewDefaultConfig()
	l1, st := testLedger(cfg)
	ctx := context.Background()

	_, err := l1.Update(ctx, incident("srv-1", SeverityCritical))
	require.NoError(t, err)

	// Snapshot writes are async; wait for the record to land.
	require.Eventually(t, func() bool {
		_, found, _ := st.Load(ctx, store.KindReputation, "srv-1")
		return found
	}, time.Second, 10*time.Millisecond)

	l2 := NewLedger(cfg, st, nil)
	sc, err := l2.Update(ctx, SecurityEvent{
		ServerID:  "srv-1",
		EventType: EventManualReview,
		Severity:  SeverityInfo,
	})
	require.NoError(t, err)
	assert.Equal(t, 676.0, sc.Score, "restarted ledger resumes from the snapshot")
	assert.Len(t, sc.RiskFactors, 1)
}

func TestGetReturnsCopy(t *testing.T) {
	l, _ := testLedger(nil)
	_, err := l.Update(context.Background(), incident("srv-1", SeverityCritical))
	require.NoError(t, err)

	a, _ := l.Get("srv-1")
	a.Score = -1
	a.RiskFactors[0].IsMitigated = true

	b, _ := l.Get("srv-1")
	assert.Equal(t, 676.0, b.Score)
	assert.False(t, b.RiskFactors[0].IsMitigated)
}
