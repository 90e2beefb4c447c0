// Package metrics exposes Prometheus collectors for the enforcement engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// warden_scans_total (counter): payload scans performed
	ScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_scans_total",
		Help: "Total number of payload scans performed by the injection detector",
	})

	// warden_scan_cache_hits_total (counter): detector cache hits
	ScanCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_scan_cache_hits_total",
		Help: "Number of detector scans served from the result cache",
	})

	// warden_findings_total{category=...}
	FindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_findings_total",
		Help: "Detection findings by pattern category",
	}, []string{"category"})

	// warden_malicious_payloads_total (counter)
	MaliciousPayloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_malicious_payloads_total",
		Help: "Payloads whose risk score crossed the malicious threshold",
	})

	// warden_security_events_total{type=...}
	SecurityEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_security_events_total",
		Help: "Security events processed by the reputation ledger",
	}, []string{"type"})

	// warden_violations_total{type=...}
	ViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_violations_total",
		Help: "Sandbox violations recorded, by violation type",
	}, []string{"type"})

	// warden_sandbox_actions_total{outcome=sandboxed|escalated|no_action|error}
	SandboxActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_sandbox_actions_total",
		Help: "Outcomes of security-event handling by the sandbox middleware",
	}, []string{"outcome"})

	// warden_enforcement_blocks_total{kind=request|response}
	EnforcementBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_enforcement_blocks_total",
		Help: "Traffic blocked or truncated by the enforcement middleware",
	}, []string{"kind"})

	// warden_reports_generated_total (counter)
	ReportsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_reports_generated_total",
		Help: "Threat reports built on demand",
	})

	// warden_persistence_errors_total{store=redis|postgres}
	PersistenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_persistence_errors_total",
		Help: "Best-effort persistence failures (state remains authoritative in memory)",
	}, []string{"store"})
)
