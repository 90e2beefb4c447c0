package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ScoreWeights holds the relative weight of each reputation metric in the
// composite score. The defaults are carried over from the original tuning
// and have no documented empirical justification; treat them as a starting
// point, not load-bearing constants.
type ScoreWeights struct {
	ResponseTime       float64
	ErrorRate          float64
	SecurityIncidents  float64
	Uptime             float64
	CommunityRating    float64
	ComplianceScore    float64
	ThreatIntelligence float64
}

// Sum returns the total weight, used to normalize the composite score.
func (w ScoreWeights) Sum() float64 {
	return w.ResponseTime + w.ErrorRate + w.SecurityIncidents + w.Uptime +
		w.CommunityRating + w.ComplianceScore + w.ThreatIntelligence
}

// Config holds global settings for the Warden enforcement engine.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Core Settings ===
	ListenAddr string // HTTP listen address (default ":3000")

	// === Detector ===
	DetectThreshold  float64 // Risk score above this = malicious (default 0.7)
	MaxContextLength int     // Payload bytes scanned per call (default 100000)
	EnableHeuristics bool    // Enable the term-weighting phase (default true)
	ScanCacheSize    int     // Detector result cache entries (default 1024)
	PatternPackPath  string  // Optional YAML pattern pack loaded at startup

	// === Reputation Ledger ===
	Weights           ScoreWeights
	CriticalThreshold float64 // Score below this = critical risk (default 300)
	WarningThreshold  float64 // Score below this = high risk (default 600)
	MediumThreshold   float64 // Score below this = medium risk (default 800)
	EMAAlpha          float64 // Weight of the new sample in EMAs (default 0.3)
	HistoryCap        int     // Bounded score history per server (default 100)
	EventHistoryCap   int     // Bounded event log per ledger (default 1000)

	// === Sandbox ===
	ViolationCap int // Bounded violation log (default 1000)

	// === Reporting ===
	ReportWindow time.Duration // Default report window (default 7 days)

	// === Persistence (best-effort collaborators) ===
	RedisAddr      string        // Redis address for record snapshots ("" disables)
	RedisPassword  string        //
	PostgresDSN    string        // Postgres DSN for the audit log ("" disables)
	PersistTimeout time.Duration // Bound on every store/audit call (default 2s)
}

// NewDefaultConfig creates a Config with sensible defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr: GetEnv("WARDEN_LISTEN_ADDR", ":3000"),

		DetectThreshold:  GetEnvFloat("WARDEN_DETECT_THRESHOLD", 0.7),
		MaxContextLength: GetEnvInt("WARDEN_MAX_CONTEXT_LENGTH", 100000),
		EnableHeuristics: GetEnvBool("WARDEN_ENABLE_HEURISTICS", true),
		ScanCacheSize:    GetEnvInt("WARDEN_SCAN_CACHE_SIZE", 1024),
		PatternPackPath:  GetEnv("WARDEN_PATTERN_PACK", ""),

		Weights: ScoreWeights{
			ResponseTime:       GetEnvFloat("WARDEN_WEIGHT_RESPONSE_TIME", 0.15),
			ErrorRate:          GetEnvFloat("WARDEN_WEIGHT_ERROR_RATE", 0.20),
			SecurityIncidents:  GetEnvFloat("WARDEN_WEIGHT_INCIDENTS", 0.30),
			Uptime:             GetEnvFloat("WARDEN_WEIGHT_UPTIME", 0.15),
			CommunityRating:    GetEnvFloat("WARDEN_WEIGHT_COMMUNITY", 0.10),
			ComplianceScore:    GetEnvFloat("WARDEN_WEIGHT_COMPLIANCE", 0.15),
			ThreatIntelligence: GetEnvFloat("WARDEN_WEIGHT_THREAT_INTEL", 0.20),
		},
		CriticalThreshold: GetEnvFloat("WARDEN_RISK_CRITICAL", 300),
		WarningThreshold:  GetEnvFloat("WARDEN_RISK_WARNING", 600),
		MediumThreshold:   GetEnvFloat("WARDEN_RISK_MEDIUM", 800),
		EMAAlpha:          GetEnvFloat("WARDEN_EMA_ALPHA", 0.3),
		HistoryCap:        GetEnvInt("WARDEN_HISTORY_CAP", 100),
		EventHistoryCap:   GetEnvInt("WARDEN_EVENT_HISTORY_CAP", 1000),

		ViolationCap: GetEnvInt("WARDEN_VIOLATION_CAP", 1000),

		ReportWindow: time.Duration(GetEnvInt("WARDEN_REPORT_WINDOW_HOURS", 7*24)) * time.Hour,

		RedisAddr:      GetEnv("WARDEN_REDIS_ADDR", ""),
		RedisPassword:  GetEnv("WARDEN_REDIS_PASSWORD", ""),
		PostgresDSN:    GetEnv("WARDEN_POSTGRES_DSN", ""),
		PersistTimeout: time.Duration(GetEnvInt("WARDEN_PERSIST_TIMEOUT_MS", 2000)) * time.Millisecond,
	}
}

// NewStrictConfig creates a Config for maximum containment (may flag more
// legitimate traffic).
func NewStrictConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.DetectThreshold = 0.5
	cfg.CriticalThreshold = 400
	cfg.WarningThreshold = 700
	return cfg
}

// NewPermissiveConfig creates a Config that minimizes false positives.
func NewPermissiveConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.DetectThreshold = 0.85
	cfg.CriticalThreshold = 200
	cfg.WarningThreshold = 500
	return cfg
}

// Helper functions for environment variable parsing.
// Exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
