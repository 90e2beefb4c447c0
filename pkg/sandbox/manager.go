// Package sandbox contains servers whose behavior warrants restriction.
// Containment is graduated: three restriction levels, and a sandboxed server
// only ever moves toward stricter levels until it is explicitly released.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcpwarden/warden/pkg/audit"
	"github.com/mcpwarden/warden/pkg/config"
	"github.com/mcpwarden/warden/pkg/metrics"
	"github.com/mcpwarden/warden/pkg/store"
)

// Level is the containment strictness of a sandboxed server.
type Level string

const (
	LevelLight    Level = "light"
	LevelModerate Level = "moderate"
	LevelStrict   Level = "strict"
)

// levelRank orders levels for the escalation-only invariant.
func levelRank(l Level) int {
	switch l {
	case LevelLight:
		return 1
	case LevelModerate:
		return 2
	case LevelStrict:
		return 3
	}
	return 0
}

// Stricter reports whether l is a tighter containment than other.
func (l Level) Stricter(other Level) bool {
	return levelRank(l) > levelRank(other)
}

// Status describes the lifecycle of a sandbox entry. Active and quarantined
// entries have their restrictions enforced; monitoring entries are observed
// but traffic passes; released is terminal until a fresh sandbox.
type Status string

const (
	StatusActive      Status = "active"
	StatusMonitoring  Status = "monitoring"
	StatusQuarantined Status = "quarantined"
	StatusReleased    Status = "released"
)

// Restrictions are the resource and capability limits enforced at a level.
type Restrictions struct {
	NetworkAccess    bool  `json:"network_access"`
	FileSystemAccess bool  `json:"filesystem_access"`
	ProcessSpawning  bool  `json:"process_spawning"`
	MemoryLimitMB    int   `json:"memory_limit_mb"`
	CPUQuotaPercent  int   `json:"cpu_quota_percent"`
	TimeoutMs        int64 `json:"timeout_ms"`
}

// RestrictionsForLevel returns the fixed restriction set for a level.
// Unknown levels get the strict set: when in doubt, contain harder.
func RestrictionsForLevel(l Level) Restrictions {
	switch l {
	case LevelLight:
		return Restrictions{
			NetworkAccess:    true,
			FileSystemAccess: true,
			ProcessSpawning:  true,
			MemoryLimitMB:    512,
			CPUQuotaPercent:  75,
			TimeoutMs:        30000,
		}
	case LevelModerate:
		return Restrictions{
			NetworkAccess:    true,
			FileSystemAccess: true,
			ProcessSpawning:  false,
			MemoryLimitMB:    256,
			CPUQuotaPercent:  50,
			TimeoutMs:        15000,
		}
	default:
		return Restrictions{
			NetworkAccess:    false,
			FileSystemAccess: false,
			ProcessSpawning:  false,
			MemoryLimitMB:    128,
			CPUQuotaPercent:  25,
			TimeoutMs:        5000,
		}
	}
}

// Violation action strings. Only a block counts as a stopped threat;
// truncation and logging are observations.
const (
	ActionBlocked   = "blocked"
	ActionTruncated = "truncated"
	ActionLogged    = "logged"
)

// Violation types recorded by the manager and middleware.
const (
	ViolationNetwork    = "network_access"
	ViolationFilesystem = "filesystem_access"
	ViolationProcess    = "process_spawning"
	ViolationResource   = "resource_limit"
	ViolationInjection  = "injection_attempt"
)

// Violation is one recorded restriction breach or detected attack.
type Violation struct {
	ID          string                 `json:"id"`
	ServerID    string                 `json:"server_id"`
	Type        string                 `json:"type"`
	Severity    string                 `json:"severity"`
	Description string                 `json:"description"`
	ActionTaken string                 `json:"action_taken"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Stats are per-server sandbox counters.
type Stats struct {
	Violations     int `json:"violations"`
	ThreatsBlocked int `json:"threats_blocked"`
}

// SandboxedServer is the containment record for one server.
type SandboxedServer struct {
	ServerID      string       `json:"server_id"`
	ServerName    string       `json:"server_name"`
	Level         Level        `json:"level"`
	Status        Status       `json:"status"`
	Reason        string       `json:"reason"`
	Restrictions  Restrictions `json:"restrictions"`
	SandboxedAt   time.Time    `json:"sandboxed_at"`
	ReleasedAt    *time.Time   `json:"released_at,omitempty"`
	LastViolation *time.Time   `json:"last_violation,omitempty"`
	Stats         Stats        `json:"stats"`
}

// Contained reports whether the entry is still under management.
func (s *SandboxedServer) Contained() bool {
	return s.Status != StatusReleased
}

// Enforcing reports whether the entry's restrictions apply to live traffic.
// Monitoring entries are observed without enforcement.
func (s *SandboxedServer) Enforcing() bool {
	return s.Status == StatusActive || s.Status == StatusQuarantined
}

// Manager owns all sandbox entries and the bounded violation log.
type Manager struct {
	cfg   *config.Config
	store store.Store
	audit *audit.Logger

	mu         sync.RWMutex
	servers    map[string]*SandboxedServer
	violations []Violation
}

// NewManager creates a sandbox manager. Store and audit may be nil.
func NewManager(cfg *config.Config, st store.Store, auditLog *audit.Logger) *Manager {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if auditLog == nil {
		auditLog = audit.NewDisabled()
	}
	return &Manager{
		cfg:     cfg,
		store:   st,
		audit:   auditLog,
		servers: make(map[string]*SandboxedServer),
	}
}

// SandboxServer places a server under containment, or escalates an existing
// active entry when the requested level is stricter. Requesting a looser
// level than the current one is a no-op: de-escalation only happens through
// Release.
func (m *Manager) SandboxServer(ctx context.Context, serverID, serverName string, level Level, reason string) (*SandboxedServer, error) {
	if serverID == "" {
		return nil, fmt.Errorf("sandbox: empty server id")
	}
	if levelRank(level) == 0 {
		log.Printf("[WARN] sandbox: unknown level %q for server %s, using strict", level, serverID)
		level = LevelStrict
	}

	m.mu.Lock()
	s, ok := m.servers[serverID]
	if ok && s.Contained() {
		if !level.Stricter(s.Level) {
			out := copyServer(s)
			m.mu.Unlock()
			return out, nil
		}
		s.Level = level
		s.Restrictions = RestrictionsForLevel(level)
		s.Reason = reason
	} else {
		s = &SandboxedServer{
			ServerID:     serverID,
			ServerName:   serverName,
			Level:        level,
			Status:       StatusActive,
			Reason:       reason,
			Restrictions: RestrictionsForLevel(level),
			SandboxedAt:  time.Now().UTC(),
		}
		m.servers[serverID] = s
	}
	out := copyServer(s)
	m.mu.Unlock()

	m.persist(out)
	m.auditStatusChange(out.ServerID,
		fmt.Sprintf("sandboxed at %s: %s", out.Level, reason))
	return out, nil
}

// UpdateSandboxLevel escalates a contained entry to a stricter level.
// Returns false when the server is not under containment or the requested
// level would not tighten it.
func (m *Manager) UpdateSandboxLevel(ctx context.Context, serverID string, level Level) bool {
	m.mu.Lock()
	s, ok := m.servers[serverID]
	if !ok || !s.Contained() || !level.Stricter(s.Level) {
		m.mu.Unlock()
		return false
	}
	prev := s.Level
	s.Level = level
	s.Restrictions = RestrictionsForLevel(level)
	out := copyServer(s)
	m.mu.Unlock()

	m.persist(out)
	m.auditStatusChange(serverID, fmt.Sprintf("escalated %s -> %s", prev, level))
	return true
}

// SetStatus moves a contained entry between active, monitoring, and
// quarantined. Release is the only path out; SetStatus never releases and
// never resurrects a released entry.
func (m *Manager) SetStatus(ctx context.Context, serverID string, status Status) bool {
	switch status {
	case StatusActive, StatusMonitoring, StatusQuarantined:
	default:
		return false
	}

	m.mu.Lock()
	s, ok := m.servers[serverID]
	if !ok || !s.Contained() || s.Status == status {
		m.mu.Unlock()
		return false
	}
	prev := s.Status
	s.Status = status
	out := copyServer(s)
	m.mu.Unlock()

	m.persist(out)
	m.auditStatusChange(serverID, fmt.Sprintf("status %s -> %s", prev, status))
	return true
}

// RecordViolation appends a violation, updates counters, and audits it.
// A blocked action counts as a stopped threat; truncated/logged do not.
func (m *Manager) RecordViolation(ctx context.Context, v Violation) Violation {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now().UTC()
	}
	if v.Severity == "" {
		v.Severity = "medium"
	}
	if v.ActionTaken == "" {
		v.ActionTaken = ActionLogged
	}

	m.mu.Lock()
	m.violations = append(m.violations, v)
	if n := len(m.violations); n > m.cfg.ViolationCap {
		m.violations = m.violations[n-m.cfg.ViolationCap:]
	}
	var snapshot *SandboxedServer
	if s, ok := m.servers[v.ServerID]; ok {
		s.Stats.Violations++
		if v.ActionTaken == ActionBlocked {
			s.Stats.ThreatsBlocked++
		}
		ts := v.Timestamp
		s.LastViolation = &ts
		snapshot = copyServer(s)
	}
	m.mu.Unlock()

	metrics.ViolationsTotal.WithLabelValues(v.Type).Inc()
	if snapshot != nil {
		m.persist(snapshot)
	}
	go m.audit.RecordViolation(context.Background(), v.ID, v.ServerID,
		v.Type, v.Severity, v.Description, v.ActionTaken, v.Metadata, v.Timestamp)

	return v
}

// GetSandboxedServer returns a copy of a sandbox entry.
func (m *Manager) GetSandboxedServer(serverID string) (*SandboxedServer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[serverID]
	if !ok {
		return nil, false
	}
	return copyServer(s), true
}

// IsSandboxed reports whether a server is under containment.
func (m *Manager) IsSandboxed(serverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[serverID]
	return ok && s.Contained()
}

// Release ends containment. The entry is kept, marked released, so the
// history survives for reporting; a later SandboxServer call starts fresh.
func (m *Manager) Release(ctx context.Context, serverID, reason string) bool {
	m.mu.Lock()
	s, ok := m.servers[serverID]
	if !ok || !s.Contained() {
		m.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	s.Status = StatusReleased
	s.ReleasedAt = &now
	if reason != "" {
		s.Reason = reason
	}
	out := copyServer(s)
	m.mu.Unlock()

	m.persist(out)
	m.auditStatusChange(serverID, "sandbox released: "+reason)
	return true
}

// Active returns copies of all contained servers. Released entries stay in
// the map for history but are not part of the active set.
func (m *Manager) Active() []*SandboxedServer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*SandboxedServer, 0, len(m.servers))
	for _, s := range m.servers {
		if s.Contained() {
			out = append(out, copyServer(s))
		}
	}
	return out
}

// Violations returns a snapshot of the bounded violation log, oldest first.
func (m *Manager) Violations() []Violation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Violation, len(m.violations))
	copy(out, m.violations)
	return out
}

// ViolationsFor returns a server's violations from the bounded log.
func (m *Manager) ViolationsFor(serverID string) []Violation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Violation
	for _, v := range m.violations {
		if v.ServerID == serverID {
			out = append(out, v)
		}
	}
	return out
}

// ServerName resolves a sandboxed server's display name, falling back to
// the id for servers never sandboxed.
func (m *Manager) ServerName(serverID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.servers[serverID]; ok && s.ServerName != "" {
		return s.ServerName
	}
	return serverID
}

// Restore seeds a sandbox entry from a persisted snapshot. Used at startup;
// live state always wins over stored state.
func (m *Manager) Restore(serverID string) bool {
	if m.store == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PersistTimeout)
	defer cancel()
	data, found, err := m.store.Load(ctx, store.KindSandbox, serverID)
	if err != nil || !found {
		if err != nil {
			metrics.PersistenceErrors.WithLabelValues("redis").Inc()
			log.Printf("[WARN] sandbox: load snapshot for %s failed: %v", serverID, err)
		}
		return false
	}
	var s SandboxedServer
	if err := json.Unmarshal(data, &s); err != nil || s.ServerID != serverID {
		log.Printf("[WARN] sandbox: discarding corrupt snapshot for %s", serverID)
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[serverID]; ok {
		return false
	}
	m.servers[serverID] = &s
	return true
}

// auditStatusChange appends a lifecycle record to the audit log. These are
// audit-only: they never touch the violation log or the stats counters.
func (m *Manager) auditStatusChange(serverID, description string) {
	go m.audit.RecordViolation(context.Background(), uuid.New().String(), serverID,
		"status_change", "info", description, ActionLogged, nil, time.Now().UTC())
}

func (m *Manager) persist(s *SandboxedServer) {
	if m.store == nil {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		log.Printf("[WARN] sandbox: marshal snapshot for %s failed: %v", s.ServerID, err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PersistTimeout)
		defer cancel()
		if err := m.store.Save(ctx, store.KindSandbox, s.ServerID, data); err != nil {
			metrics.PersistenceErrors.WithLabelValues("redis").Inc()
			log.Printf("[WARN] sandbox: save snapshot for %s failed: %v", s.ServerID, err)
		}
	}()
}

func copyServer(s *SandboxedServer) *SandboxedServer {
	out := *s
	if s.ReleasedAt != nil {
		t := *s.ReleasedAt
		out.ReleasedAt = &t
	}
	if s.LastViolation != nil {
		t := *s.LastViolation
		out.LastViolation = &t
	}
	return &out
}
