package sandbox

import (
	"context"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v3"

	"github.com/mcpwarden/warden/pkg/detect"
	"github.com/mcpwarden/warden/pkg/metrics"
	"github.com/mcpwarden/warden/pkg/reputation"
)

// Outcome describes what the middleware did with a security event.
type Outcome string

const (
	OutcomeSandboxed Outcome = "sandboxed"
	OutcomeEscalated Outcome = "escalated"
	OutcomeNoAction  Outcome = "no_action"
	OutcomeError     Outcome = "error"
)

// Decision is the result of inspecting one request or response.
type Decision struct {
	Allowed    bool       `json:"allowed"`
	Action     string     `json:"action"` // allowed | blocked | truncated
	StatusCode int        `json:"status_code,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Violation  *Violation `json:"violation,omitempty"`
}

func allowDecision() Decision {
	return Decision{Allowed: true, Action: "allowed"}
}

// Middleware ties the detector, the sandbox manager, and the reputation
// ledger into the traffic path. Inspection fails open: an internal error
// must never take down legitimate traffic, so it is logged and the payload
// passes.
type Middleware struct {
	detector *detect.Detector
	manager  *Manager
	ledger   *reputation.Ledger
}

// NewMiddleware wires the enforcement path. The ledger may be nil; detector
// and manager are required.
func NewMiddleware(detector *detect.Detector, manager *Manager, ledger *reputation.Ledger) *Middleware {
	return &Middleware{detector: detector, manager: manager, ledger: ledger}
}

// levelForSeverity maps event severity to the containment level applied.
func levelForSeverity(s reputation.Severity) Level {
	switch s {
	case reputation.SeverityCritical:
		return LevelStrict
	case reputation.SeverityHigh:
		return LevelModerate
	default:
		return LevelLight
	}
}

// ProcessSecurityEvent feeds the event into the reputation ledger and
// applies or escalates containment based on severity. Info-level events are
// recorded but never trigger a sandbox.
func (mw *Middleware) ProcessSecurityEvent(ctx context.Context, event reputation.SecurityEvent) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WARN] sandbox: recovered handling event for %s: %v", event.ServerID, r)
			outcome = OutcomeError
		}
		metrics.SandboxActions.WithLabelValues(string(outcome)).Inc()
	}()

	if event.ServerID == "" {
		return OutcomeError
	}

	if mw.ledger != nil {
		if _, err := mw.ledger.Update(ctx, event); err != nil {
			log.Printf("[WARN] sandbox: ledger update for %s failed: %v", event.ServerID, err)
		}
	}

	if event.Severity == reputation.SeverityInfo {
		return OutcomeNoAction
	}

	level := levelForSeverity(event.Severity)
	// A server the ledger already rates critical gets the strictest level
	// regardless of this event's own severity.
	if mw.ledger != nil {
		if risk := mw.ledger.EvaluateRisk(event.ServerID); risk.RiskLevel == reputation.RiskCritical {
			level = LevelStrict
		}
	}

	existing, ok := mw.manager.GetSandboxedServer(event.ServerID)
	if ok && existing.Contained() {
		if mw.manager.UpdateSandboxLevel(ctx, event.ServerID, level) {
			return OutcomeEscalated
		}
		return OutcomeNoAction
	}

	if _, err := mw.manager.SandboxServer(ctx, event.ServerID, event.ServerID, level, event.Description); err != nil {
		log.Printf("[WARN] sandbox: sandboxing %s failed: %v", event.ServerID, err)
		return OutcomeError
	}
	return OutcomeSandboxed
}

// InspectRequest checks an outbound request against the server's
// restrictions and scans the payload for injection. Blocked requests
// produce a violation; internal failures fail open.
func (mw *Middleware) InspectRequest(ctx context.Context, serverID, method, path, destination string, body []byte) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WARN] sandbox: recovered inspecting request for %s: %v", serverID, r)
			d = allowDecision()
		}
	}()

	if s, ok := mw.manager.GetSandboxedServer(serverID); ok &&
		s.Enforcing() && !s.Restrictions.NetworkAccess {
		v := mw.manager.RecordViolation(ctx, Violation{
			ServerID:    serverID,
			Type:        ViolationNetwork,
			Severity:    "high",
			Description: fmt.Sprintf("network access denied under %s sandbox", s.Level),
			ActionTaken: ActionBlocked,
			Metadata: map[string]interface{}{
				"method":      method,
				"path":        path,
				"destination": destination,
			},
		})
		metrics.EnforcementBlocks.WithLabelValues("request").Inc()
		return Decision{
			Action:     ActionBlocked,
			StatusCode: fiber.StatusForbidden,
			Reason:     "network access is not permitted at the current sandbox level",
			Violation:  &v,
		}
	}

	if len(body) > 0 {
		res := mw.detector.Detect(string(body))
		if res.IsMalicious {
			v := mw.manager.RecordViolation(ctx, Violation{
				ServerID:    serverID,
				Type:        ViolationInjection,
				Severity:    severityForRisk(res.RiskScore),
				Description: fmt.Sprintf("injection detected in request payload (risk %.2f, %d findings)", res.RiskScore, len(res.Findings)),
				ActionTaken: ActionBlocked,
				Metadata: map[string]interface{}{
					"method":     method,
					"path":       path,
					"risk_score": res.RiskScore,
					"findings":   len(res.Findings),
				},
			})
			mw.reportIncident(ctx, serverID, "request payload flagged as prompt injection", res.RiskScore)
			metrics.EnforcementBlocks.WithLabelValues("request").Inc()
			return Decision{
				Action:     ActionBlocked,
				StatusCode: fiber.StatusForbidden,
				Reason:     "request payload flagged as prompt injection",
				Violation:  &v,
			}
		}
	}

	return allowDecision()
}

// InspectResponse enforces the memory limit on response size and scans the
// body for injected instructions on the way back. Oversized bodies are
// truncated rather than passed through; malicious bodies are blocked.
func (mw *Middleware) InspectResponse(ctx context.Context, serverID string, body []byte) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WARN] sandbox: recovered inspecting response for %s: %v", serverID, r)
			d = allowDecision()
		}
	}()

	if s, ok := mw.manager.GetSandboxedServer(serverID); ok && s.Enforcing() {
		limit := s.Restrictions.MemoryLimitMB << 20
		if limit > 0 && len(body) > limit {
			v := mw.manager.RecordViolation(ctx, Violation{
				ServerID:    serverID,
				Type:        ViolationResource,
				Severity:    "medium",
				Description: fmt.Sprintf("response of %d bytes exceeds %dMB sandbox limit", len(body), s.Restrictions.MemoryLimitMB),
				ActionTaken: ActionTruncated,
				Metadata: map[string]interface{}{
					"response_bytes": len(body),
					"limit_mb":       s.Restrictions.MemoryLimitMB,
				},
			})
			metrics.EnforcementBlocks.WithLabelValues("response").Inc()
			return Decision{
				Action:     ActionTruncated,
				StatusCode: fiber.StatusRequestEntityTooLarge,
				Reason:     fmt.Sprintf("response exceeds the %dMB sandbox limit", s.Restrictions.MemoryLimitMB),
				Violation:  &v,
			}
		}
	}

	if len(body) > 0 {
		res := mw.detector.Detect(string(body))
		if res.IsMalicious {
			v := mw.manager.RecordViolation(ctx, Violation{
				ServerID:    serverID,
				Type:        ViolationInjection,
				Severity:    severityForRisk(res.RiskScore),
				Description: fmt.Sprintf("injection detected in response payload (risk %.2f)", res.RiskScore),
				ActionTaken: ActionBlocked,
				Metadata: map[string]interface{}{
					"risk_score": res.RiskScore,
					"findings":   len(res.Findings),
				},
			})
			mw.reportIncident(ctx, serverID, "response payload flagged as prompt injection", res.RiskScore)
			metrics.EnforcementBlocks.WithLabelValues("response").Inc()
			return Decision{
				Action:     ActionBlocked,
				StatusCode: fiber.StatusBadGateway,
				Reason:     "upstream response flagged as prompt injection",
				Violation:  &v,
			}
		}
	}

	return allowDecision()
}

// Handler adapts the middleware to a fiber route group. Mount it on the
// proxy prefix with a :server parameter; downstream handlers run only for
// allowed traffic, and their responses are inspected on the way out.
func (mw *Middleware) Handler() fiber.Handler {
	return func(c fiber.Ctx) error {
		serverID := c.Params("server")
		if serverID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing server identifier",
			})
		}

		d := mw.InspectRequest(c.Context(), serverID, c.Method(), c.Path(), c.Hostname(), c.Body())
		if !d.Allowed {
			return c.Status(d.StatusCode).JSON(fiber.Map{
				"error":  d.Reason,
				"action": d.Action,
			})
		}

		if err := c.Next(); err != nil {
			return err
		}

		rd := mw.InspectResponse(c.Context(), serverID, c.Response().Body())
		if !rd.Allowed {
			c.Response().ResetBody()
			return c.Status(rd.StatusCode).JSON(fiber.Map{
				"error":  rd.Reason,
				"action": rd.Action,
			})
		}
		return nil
	}
}

func severityForRisk(risk float64) string {
	if risk >= 0.9 {
		return "critical"
	}
	return "high"
}

// reportIncident forwards a detection to the reputation ledger.
func (mw *Middleware) reportIncident(ctx context.Context, serverID, description string, risk float64) {
	if mw.ledger == nil {
		return
	}
	sev := reputation.SeverityHigh
	if risk >= 0.9 {
		sev = reputation.SeverityCritical
	}
	if _, err := mw.ledger.Update(ctx, reputation.SecurityEvent{
		ServerID:    serverID,
		EventType:   reputation.EventSecurityIncident,
		Severity:    sev,
		Description: description,
		Metadata:    map[string]interface{}{"risk_score": risk},
	}); err != nil {
		log.Printf("[WARN] sandbox: incident report for %s failed: %v", serverID, err)
	}
}
