package security

import (
	"context"
	"maps"
	"time"

	"agenthost/internal/domain"
)

// ComplianceAuditLogger wraps an AuditLogger to ensure every entry carries
// the Actor, Action and Outcome fields the audit trail is filtered on.
type ComplianceAuditLogger struct {
	inner domain.AuditLogger
}

// NewComplianceAuditLogger wraps an existing audit logger with compliance enforcement.
func NewComplianceAuditLogger(inner domain.AuditLogger) *ComplianceAuditLogger {
	return &ComplianceAuditLogger{inner: inner}
}

var defaultOutcomes = map[domain.AuditEventType]string{
	domain.AuditCreateGranted:  "granted",
	domain.AuditCreateDenied:   "denied",
	domain.AuditCreateFailed:   "failed",
	domain.AuditEffectDenied:   "denied",
	domain.AuditExtensionFault: "failed",
	domain.AuditRoleRegistered: "success",
}

// Log fills missing compliance fields before delegating to the inner logger.
// The caller's Detail map is never modified.
func (c *ComplianceAuditLogger) Log(ctx context.Context, event domain.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC()

	if event.Actor == "" {
		event.Actor = "platform"
	}
	if event.Action == "" {
		event.Action = string(event.Type)
	}
	if event.Outcome == "" {
		if o, ok := defaultOutcomes[event.Type]; ok {
			event.Outcome = o
		} else {
			event.Outcome = "unknown"
		}
	}
	if event.Detail != nil {
		event.Detail = maps.Clone(event.Detail)
	}
	return c.inner.Log(ctx, event)
}

// Close delegates to the inner logger.
func (c *ComplianceAuditLogger) Close() error {
	return c.inner.Close()
}
