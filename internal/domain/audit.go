package domain

import (
	"context"
	"time"
)

// AuditEventType classifies audit log entries.
type AuditEventType string

const (
	AuditCreateGranted  AuditEventType = "create_granted"
	AuditCreateDenied   AuditEventType = "create_denied"
	AuditCreateFailed   AuditEventType = "create_failed"
	AuditEffectDenied   AuditEventType = "effect_denied"
	AuditExtensionFault AuditEventType = "extension_fault"
	AuditRoleRegistered AuditEventType = "role_registered"
)

// AuditEvent represents a single auditable capability decision.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      AuditEventType    `json:"type"`
	Detail    map[string]string `json:"detail,omitempty"`

	Actor    string `json:"actor,omitempty"`    // requesting role, or "platform"
	Resource string `json:"resource,omitempty"` // target role or agent
	Action   string `json:"action,omitempty"`
	Outcome  string `json:"outcome,omitempty"`

	// Chain is the hex hash linking this entry to the one before it.
	Chain string `json:"chain,omitempty"`
}

// AuditLogger writes audit events to a persistent log.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Close() error
}

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

func (NopAuditLogger) Log(context.Context, AuditEvent) error { return nil }
func (NopAuditLogger) Close() error                          { return nil }
