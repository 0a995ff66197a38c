// Package recovery is the terminal handler for faults raised anywhere in
// the subsystem. It classifies a fault, preserves the user's in-progress
// work, executes a recovery strategy from a configurable table, and keeps
// a bounded history of outcomes. Nothing above it ever sees a raw fault.
package recovery

import (
	"context"
	"strings"
	"time"
)

// Fault kinds.
const (
	KindComponentCrash         = "component_crash"
	KindNetworkError           = "network_error"
	KindStateCorruption        = "state_corruption"
	KindPerformanceDegradation = "performance_degradation"
)

// Fault severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Fault describes one failure handed to the manager.
type Fault struct {
	// ID deduplicates recoveries: concurrent faults with the same id share
	// one recovery. Empty ids get one assigned.
	ID string
	// Kind is the fault class set at the throw site. When set it wins over
	// message matching.
	Kind string
	// Component names the failing feature. Graceful degradation disables it.
	Component string
	// Message is the human-readable description of the failure.
	Message string
	// Operation re-runs the failed work. Only automatic retries use it; a
	// fault without one cannot be retried.
	Operation func(ctx context.Context) error
	// OccurredAt is when the fault was raised. Zero means now.
	OccurredAt time.Time
}

// UserContext identifies whose work was affected by a fault.
type UserContext struct {
	UserID     string
	SessionID  string
	TenantID   string
	WorldIndex int
}

// Classify maps a fault to a kind and severity. An explicit Kind set at the
// throw site wins. Otherwise the message is scanned for telltale words,
// which is a best-effort heuristic for faults arriving from opaque
// components and can misclassify unusual messages.
func Classify(fault Fault) (kind, severity string) {
	kind = fault.Kind
	if kind == "" {
		kind = classifyMessage(fault.Message)
	}
	return kind, severityOf(kind)
}

func classifyMessage(message string) string {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "network") || strings.Contains(msg, "fetch"):
		return KindNetworkError
	case strings.Contains(msg, "state") || strings.Contains(msg, "undefined"):
		return KindStateCorruption
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "performance"):
		return KindPerformanceDegradation
	default:
		return KindComponentCrash
	}
}

func severityOf(kind string) string {
	switch kind {
	case KindStateCorruption:
		return SeverityCritical
	case KindComponentCrash:
		return SeverityHigh
	case KindNetworkError:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
