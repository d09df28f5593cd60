// Package alert defines the events the compliance scan hands to the external
// notification collaborator. Delivery itself (email, chat, webhooks) lives
// outside the core.
package alert

import (
	"fmt"
	"time"
)

// Condition names a compliance threshold that has been crossed.
type Condition string

const (
	ConditionLicenseExpiring Condition = "LICENSE_EXPIRING"
	ConditionOverUtilized    Condition = "LICENSE_OVERUTILIZED"
	ConditionDeviceAtRisk    Condition = "DEVICE_AT_RISK"
)

// Severity grades an event for the notification layer.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Key identifies an alert condition against a single subject. The scan keeps
// one marker per key to suppress duplicate events across runs.
type Key struct {
	SubjectType string    `json:"subject_type"` // LICENSE or DEVICE
	SubjectID   string    `json:"subject_id"`
	Condition   Condition `json:"condition"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.SubjectType, k.SubjectID, k.Condition)
}

// Event is one newly crossed threshold reported by a compliance scan.
type Event struct {
	Key        Key       `json:"key"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	DetectedAt time.Time `json:"detected_at"`
}

// ExpirySeverity grades a license by days left until it expires.
func ExpirySeverity(daysLeft int) Severity {
	switch {
	case daysLeft <= 7:
		return SeverityCritical
	case daysLeft <= 15:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// UtilizationSeverity grades a license by its seat utilization fraction.
func UtilizationSeverity(ratio float64) Severity {
	switch {
	case ratio >= 0.95:
		return SeverityCritical
	case ratio >= 0.90:
		return SeverityHigh
	default:
		return SeverityWarning
	}
}
