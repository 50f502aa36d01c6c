package alert

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeLabCritical             Type = "LAB_CRITICAL"
	TypeLabAbnormal             Type = "LAB_ABNORMAL"
	TypeNews2High               Type = "NEWS2_HIGH"
	TypeNews2Critical           Type = "NEWS2_CRITICAL"
	TypeDrugInteraction         Type = "DRUG_INTERACTION"
	TypeAllergyContraindication Type = "ALLERGY_CONTRAINDICATION"
)

var knownTypes = map[Type]bool{
	TypeLabCritical:             true,
	TypeLabAbnormal:             true,
	TypeNews2High:               true,
	TypeNews2Critical:           true,
	TypeDrugInteraction:         true,
	TypeAllergyContraindication: true,
}

// IsNews2 reports whether at most one ACTIVE alert of this type may exist per patient.
func IsNews2(t Type) bool {
	return t == TypeNews2High || t == TypeNews2Critical
}

func ParseType(s string) (Type, bool) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	return t, knownTypes[t]
}

type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	return sev, sev == SeverityWarning || sev == SeverityCritical
}

type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusDismissed    Status = "DISMISSED"
)

func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusActive, StatusAcknowledged, StatusDismissed:
		return st, true
	}
	return "", false
}

// SupersededReason is recorded on a NEWS2 alert replaced by a newer score.
const SupersededReason = "Auto-dismissed: superseded by updated score"

type ClinicalAlert struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      string     `db:"patient_id" json:"patient_id"`
	PatientName    string     `db:"-" json:"patient_name,omitempty"`
	AlertType      Type       `db:"alert_type" json:"alert_type"`
	Severity       Severity   `db:"severity" json:"severity"`
	Title          string     `db:"title" json:"title"`
	Description    string     `db:"description" json:"description,omitempty"`
	Source         string     `db:"source" json:"source"`
	TriggerValue   *string    `db:"trigger_value" json:"trigger_value,omitempty"`
	Status         Status     `db:"status" json:"status"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	AcknowledgedBy *string    `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	DismissedBy    *string    `db:"dismissed_by" json:"dismissed_by,omitempty"`
	DismissedAt    *time.Time `db:"dismissed_at" json:"dismissed_at,omitempty"`
	DismissReason  *string    `db:"dismiss_reason" json:"dismiss_reason,omitempty"`
}

// NewAlert is the input to Service.Create.
type NewAlert struct {
	PatientID    string
	AlertType    Type
	Severity     Severity
	Title        string
	Description  string
	Source       string
	TriggerValue *string
}

// Filter narrows an alert feed. Zero values match everything.
type Filter struct {
	Status   Status
	Severity Severity
}

// Query is what the repository executes for a feed request.
type Query struct {
	Filter
	PatientID string
	// Scoped restricts results to PatientIDs, which may be empty.
	Scoped     bool
	PatientIDs []string
	Limit      int
	Offset     int
}

// Stats are dashboard counts over ACTIVE alerts.
type Stats struct {
	TotalActive               int            `json:"total_active"`
	ActiveBySeverity          map[string]int `json:"active_by_severity"`
	ActiveByType              map[string]int `json:"active_by_type"`
	PatientsWithCritical      int            `json:"patients_with_critical"`
	PatientsWithNews2Critical int            `json:"patients_with_news2_critical"`
	AcknowledgedCount         int            `json:"acknowledged_count"`
	DismissedCount            int            `json:"dismissed_count"`
}

// PatientAlertCount is the per-patient ACTIVE alert tally shown on a clinician's worklist.
type PatientAlertCount struct {
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name,omitempty"`
	Critical    int    `json:"critical"`
	Warning     int    `json:"warning"`
}

// Event is published on the alert channel after every committed state change.
type Event struct {
	Type       string    `json:"type"`
	AlertID    uuid.UUID `json:"alert_id"`
	PatientID  string    `json:"patient_id"`
	AlertType  Type      `json:"alert_type"`
	Severity   Severity  `json:"severity"`
	Status     Status    `json:"status"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
}

const (
	EventCreated      = "ALERT_CREATED"
	EventAcknowledged = "ALERT_ACKNOWLEDGED"
	EventDismissed    = "ALERT_DISMISSED"
)

// LabInterpretation is the flag attached to a recorded lab value.
type LabInterpretation string

const (
	LabNormal       LabInterpretation = "NORMAL"
	LabLow          LabInterpretation = "LOW"
	LabHigh         LabInterpretation = "HIGH"
	LabCriticalLow  LabInterpretation = "CRITICAL_LOW"
	LabCriticalHigh LabInterpretation = "CRITICAL_HIGH"
	LabAbnormal     LabInterpretation = "ABNORMAL"
)

// LabResult is a recorded lab value handed over by the lab workflow.
type LabResult struct {
	PatientID      string            `json:"patient_id"`
	TestName       string            `json:"test_name"`
	Value          string            `json:"value"`
	Unit           string            `json:"unit,omitempty"`
	Interpretation LabInterpretation `json:"interpretation"`
}
