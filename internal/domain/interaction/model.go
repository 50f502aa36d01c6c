package interaction

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityMinor           Severity = "MINOR"
	SeverityModerate        Severity = "MODERATE"
	SeverityMajor           Severity = "MAJOR"
	SeverityContraindicated Severity = "CONTRAINDICATED"
)

// TriggersAlert reports whether an interaction of this severity raises a clinical alert.
func (s Severity) TriggersAlert() bool {
	return s == SeverityMajor || s == SeverityContraindicated
}

// Record is one curated drug-drug interaction.
type Record struct {
	DrugA          string   `json:"drug_a"`
	DrugB          string   `json:"drug_b"`
	Severity       Severity `json:"severity"`
	Mechanism      string   `json:"mechanism"`
	ClinicalEffect string   `json:"clinical_effect"`
	Recommendation string   `json:"recommendation"`
}

// Medication is an active prescription on the patient's record.
type Medication struct {
	ID        string `db:"id" json:"id"`
	PatientID string `db:"patient_id" json:"patient_id"`
	DrugName  string `db:"drug_name" json:"drug_name"`
}

// Allergy is an active allergy on the patient's record.
type Allergy struct {
	ID        string `db:"id" json:"id"`
	PatientID string `db:"patient_id" json:"patient_id"`
	Substance string `db:"substance" json:"substance"`
}

// CheckResult is the verdict for prescribing one drug. Interactions lists
// every match regardless of severity.
type CheckResult struct {
	DrugName                 string    `json:"drug_name"`
	Interactions             []Record  `json:"interactions"`
	AllergyContraindications []string  `json:"allergy_contraindications"`
	Safe                     bool      `json:"safe"`
	CheckedAt                time.Time `json:"checked_at"`
}

// SummaryResult covers every pair of the patient's active medications.
type SummaryResult struct {
	PatientID                string    `json:"patient_id"`
	Interactions             []Record  `json:"interactions"`
	AllergyContraindications []string  `json:"allergy_contraindications"`
	Safe                     bool      `json:"safe"`
	CheckedAt                time.Time `json:"checked_at"`
}

func normalise(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
