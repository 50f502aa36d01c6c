package interaction

import "context"

// MedicationRepository reads the patient's active prescriptions.
type MedicationRepository interface {
	ActiveForPatient(ctx context.Context, patientID string) ([]Medication, error)
}

// AllergyRepository reads the patient's active allergies.
type AllergyRepository interface {
	ActiveForPatient(ctx context.Context, patientID string) ([]Allergy, error)
}
