package alert

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Insert fails with an apperr CONFLICT when a second ACTIVE NEWS2 alert
	// of the same type would exist for the patient.
	Insert(ctx context.Context, a *ClinicalAlert) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicalAlert, error)
	// FindActive returns nil, nil when no ACTIVE alert of that type exists.
	FindActive(ctx context.Context, patientID string, alertType Type) (*ClinicalAlert, error)
	UpdateStatus(ctx context.Context, a *ClinicalAlert) error
	List(ctx context.Context, q Query) ([]*ClinicalAlert, int, error)
	Stats(ctx context.Context) (*Stats, error)
	PatientAlertCounts(ctx context.Context, patientIDs []string) ([]PatientAlertCount, error)
}

// PatientDirectory resolves patient display names in one batch.
type PatientDirectory interface {
	DisplayNames(ctx context.Context, patientIDs []string) (map[string]string, error)
}

// AppointmentDirectory answers which patients a doctor has seen.
type AppointmentDirectory interface {
	PatientIDsForDoctor(ctx context.Context, doctorID string) ([]string, error)
}
