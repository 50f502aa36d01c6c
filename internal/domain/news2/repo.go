package news2

import "context"

// VitalsRepository reads vitals recorded by the nursing workflow.
type VitalsRepository interface {
	// Latest returns nil, nil when the patient has no vitals on record.
	Latest(ctx context.Context, patientID string) (*Vitals, error)
}
