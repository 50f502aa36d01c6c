package interaction

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// =========== Medication Repository ===========

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pool: pool}
}

func (r *medicationRepoPG) ActiveForPatient(ctx context.Context, patientID string) ([]Medication, error) {
	rows, err := r.pool.Query(ctx, `SELECT id::text, patient_id, drug_name FROM patient_medication
		WHERE patient_id = $1 AND active ORDER BY drug_name, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("active medications: %w", err)
	}
	defer rows.Close()
	var out []Medication
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.ID, &m.PatientID, &m.DrugName); err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// =========== Allergy Repository ===========

type allergyRepoPG struct{ pool *pgxpool.Pool }

func NewAllergyRepoPG(pool *pgxpool.Pool) AllergyRepository {
	return &allergyRepoPG{pool: pool}
}

func (r *allergyRepoPG) ActiveForPatient(ctx context.Context, patientID string) ([]Allergy, error) {
	rows, err := r.pool.Query(ctx, `SELECT id::text, patient_id, substance FROM patient_allergy
		WHERE patient_id = $1 AND active ORDER BY substance, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("active allergies: %w", err)
	}
	defer rows.Close()
	var out []Allergy
	for rows.Next() {
		var a Allergy
		if err := rows.Scan(&a.ID, &a.PatientID, &a.Substance); err != nil {
			return nil, fmt.Errorf("scan allergy: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
