package news2

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type vitalsRepoPG struct{ pool *pgxpool.Pool }

func NewVitalsRepoPG(pool *pgxpool.Pool) VitalsRepository { return &vitalsRepoPG{pool: pool} }

const vitalsCols = `id, patient_id, respiratory_rate, oxygen_saturation, systolic_bp, heart_rate,
	temperature::float8, recorded_at`

func (r *vitalsRepoPG) Latest(ctx context.Context, patientID string) (*Vitals, error) {
	var v Vitals
	err := r.pool.QueryRow(ctx, `SELECT `+vitalsCols+` FROM patient_vitals
		WHERE patient_id = $1
		ORDER BY recorded_at DESC, id DESC LIMIT 1`, patientID).
		Scan(&v.ID, &v.PatientID, &v.RespiratoryRate, &v.OxygenSaturation, &v.SystolicBP, &v.HeartRate,
			&v.Temperature, &v.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest vitals: %w", err)
	}
	return &v, nil
}
