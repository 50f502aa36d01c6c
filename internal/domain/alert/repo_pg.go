package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cdsengine/internal/platform/apperr"
	"github.com/ehr/cdsengine/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Clinical Alert Repository ===========

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &alertRepoPG{pool: pool} }

func (r *alertRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const alertCols = `id, patient_id, alert_type, severity, title, description, source, trigger_value,
	status, created_at, acknowledged_by, acknowledged_at, dismissed_by, dismissed_at, dismiss_reason`

func (r *alertRepoPG) scanAlert(row pgx.Row) (*ClinicalAlert, error) {
	var a ClinicalAlert
	var description *string
	err := row.Scan(&a.ID, &a.PatientID, &a.AlertType, &a.Severity, &a.Title, &description, &a.Source, &a.TriggerValue,
		&a.Status, &a.CreatedAt, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.DismissedBy, &a.DismissedAt, &a.DismissReason)
	if err != nil {
		return nil, err
	}
	if description != nil {
		a.Description = *description
	}
	return &a, nil
}

func (r *alertRepoPG) Insert(ctx context.Context, a *ClinicalAlert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_alert (id, patient_id, alert_type, severity, title, description, source,
			trigger_value, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.PatientID, a.AlertType, a.Severity, a.Title, a.Description, a.Source,
		a.TriggerValue, a.Status, a.CreatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("an active alert of this type already exists for the patient", err)
	}
	if err != nil {
		return fmt.Errorf("insert clinical alert: %w", err)
	}
	return nil
}

func (r *alertRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClinicalAlert, error) {
	a, err := r.scanAlert(r.conn(ctx).QueryRow(ctx, `SELECT `+alertCols+` FROM clinical_alert WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(fmt.Sprintf("alert %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get clinical alert: %w", err)
	}
	return a, nil
}

func (r *alertRepoPG) FindActive(ctx context.Context, patientID string, alertType Type) (*ClinicalAlert, error) {
	a, err := r.scanAlert(r.conn(ctx).QueryRow(ctx, `SELECT `+alertCols+` FROM clinical_alert
		WHERE patient_id = $1 AND alert_type = $2 AND status = 'ACTIVE'
		ORDER BY created_at DESC LIMIT 1
		FOR UPDATE`, patientID, alertType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active clinical alert: %w", err)
	}
	return a, nil
}

func (r *alertRepoPG) UpdateStatus(ctx context.Context, a *ClinicalAlert) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinical_alert SET status=$2, acknowledged_by=$3, acknowledged_at=$4,
			dismissed_by=$5, dismissed_at=$6, dismiss_reason=$7
		WHERE id = $1`,
		a.ID, a.Status, a.AcknowledgedBy, a.AcknowledgedAt, a.DismissedBy, a.DismissedAt, a.DismissReason)
	if err != nil {
		return fmt.Errorf("update clinical alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(fmt.Sprintf("alert %s not found", a.ID))
	}
	return nil
}

func (r *alertRepoPG) List(ctx context.Context, q Query) ([]*ClinicalAlert, int, error) {
	var where []string
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if q.PatientID != "" {
		add("patient_id = $%d", q.PatientID)
	}
	if q.Scoped {
		add("patient_id = ANY($%d)", q.PatientIDs)
	}
	if q.Status != "" {
		add("status = $%d", q.Status)
	}
	if q.Severity != "" {
		add("severity = $%d", q.Severity)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clinical_alert`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count clinical alerts: %w", err)
	}

	args = append(args, q.Limit, q.Offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT `+alertCols+` FROM clinical_alert%s
		ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list clinical alerts: %w", err)
	}
	defer rows.Close()

	var items []*ClinicalAlert
	for rows.Next() {
		a, err := r.scanAlert(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan clinical alert: %w", err)
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *alertRepoPG) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ActiveBySeverity: make(map[string]int),
		ActiveByType:     make(map[string]int),
	}

	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'ACTIVE'),
			COUNT(*) FILTER (WHERE status = 'ACKNOWLEDGED'),
			COUNT(*) FILTER (WHERE status = 'DISMISSED'),
			COUNT(DISTINCT patient_id) FILTER (WHERE status = 'ACTIVE' AND severity = 'CRITICAL'),
			COUNT(DISTINCT patient_id) FILTER (WHERE status = 'ACTIVE' AND alert_type = 'NEWS2_CRITICAL')
		FROM clinical_alert`).Scan(&st.TotalActive, &st.AcknowledgedCount, &st.DismissedCount,
		&st.PatientsWithCritical, &st.PatientsWithNews2Critical)
	if err != nil {
		return nil, fmt.Errorf("alert status counts: %w", err)
	}

	if err := r.countGrouped(ctx, "severity", st.ActiveBySeverity); err != nil {
		return nil, err
	}
	if err := r.countGrouped(ctx, "alert_type", st.ActiveByType); err != nil {
		return nil, err
	}
	return st, nil
}

// countGrouped fills into with ACTIVE alert counts grouped by column, which must be a trusted identifier.
func (r *alertRepoPG) countGrouped(ctx context.Context, column string, into map[string]int) error {
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT %[1]s, COUNT(*) FROM clinical_alert
		WHERE status = 'ACTIVE' GROUP BY %[1]s`, column))
	if err != nil {
		return fmt.Errorf("count active alerts by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan active alerts by %s: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

func (r *alertRepoPG) PatientAlertCounts(ctx context.Context, patientIDs []string) ([]PatientAlertCount, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT patient_id,
			COUNT(*) FILTER (WHERE severity = 'CRITICAL'),
			COUNT(*) FILTER (WHERE severity = 'WARNING')
		FROM clinical_alert
		WHERE status = 'ACTIVE' AND ($1::text[] IS NULL OR patient_id = ANY($1))
		GROUP BY patient_id
		ORDER BY 2 DESC, 3 DESC, patient_id`, patientIDs)
	if err != nil {
		return nil, fmt.Errorf("patient alert counts: %w", err)
	}
	defer rows.Close()

	var out []PatientAlertCount
	for rows.Next() {
		var c PatientAlertCount
		if err := rows.Scan(&c.PatientID, &c.Critical, &c.Warning); err != nil {
			return nil, fmt.Errorf("scan patient alert count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =========== Patient Directory ===========

type patientDirectoryPG struct{ pool *pgxpool.Pool }

func NewPatientDirectoryPG(pool *pgxpool.Pool) PatientDirectory {
	return &patientDirectoryPG{pool: pool}
}

func (d *patientDirectoryPG) DisplayNames(ctx context.Context, patientIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(patientIDs))
	if len(patientIDs) == 0 {
		return names, nil
	}
	rows, err := d.pool.Query(ctx, `SELECT id, first_name || ' ' || last_name FROM patient WHERE id = ANY($1)`, patientIDs)
	if err != nil {
		return nil, fmt.Errorf("patient display names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan patient display name: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}

// =========== Appointment Directory ===========

type appointmentDirectoryPG struct{ pool *pgxpool.Pool }

func NewAppointmentDirectoryPG(pool *pgxpool.Pool) AppointmentDirectory {
	return &appointmentDirectoryPG{pool: pool}
}

func (d *appointmentDirectoryPG) PatientIDsForDoctor(ctx context.Context, doctorID string) ([]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT DISTINCT patient_id FROM appointment WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("doctor patient ids: %w", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan doctor patient id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
