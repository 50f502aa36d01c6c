package alert

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/cdsengine/internal/platform/apperr"
	"github.com/ehr/cdsengine/internal/platform/audit"
	"github.com/ehr/cdsengine/internal/platform/auth"
	"github.com/ehr/cdsengine/internal/platform/db"
	"github.com/ehr/cdsengine/internal/platform/events"
)

const entityType = "CLINICAL_ALERT"

// DefaultChannel is the pub/sub channel alert events are published on.
const DefaultChannel = "clinical-alerts"

// MaxTextLength bounds title and trigger_value, matching their VARCHAR(255) columns.
const MaxTextLength = 255

var (
	actionRoles = []auth.Role{auth.RoleDoctor, auth.RoleNurse, auth.RoleAdmin}
	statsRoles  = []auth.Role{auth.RoleDoctor, auth.RoleAdmin}
)

type Service struct {
	repo         Repository
	tx           db.Transactor
	patients     PatientDirectory
	appointments AppointmentDirectory
	audit        audit.Sink
	bus          events.Bus
	channel      string
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(repo Repository, tx db.Transactor, patients PatientDirectory, appointments AppointmentDirectory,
	sink audit.Sink, bus events.Bus, channel string, logger zerolog.Logger) *Service {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Service{
		repo:         repo,
		tx:           tx,
		patients:     patients,
		appointments: appointments,
		audit:        sink,
		bus:          bus,
		channel:      channel,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func validateNew(in NewAlert) error {
	if strings.TrimSpace(in.PatientID) == "" {
		return apperr.InvalidInput("patient_id is required")
	}
	if _, ok := knownTypes[in.AlertType]; !ok {
		return apperr.InvalidInput(fmt.Sprintf("unknown alert type %q", in.AlertType))
	}
	if in.Severity != SeverityWarning && in.Severity != SeverityCritical {
		return apperr.InvalidInput(fmt.Sprintf("unknown severity %q", in.Severity))
	}
	if strings.TrimSpace(in.Title) == "" {
		return apperr.InvalidInput("title is required")
	}
	if strings.TrimSpace(in.Source) == "" {
		return apperr.InvalidInput("source is required")
	}
	if utf8.RuneCountInString(in.Title) > MaxTextLength {
		return apperr.InvalidInput(fmt.Sprintf("title exceeds %d characters", MaxTextLength))
	}
	if in.TriggerValue != nil && utf8.RuneCountInString(*in.TriggerValue) > MaxTextLength {
		return apperr.InvalidInput(fmt.Sprintf("trigger value exceeds %d characters", MaxTextLength))
	}
	return nil
}

// Create persists a new ACTIVE alert. For NEWS2 types any ACTIVE alert of the
// same type for the patient is dismissed first, in the same transaction. A
// concurrent writer that wins the unique index causes one retry, unless the
// caller owns the transaction: a unique violation aborts it, so the conflict
// is returned instead.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in NewAlert) (*ClinicalAlert, error) {
	if err := validateNew(in); err != nil {
		return nil, err
	}

	var created, superseded *ClinicalAlert
	attempt := func() error {
		created, superseded = nil, nil
		return s.tx.WithTx(ctx, func(ctx context.Context) error {
			now := s.now()
			if IsNews2(in.AlertType) {
				prev, err := s.repo.FindActive(ctx, in.PatientID, in.AlertType)
				if err != nil {
					return err
				}
				if prev != nil {
					by, reason := actor.Name(), SupersededReason
					prev.Status = StatusDismissed
					prev.DismissedBy = &by
					prev.DismissedAt = &now
					prev.DismissReason = &reason
					if err := s.repo.UpdateStatus(ctx, prev); err != nil {
						return err
					}
					if err := s.record(ctx, actor, audit.ActionDismiss, prev, reason); err != nil {
						return err
					}
					superseded = prev
				}
			}

			a := &ClinicalAlert{
				ID:           uuid.New(),
				PatientID:    in.PatientID,
				AlertType:    in.AlertType,
				Severity:     in.Severity,
				Title:        in.Title,
				Description:  in.Description,
				Source:       in.Source,
				TriggerValue: in.TriggerValue,
				Status:       StatusActive,
				CreatedAt:    now,
			}
			if err := s.repo.Insert(ctx, a); err != nil {
				return err
			}
			if err := s.record(ctx, actor, audit.ActionCreate, a, a.Title); err != nil {
				return err
			}
			created = a
			return nil
		})
	}

	err := attempt()
	if apperr.Is(err, apperr.KindConflict) && !db.InTx(ctx) {
		s.logger.Warn().Str("patient_id", in.PatientID).Str("alert_type", string(in.AlertType)).
			Msg("concurrent alert write, retrying")
		err = attempt()
	}
	if err != nil {
		return nil, err
	}

	if superseded != nil {
		s.publish(ctx, EventDismissed, superseded, actor)
		s.logger.Info().Str("alert_id", superseded.ID.String()).Str("patient_id", in.PatientID).
			Str("alert_type", string(in.AlertType)).Msg("superseded active alert")
	}
	s.publish(ctx, EventCreated, created, actor)
	return created, nil
}

func (s *Service) Acknowledge(ctx context.Context, actor auth.Actor, id uuid.UUID) (*ClinicalAlert, error) {
	if err := actor.Require(actionRoles...); err != nil {
		return nil, err
	}
	return s.transition(ctx, actor, id, EventAcknowledged, func(a *ClinicalAlert, now time.Time) (string, string) {
		by := actor.Name()
		a.Status = StatusAcknowledged
		a.AcknowledgedBy = &by
		a.AcknowledgedAt = &now
		return audit.ActionAcknowledge, ""
	})
}

func (s *Service) Dismiss(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*ClinicalAlert, error) {
	if err := actor.Require(actionRoles...); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.InvalidInput("dismiss reason is required")
	}
	return s.transition(ctx, actor, id, EventDismissed, func(a *ClinicalAlert, now time.Time) (string, string) {
		by := actor.Name()
		a.Status = StatusDismissed
		a.DismissedBy = &by
		a.DismissedAt = &now
		a.DismissReason = &reason
		return audit.ActionDismiss, reason
	})
}

// transition moves an ACTIVE alert to a terminal status.
func (s *Service) transition(ctx context.Context, actor auth.Actor, id uuid.UUID, event string,
	apply func(a *ClinicalAlert, now time.Time) (action, detail string)) (*ClinicalAlert, error) {
	var out *ClinicalAlert
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusActive {
			return apperr.InvalidInput(fmt.Sprintf("alert is already %s", a.Status))
		}
		action, detail := apply(a, s.now())
		if err := s.repo.UpdateStatus(ctx, a); err != nil {
			return err
		}
		if err := s.record(ctx, actor, action, a, detail); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, event, out, actor)
	// the transition is committed; a directory outage only costs the name
	if err := s.enrich(ctx, []*ClinicalAlert{out}); err != nil {
		s.logger.Warn().Err(err).Str("alert_id", out.ID.String()).Msg("patient name lookup failed")
	}
	return out, nil
}

// PatientAlerts returns one patient's alerts, newest first.
func (s *Service) PatientAlerts(ctx context.Context, actor auth.Actor, patientID string, f Filter, limit, offset int) ([]*ClinicalAlert, int, error) {
	if err := actor.Require(actionRoles...); err != nil {
		return nil, 0, err
	}
	if strings.TrimSpace(patientID) == "" {
		return nil, 0, apperr.InvalidInput("patient id is required")
	}
	items, total, err := s.repo.List(ctx, Query{Filter: f, PatientID: patientID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, 0, err
	}
	if err := s.enrich(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// GlobalAlerts returns alerts across patients. Doctors only see patients from their own appointments.
func (s *Service) GlobalAlerts(ctx context.Context, actor auth.Actor, f Filter, limit, offset int) ([]*ClinicalAlert, int, error) {
	if err := actor.Require(actionRoles...); err != nil {
		return nil, 0, err
	}
	q := Query{Filter: f, Limit: limit, Offset: offset}
	if actor.Role == auth.RoleDoctor {
		ids, err := s.appointments.PatientIDsForDoctor(ctx, actor.UserID)
		if err != nil {
			return nil, 0, err
		}
		if len(ids) == 0 {
			return []*ClinicalAlert{}, 0, nil
		}
		q.Scoped = true
		q.PatientIDs = ids
	}
	items, total, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	if err := s.enrich(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Service) Stats(ctx context.Context, actor auth.Actor) (*Stats, error) {
	if err := actor.Require(statsRoles...); err != nil {
		return nil, err
	}
	return s.repo.Stats(ctx)
}

// PatientAlertCounts tallies ACTIVE alerts per patient, scoped like GlobalAlerts.
func (s *Service) PatientAlertCounts(ctx context.Context, actor auth.Actor) ([]PatientAlertCount, error) {
	if err := actor.Require(actionRoles...); err != nil {
		return nil, err
	}
	var scope []string
	if actor.Role == auth.RoleDoctor {
		ids, err := s.appointments.PatientIDsForDoctor(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return []PatientAlertCount{}, nil
		}
		scope = ids
	}
	counts, err := s.repo.PatientAlertCounts(ctx, scope)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(counts))
	for i, c := range counts {
		ids[i] = c.PatientID
	}
	names, err := s.patients.DisplayNames(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range counts {
		counts[i].PatientName = names[counts[i].PatientID]
	}
	return counts, nil
}

// RaiseForLabResult raises LAB_CRITICAL or LAB_ABNORMAL for a flagged lab value.
// It returns nil without error for interpretations that need no alert.
func (s *Service) RaiseForLabResult(ctx context.Context, actor auth.Actor, r LabResult) (*ClinicalAlert, error) {
	if err := actor.Require(actionRoles...); err != nil {
		return nil, err
	}
	var typ Type
	var sev Severity
	var title string
	switch r.Interpretation {
	case LabCriticalLow, LabCriticalHigh:
		typ, sev, title = TypeLabCritical, SeverityCritical, "Critical Lab Result: "+r.TestName
	case LabLow, LabHigh:
		typ, sev, title = TypeLabAbnormal, SeverityWarning, "Abnormal Lab Result: "+r.TestName
	default:
		return nil, nil
	}

	value := strings.TrimSpace(r.Value + " " + r.Unit)
	trigger := r.Value
	return s.Create(ctx, actor, NewAlert{
		PatientID:    r.PatientID,
		AlertType:    typ,
		Severity:     sev,
		Title:        title,
		Description:  fmt.Sprintf("Result value %s, interpretation %s", value, r.Interpretation),
		Source:       "lab-results",
		TriggerValue: &trigger,
	})
}

// enrich fills PatientName with one directory lookup for the whole page.
func (s *Service) enrich(ctx context.Context, items []*ClinicalAlert) error {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, a := range items {
		if !seen[a.PatientID] {
			seen[a.PatientID] = true
			ids = append(ids, a.PatientID)
		}
	}
	names, err := s.patients.DisplayNames(ctx, ids)
	if err != nil {
		return err
	}
	for _, a := range items {
		a.PatientName = names[a.PatientID]
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor auth.Actor, action string, a *ClinicalAlert, detail string) error {
	return s.audit.Record(ctx, &audit.Entry{
		Actor:      actor.Name(),
		ActorRole:  string(actor.Role),
		Action:     action,
		EntityType: entityType,
		EntityID:   a.ID.String(),
		PatientID:  a.PatientID,
		Detail:     detail,
	})
}

// publish is best effort; the state change is already committed.
// publish announces a change once it is durable. Inside a caller's
// transaction the event waits for that transaction to commit.
func (s *Service) publish(ctx context.Context, typ string, a *ClinicalAlert, actor auth.Actor) {
	evt := Event{
		Type:       typ,
		AlertID:    a.ID,
		PatientID:  a.PatientID,
		AlertType:  a.AlertType,
		Severity:   a.Severity,
		Status:     a.Status,
		Actor:      actor.Name(),
		OccurredAt: s.now(),
	}
	db.AfterCommit(ctx, func() {
		if err := s.bus.Publish(context.WithoutCancel(ctx), s.channel, evt); err != nil {
			s.logger.Error().Err(err).Str("alert_id", evt.AlertID.String()).Str("event", typ).Msg("failed to publish alert event")
		}
	})
}
