package news2

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/cdsengine/internal/domain/alert"
	"github.com/ehr/cdsengine/internal/platform/apperr"
	"github.com/ehr/cdsengine/internal/platform/auth"
)

// Source is recorded on every alert raised from a NEWS2 score.
const Source = "news2"

var scoreRoles = []auth.Role{auth.RoleDoctor, auth.RoleNurse, auth.RoleAdmin}

// AlertCreator is the part of the alert lifecycle the scorer needs.
type AlertCreator interface {
	Create(ctx context.Context, actor auth.Actor, in alert.NewAlert) (*alert.ClinicalAlert, error)
}

type Service struct {
	vitals VitalsRepository
	alerts AlertCreator
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(vitals VitalsRepository, alerts AlertCreator, logger zerolog.Logger) *Service {
	return &Service{
		vitals: vitals,
		alerts: alerts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// PatientScore scores the patient's most recent vitals. A HIGH result raises
// NEWS2_CRITICAL and a MEDIUM result raises NEWS2_HIGH; the alert service
// replaces any earlier active alert of the same type.
func (s *Service) PatientScore(ctx context.Context, actor auth.Actor, patientID string) (*Result, error) {
	if err := actor.Require(scoreRoles...); err != nil {
		return nil, err
	}
	if strings.TrimSpace(patientID) == "" {
		return nil, apperr.InvalidInput("patient id is required")
	}

	v, err := s.vitals.Latest(ctx, patientID)
	if err != nil {
		return nil, err
	}
	res := Compute(v, s.now())

	if in, ok := alertFor(patientID, res); ok {
		if _, err := s.alerts.Create(ctx, actor, in); err != nil {
			return nil, err
		}
		s.logger.Info().Str("patient_id", patientID).Int("score", *res.TotalScore).
			Str("risk_level", string(res.RiskLevel)).Msg("news2 alert raised")
	}
	return &res, nil
}

// alertFor returns the alert a result warrants, if any.
func alertFor(patientID string, res Result) (alert.NewAlert, bool) {
	var typ alert.Type
	var sev alert.Severity
	var title string
	switch res.RiskLevel {
	case RiskHigh:
		typ, sev, title = alert.TypeNews2Critical, alert.SeverityCritical, "NEWS2 Critical Risk (Score %d)"
	case RiskMedium:
		typ, sev, title = alert.TypeNews2High, alert.SeverityWarning, "NEWS2 Elevated Risk (Score %d)"
	default:
		return alert.NewAlert{}, false
	}
	score := *res.TotalScore
	trigger := strconv.Itoa(score)
	return alert.NewAlert{
		PatientID:    patientID,
		AlertType:    typ,
		Severity:     sev,
		Title:        fmt.Sprintf(title, score),
		Description:  fmt.Sprintf("Patient NEWS2 score is %d. %s", score, res.Recommendation),
		Source:       Source,
		TriggerValue: &trigger,
	}, true
}
