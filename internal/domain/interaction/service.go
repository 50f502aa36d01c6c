package interaction

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ehr/cdsengine/internal/domain/alert"
	"github.com/ehr/cdsengine/internal/platform/apperr"
	"github.com/ehr/cdsengine/internal/platform/audit"
	"github.com/ehr/cdsengine/internal/platform/auth"
	"github.com/ehr/cdsengine/internal/platform/db"
)

// Source is recorded on every alert raised by the checker.
const Source = "interaction-checker"

// MaxDrugNameLength keeps "Drug Safety Alert: <drug>" within the alert title limit.
const MaxDrugNameLength = 200

var (
	checkRoles = []auth.Role{auth.RoleDoctor, auth.RoleAdmin}
	readRoles  = []auth.Role{auth.RoleDoctor, auth.RoleNurse, auth.RoleAdmin}
)

// AlertCreator is the part of the alert lifecycle the checker needs.
type AlertCreator interface {
	Create(ctx context.Context, actor auth.Actor, in alert.NewAlert) (*alert.ClinicalAlert, error)
}

type Service struct {
	kb          *KnowledgeBase
	medications MedicationRepository
	allergies   AllergyRepository
	alerts      AlertCreator
	audit       audit.Sink
	tx          db.Transactor
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(kb *KnowledgeBase, medications MedicationRepository, allergies AllergyRepository,
	alerts AlertCreator, sink audit.Sink, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		kb:          kb,
		medications: medications,
		allergies:   allergies,
		alerts:      alerts,
		audit:       sink,
		tx:          tx,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CheckInteraction checks drug against the patient's active medications and
// allergies. Any alert-worthy finding raises exactly one CRITICAL alert; an
// allergy match takes precedence over a drug interaction. The audit entry and
// the alert commit together or not at all.
func (s *Service) CheckInteraction(ctx context.Context, actor auth.Actor, patientID, drug string) (*CheckResult, error) {
	if err := actor.Require(checkRoles...); err != nil {
		return nil, err
	}
	drug = strings.TrimSpace(drug)
	if drug == "" {
		return nil, apperr.InvalidInput("drug_name is required")
	}
	if utf8.RuneCountInString(drug) > MaxDrugNameLength {
		return nil, apperr.InvalidInput(fmt.Sprintf("drug_name exceeds %d characters", MaxDrugNameLength))
	}
	if strings.TrimSpace(patientID) == "" {
		return nil, apperr.InvalidInput("patient id is required")
	}

	meds, err := s.medications.ActiveForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	allergies, err := s.allergies.ActiveForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	res := &CheckResult{
		DrugName:                 drug,
		Interactions:             []Record{},
		AllergyContraindications: []string{},
		CheckedAt:                s.now(),
	}
	alertWorthy := 0
	for _, m := range meds {
		if r, ok := s.kb.Find(drug, m.DrugName); ok {
			res.Interactions = append(res.Interactions, r)
			if r.Severity.TriggersAlert() {
				alertWorthy++
			}
		}
	}
	for _, a := range allergies {
		if AllergyMatches(drug, a.Substance) {
			res.AllergyContraindications = append(res.AllergyContraindications,
				fmt.Sprintf("Allergy to %s (cross-reaction with %s)", a.Substance, drug))
		}
	}
	res.Safe = len(res.Interactions) == 0 && len(res.AllergyContraindications) == 0

	var raised alert.Type
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		err := s.audit.Record(ctx, &audit.Entry{
			Actor:      actor.Name(),
			ActorRole:  string(actor.Role),
			Action:     audit.ActionDrugInteractionCheck,
			EntityType: "PATIENT",
			EntityID:   patientID,
			PatientID:  patientID,
			Detail:     "drug=" + drug + " safe=" + strconv.FormatBool(res.Safe),
		})
		if err != nil {
			return apperr.Internal("record interaction check", err)
		}
		if alertWorthy == 0 && len(res.AllergyContraindications) == 0 {
			return nil
		}

		raised = alert.TypeDrugInteraction
		if len(res.AllergyContraindications) > 0 {
			raised = alert.TypeAllergyContraindication
		}
		trigger := drug
		_, err = s.alerts.Create(ctx, actor, alert.NewAlert{
			PatientID:    patientID,
			AlertType:    raised,
			Severity:     alert.SeverityCritical,
			Title:        "Drug Safety Alert: " + drug,
			Description:  describe(drug, alertWorthy, len(res.AllergyContraindications)),
			Source:       Source,
			TriggerValue: &trigger,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if raised != "" {
		s.logger.Info().Str("patient_id", patientID).Str("drug", drug).Str("alert_type", string(raised)).
			Msg("drug safety alert raised")
	}
	return res, nil
}

func describe(drug string, interactions, allergies int) string {
	parts := []string{"Drug safety check for " + drug + ":"}
	if interactions > 0 {
		parts = append(parts, fmt.Sprintf("%d major/contraindicated interaction(s) detected.", interactions))
	}
	if allergies > 0 {
		parts = append(parts, fmt.Sprintf("%d allergy contraindication(s) detected.", allergies))
	}
	return strings.Join(parts, " ")
}

// InteractionSummary cross-checks every pair of the patient's active
// medications and every medication against active allergies. It raises no alerts.
func (s *Service) InteractionSummary(ctx context.Context, actor auth.Actor, patientID string) (*SummaryResult, error) {
	if err := actor.Require(readRoles...); err != nil {
		return nil, err
	}
	if strings.TrimSpace(patientID) == "" {
		return nil, apperr.InvalidInput("patient id is required")
	}

	meds, err := s.medications.ActiveForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	allergies, err := s.allergies.ActiveForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	res := &SummaryResult{
		PatientID:                patientID,
		Interactions:             []Record{},
		AllergyContraindications: []string{},
		CheckedAt:                s.now(),
	}
	seen := make(map[pairKey]bool)
	alertWorthy := false
	for i := 0; i < len(meds); i++ {
		for j := i + 1; j < len(meds); j++ {
			r, ok := s.kb.Find(meds[i].DrugName, meds[j].DrugName)
			if !ok {
				continue
			}
			k := newPairKey(r.DrugA, r.DrugB)
			if seen[k] {
				continue
			}
			seen[k] = true
			res.Interactions = append(res.Interactions, r)
			if r.Severity.TriggersAlert() {
				alertWorthy = true
			}
		}
	}
	for _, m := range meds {
		for _, a := range allergies {
			if AllergyMatches(m.DrugName, a.Substance) {
				res.AllergyContraindications = append(res.AllergyContraindications,
					fmt.Sprintf("Patient allergic to %s: cross-reaction risk with %s", a.Substance, m.DrugName))
			}
		}
	}
	res.Safe = !alertWorthy && len(res.AllergyContraindications) == 0
	return res, nil
}

// Lookup returns knowledge base entries for drug, or for the single pair when
// other is set.
func (s *Service) Lookup(actor auth.Actor, drug, other string) ([]Record, error) {
	if err := actor.Require(readRoles...); err != nil {
		return nil, err
	}
	if strings.TrimSpace(drug) == "" {
		return nil, apperr.InvalidInput("drug is required")
	}
	if strings.TrimSpace(other) != "" {
		if r, ok := s.kb.Find(drug, other); ok {
			return []Record{r}, nil
		}
		return []Record{}, nil
	}
	out := s.kb.FindFor(drug)
	if out == nil {
		out = []Record{}
	}
	return out, nil
}
