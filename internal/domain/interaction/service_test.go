package interaction

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/cdsengine/internal/domain/alert"
	"github.com/ehr/cdsengine/internal/platform/apperr"
	"github.com/ehr/cdsengine/internal/platform/audit"
	"github.com/ehr/cdsengine/internal/platform/auth"
	"github.com/ehr/cdsengine/internal/platform/db"
)

// -- Mocks --

type mockMedications struct {
	byPatient map[string][]Medication
	calls     int
}

func (m *mockMedications) ActiveForPatient(_ context.Context, patientID string) ([]Medication, error) {
	m.calls++
	return m.byPatient[patientID], nil
}

type mockAllergies struct {
	byPatient map[string][]Allergy
}

func (m *mockAllergies) ActiveForPatient(_ context.Context, patientID string) ([]Allergy, error) {
	return m.byPatient[patientID], nil
}

type mockAlerts struct {
	created []alert.NewAlert
	inTx    bool
	err     error
}

func (m *mockAlerts) Create(ctx context.Context, _ auth.Actor, in alert.NewAlert) (*alert.ClinicalAlert, error) {
	m.inTx = db.InTx(ctx)
	if m.err != nil {
		return nil, m.err
	}
	m.created = append(m.created, in)
	return &alert.ClinicalAlert{ID: uuid.New(), PatientID: in.PatientID, AlertType: in.AlertType, Status: alert.StatusActive}, nil
}

type mockSink struct {
	entries []*audit.Entry
	err     error
}

// Record keeps an entry only once the surrounding transaction commits.
func (s *mockSink) Record(ctx context.Context, e *audit.Entry) error {
	if s.err != nil {
		return s.err
	}
	db.AfterCommit(ctx, func() { s.entries = append(s.entries, e) })
	return nil
}

type fixture struct {
	svc    *Service
	meds   *mockMedications
	alerts *mockAlerts
	sink   *mockSink
}

func newFixture(meds map[string][]Medication, allergies map[string][]Allergy) *fixture {
	f := &fixture{
		meds:   &mockMedications{byPatient: meds},
		alerts: &mockAlerts{},
		sink:   &mockSink{},
	}
	f.svc = NewService(NewKnowledgeBase(), f.meds, &mockAllergies{byPatient: allergies}, f.alerts, f.sink, db.NopTransactor{}, zerolog.Nop())
	f.svc.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	return f
}

func meds(patientID string, names ...string) []Medication {
	out := make([]Medication, len(names))
	for i, n := range names {
		out[i] = Medication{ID: uuid.NewString(), PatientID: patientID, DrugName: n}
	}
	return out
}

func allergies(patientID string, substances ...string) []Allergy {
	out := make([]Allergy, len(substances))
	for i, s := range substances {
		out[i] = Allergy{ID: uuid.NewString(), PatientID: patientID, Substance: s}
	}
	return out
}

var (
	doctor = auth.Actor{UserID: "doc-1", Username: "dr.mensah", Role: auth.RoleDoctor}
	nurse  = auth.Actor{UserID: "nurse-1", Username: "n.adjei", Role: auth.RoleNurse}
)

// -- CheckInteraction --

func TestCheckInteraction_MajorRaisesDrugInteractionAlert(t *testing.T) {
	f := newFixture(map[string][]Medication{"P-000001": meds("P-000001", "Warfarin", "Metformin")}, nil)

	res, err := f.svc.CheckInteraction(context.Background(), doctor, "P-000001", "Aspirin")
	if err != nil {
		t.Fatalf("CheckInteraction: %v", err)
	}
	if res.Safe {
		t.Error("expected unsafe verdict")
	}
	if len(res.Interactions) != 1 || res.Interactions[0].Severity != SeverityMajor {
		t.Fatalf("expected one MAJOR interaction, got %+v", res.Interactions)
	}
	if len(f.alerts.created) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(f.alerts.created))
	}
	a := f.alerts.created[0]
	if a.AlertType != alert.TypeDrugInteraction || a.Severity != alert.SeverityCritical {
		t.Errorf("expected DRUG_INTERACTION/CRITICAL, got %s/%s", a.AlertType, a.Severity)
	}
	if a.Title != "Drug Safety Alert: Aspirin" || a.Source != "interaction-checker" {
		t.Errorf("unexpected title/source: %q %q", a.Title, a.Source)
	}
	if a.TriggerValue == nil || *a.TriggerValue != "Aspirin" {
		t.Errorf("expected trigger value Aspirin, got %v", a.TriggerValue)
	}
	if !strings.Contains(a.Description, "1 major/contraindicated interaction(s) detected.") {
		t.Errorf("unexpected description %q", a.Description)
	}
}

func TestCheckInteraction_AlertFailureRollsBackAudit(t *testing.T) {
	f := newFixture(map[string][]Medication{"P-000001": meds("P-000001", "Warfarin")}, nil)
	f.alerts.err = apperr.Internal("insert alert", errors.New("db down"))

	_, err := f.svc.CheckInteraction(context.Background(), doctor, "P-000001", "Aspirin")
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected INTERNAL, got %v", err)
	}
	if !f.alerts.inTx {
		t.Error("alert must be created inside the audit transaction")
	}
	if len(f.sink.entries) != 0 {
		t.Errorf("expected no audit entry after rollback, got %d", len(f.sink.entries))
	}
}

func TestCheckInteraction_DrugNameTooLong(t *testing.T) {
	f := newFixture(nil, nil)
	drug := strings.Repeat("a", MaxDrugNameLength+1)

	_, err := f.svc.CheckInteraction(context.Background(), doctor, "P-000001", drug)
	if !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
	if f.meds.calls != 0 || len(f.sink.entries) != 0 {
		t.Error("oversized drug name must be rejected before any lookup")
	}

	res, err := f.svc.CheckInteraction(context.Background(), doctor, "P-000001", drug[:MaxDrugNameLength])
	if err != nil || !res.Safe {
		t.Errorf("expected the longest allowed name to be checked, got %v, %v", res, err)
	}
}

func TestCheckInteraction_ModerateIsUnsafeWithoutAlert(t *testing.T) {
	f := newFixture(map[string][]Medication{"P-000001": meds("P-000001", "omeprazole")}, nil)

	res, err := f.svc.CheckInteraction(context.Background(), doctor, "P-000001", "clopidogrel")
	if err != nil {
		t.Fatalf("CheckInteraction: %v", err)
	}
	if res.Safe {
		t.Error("a MODERATE interaction must make the verdict unsafe")
	}
	if len(res.Interactions) != 1 || res.Interactions[0].Severity != SeverityModerate {
		t.Errorf("expected one MODERATE interaction, got %+v", res.Interactions)
	}
	if len(f.alerts.created) != 0 {
		t.Errorf("expected no alert, got %d", len(f.alerts.created))
	}
}

func TestCheckInteraction_AllergyTakesPrecedence(t *testing.T) {
	f := newFixture(
		map[string][]Medication{"P-000001": meds("P-000001", "sertraline")},
		map[string][]Allergy{"P-000001": allergies("P-000001", "Codeine")},
	)

	res, err := f.svc.CheckInteraction(context.Background(), doctor, "P-000001", "tramadol")
	if err != nil {
		t.Fatalf("CheckInteraction: %v", err)
	}
	if len(res.Interactions) != 1 {
		t.Fatalf("expected sertraline/tramadol interaction, got %+v", res.Interactions)
	}
	if len(res.AllergyContraindications) != 1 {
		t.Fatalf("expected one allergy contraindication, got %v", res.AllergyContraindications)
	}
	if res.AllergyContraindications[0] != "Allergy to Codeine (cross-reaction with tramadol)" {
		t.Errorf("unexpected contraindication %q", res.AllergyContraindications[0])
	}
	if len(f.alerts.created) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(f.alerts.created))
	}
	if f.alerts.created[0].AlertType != alert.TypeAllergyContraindication {
		t.Errorf("expected ALLERGY_CONTRAINDICATION, got %s", f.alerts.created[0].AlertType)
	}
}

func TestCheckInteraction_DirectAllergy(t *testing.T) {
	f := newFixture(nil, map[string][]Allergy{"P-000001": allergies("P-000001", "Penicillin")})

	res, err := f.svc.CheckInteraction(context.Background(), doctor, "P-000001", "Amoxicillin")
	if err != nil {
		t.Fatalf("CheckInteraction: %v", err)
	}
	if res.Safe || len(res.AllergyContraindications) != 1 {
		t.Errorf("expected cross-class allergy match, got %+v", res)
	}
	if len(res.Interactions) != 0 {
		t.Errorf("expected no drug interactions, got %d", len(res.Interactions))
	}
	if len(f.alerts.created) != 1 || f.alerts.created[0].AlertType != alert.TypeAllergyContraindication {
		t.Errorf("expected one ALLERGY_CONTRAINDICATION alert, got %+v", f.alerts.created)
	}
}

func TestCheckInteraction_Safe(t *testing.T) {
	f := newFixture(
		map[string][]Medication{"P-000001": meds("P-000001", "metformin", "atorvastatin")},
		map[string][]Allergy{"P-000001": allergies("P-000001", "latex")},
	)

	res, err := f.svc.CheckInteraction(context.Background(), doctor, "P-000001", "paracetamol")
	if err != nil {
		t.Fatalf("CheckInteraction: %v", err)
	}
	if !res.Safe {
		t.Errorf("expected safe verdict, got %+v", res)
	}
	if res.Interactions == nil || res.AllergyContraindications == nil {
		t.Error("expected empty, non-nil result lists")
	}
	if len(f.alerts.created) != 0 {
		t.Error("expected no alert")
	}
}

func TestCheckInteraction_AuditsEveryCheck(t *testing.T) {
	f := newFixture(nil, nil)

	if _, err := f.svc.CheckInteraction(context.Background(), doctor, "P-000001", "paracetamol"); err != nil {
		t.Fatalf("CheckInteraction: %v", err)
	}
	if len(f.sink.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(f.sink.entries))
	}
	e := f.sink.entries[0]
	if e.Action != audit.ActionDrugInteractionCheck || e.PatientID != "P-000001" || e.Actor != "dr.mensah" {
		t.Errorf("unexpected audit entry: %+v", e)
	}
	if e.Detail != "drug=paracetamol safe=true" {
		t.Errorf("unexpected detail %q", e.Detail)
	}
}

func TestCheckInteraction_AuditFailureRaisesNoAlert(t *testing.T) {
	f := newFixture(map[string][]Medication{"P-000001": meds("P-000001", "warfarin")}, nil)
	f.sink.err = errors.New("audit table unavailable")

	_, err := f.svc.CheckInteraction(context.Background(), doctor, "P-000001", "aspirin")
	if !apperr.Is(err, apperr.KindInternal) {
		t.Errorf("expected INTERNAL, got %v", err)
	}
	if len(f.alerts.created) != 0 {
		t.Error("no alert may be raised when the check cannot be audited")
	}
}

func TestCheckInteraction_Forbidden(t *testing.T) {
	f := newFixture(nil, nil)

	_, err := f.svc.CheckInteraction(context.Background(), nurse, "P-000001", "aspirin")
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("expected FORBIDDEN for nurse, got %v", err)
	}
	if f.meds.calls != 0 {
		t.Error("role check must run before loading medications")
	}
}

func TestCheckInteraction_BlankDrug(t *testing.T) {
	f := newFixture(nil, nil)

	_, err := f.svc.CheckInteraction(context.Background(), doctor, "P-000001", "   ")
	if !apperr.Is(err, apperr.KindInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

// -- InteractionSummary --

func TestInteractionSummary_Pairwise(t *testing.T) {
	f := newFixture(
		map[string][]Medication{"P-000001": meds("P-000001", "warfarin", "aspirin", "methotrexate", "Warfarin")},
		nil,
	)

	res, err := f.svc.InteractionSummary(context.Background(), nurse, "P-000001")
	if err != nil {
		t.Fatalf("InteractionSummary: %v", err)
	}
	// warfarin/aspirin and aspirin/methotrexate, each reported once
	if len(res.Interactions) != 2 {
		t.Fatalf("expected 2 distinct interactions, got %d: %+v", len(res.Interactions), res.Interactions)
	}
	if res.Safe {
		t.Error("MAJOR interactions must make the summary unsafe")
	}
	if len(f.alerts.created) != 0 {
		t.Error("summary must not raise alerts")
	}
	if len(f.sink.entries) != 0 {
		t.Error("summary is read-only")
	}
}

func TestInteractionSummary_ModerateOnlyIsSafe(t *testing.T) {
	f := newFixture(map[string][]Medication{"P-000001": meds("P-000001", "clopidogrel", "omeprazole")}, nil)

	res, err := f.svc.InteractionSummary(context.Background(), doctor, "P-000001")
	if err != nil {
		t.Fatalf("InteractionSummary: %v", err)
	}
	if len(res.Interactions) != 1 {
		t.Fatalf("expected the MODERATE interaction to be reported, got %d", len(res.Interactions))
	}
	if !res.Safe {
		t.Error("a summary with only non-alerting interactions is safe")
	}
}

func TestInteractionSummary_Allergies(t *testing.T) {
	f := newFixture(
		map[string][]Medication{"P-000001": meds("P-000001", "ceftriaxone", "metformin")},
		map[string][]Allergy{"P-000001": allergies("P-000001", "Cephalosporin")},
	)

	res, err := f.svc.InteractionSummary(context.Background(), doctor, "P-000001")
	if err != nil {
		t.Fatalf("InteractionSummary: %v", err)
	}
	if len(res.AllergyContraindications) != 1 {
		t.Fatalf("expected one contraindication, got %v", res.AllergyContraindications)
	}
	want := "Patient allergic to Cephalosporin: cross-reaction risk with ceftriaxone"
	if res.AllergyContraindications[0] != want {
		t.Errorf("expected %q, got %q", want, res.AllergyContraindications[0])
	}
	if res.Safe {
		t.Error("allergy match must make the summary unsafe")
	}
}

func TestInteractionSummary_Forbidden(t *testing.T) {
	f := newFixture(nil, nil)
	receptionist := auth.Actor{UserID: "rec-1", Role: auth.RoleReceptionist}

	_, err := f.svc.InteractionSummary(context.Background(), receptionist, "P-000001")
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("expected FORBIDDEN, got %v", err)
	}
}

// -- Lookup --

func TestLookup(t *testing.T) {
	f := newFixture(nil, nil)

	all, err := f.svc.Lookup(nurse, "fluconazole", "")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 fluconazole interactions, got %d", len(all))
	}

	pair, err := f.svc.Lookup(nurse, "fluconazole", "Tacrolimus")
	if err != nil || len(pair) != 1 {
		t.Errorf("expected one pair match, got %v, %v", pair, err)
	}

	none, err := f.svc.Lookup(nurse, "paracetamol", "")
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil result, got %v, %v", none, err)
	}

	if _, err := f.svc.Lookup(nurse, "", ""); !apperr.Is(err, apperr.KindInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

// -- Handler --

func withActor(req *http.Request, userID string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), userID, userID, roles))
}

func TestHandler_Check(t *testing.T) {
	f := newFixture(map[string][]Medication{"P-000001": meds("P-000001", "warfarin")}, nil)
	h := NewHandler(f.svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"drug_name":"fluconazole"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withActor(req, "doc-1", "DOCTOR")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patientId")
	c.SetParamValues("P-000001")

	if err := h.Check(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res CheckResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Safe || res.DrugName != "fluconazole" || len(res.Interactions) != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestHandler_Check_NurseForbidden(t *testing.T) {
	f := newFixture(nil, nil)
	h := NewHandler(f.svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"drug_name":"aspirin"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withActor(req, "nurse-1", "NURSE")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("patientId")
	c.SetParamValues("P-000001")

	err := h.Check(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestHandler_Summary(t *testing.T) {
	f := newFixture(map[string][]Medication{"P-000001": meds("P-000001", "digoxin", "verapamil")}, nil)
	h := NewHandler(f.svc)
	e := echo.New()

	req := withActor(httptest.NewRequest(http.MethodGet, "/", nil), "nurse-1", "NURSE")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patientId")
	c.SetParamValues("P-000001")

	if err := h.Summary(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"patient_id":"P-000001"`) || !strings.Contains(rec.Body.String(), `"safe":false`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_Lookup(t *testing.T) {
	f := newFixture(nil, nil)
	h := NewHandler(f.svc)
	e := echo.New()

	req := withActor(httptest.NewRequest(http.MethodGet, "/?drug=lithium", nil), "doc-1", "DOCTOR")
	rec := httptest.NewRecorder()
	if err := h.Lookup(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var records []Record
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 lithium interactions, got %d", len(records))
	}
}
