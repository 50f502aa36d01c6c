package news2

import "time"

// Vitals is one recorded observation set. Missing measurements are nil.
type Vitals struct {
	ID               int64     `db:"id" json:"id"`
	PatientID        string    `db:"patient_id" json:"patient_id"`
	RespiratoryRate  *int      `db:"respiratory_rate" json:"respiratory_rate,omitempty"`
	OxygenSaturation *int      `db:"oxygen_saturation" json:"oxygen_saturation,omitempty"`
	SystolicBP       *int      `db:"systolic_bp" json:"systolic_bp,omitempty"`
	HeartRate        *int      `db:"heart_rate" json:"heart_rate,omitempty"`
	Temperature      *float64  `db:"temperature" json:"temperature,omitempty"`
	RecordedAt       time.Time `db:"recorded_at" json:"recorded_at"`
}

type Parameter string

const (
	ParamRespiratoryRate Parameter = "RESPIRATORY_RATE"
	ParamSpO2            Parameter = "SPO2"
	ParamSystolicBP      Parameter = "SYSTOLIC_BP"
	ParamHeartRate       Parameter = "HEART_RATE"
	ParamTemperature     Parameter = "TEMPERATURE"
	ParamConsciousness   Parameter = "CONSCIOUSNESS"
)

type RiskLevel string

const (
	RiskNoData    RiskLevel = "NO_DATA"
	RiskLow       RiskLevel = "LOW"
	RiskLowMedium RiskLevel = "LOW_MEDIUM"
	RiskMedium    RiskLevel = "MEDIUM"
	RiskHigh      RiskLevel = "HIGH"
)

// ComponentScore is the contribution of a single parameter. Defaulted is set
// when no measurement was available and the parameter scored 0.
type ComponentScore struct {
	Parameter Parameter `json:"parameter"`
	Value     *string   `json:"value"`
	Score     int       `json:"score"`
	Unit      string    `json:"unit,omitempty"`
	Defaulted bool      `json:"defaulted"`
}

type Result struct {
	TotalScore      *int             `json:"total_score"`
	RiskLevel       RiskLevel        `json:"risk_level"`
	RiskColour      string           `json:"risk_colour,omitempty"`
	Recommendation  string           `json:"recommendation,omitempty"`
	Components      []ComponentScore `json:"components"`
	BasedOnVitalsID *int64           `json:"based_on_vitals_id"`
	ComputedAt      time.Time        `json:"computed_at"`
	Message         string           `json:"message,omitempty"`
}
