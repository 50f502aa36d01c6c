package news2

import (
	"strconv"
	"time"
)

const noVitalsMessage = "No vitals on record"

var (
	colours = map[RiskLevel]string{
		RiskLow:       "green",
		RiskLowMedium: "yellow",
		RiskMedium:    "orange",
		RiskHigh:      "red",
	}
	recommendations = map[RiskLevel]string{
		RiskLow:       "Routine ward monitoring",
		RiskLowMedium: "Monitoring every 4–6 hours",
		RiskMedium:    "Urgent review within 1 hour",
		RiskHigh:      "Emergency clinical assessment required immediately",
	}
)

// Compute scores a vitals snapshot using the RCP NEWS2 tables (SpO2 scale 1).
// A nil snapshot yields RiskNoData. Consciousness is not recorded and always
// scores as ALERT.
func Compute(v *Vitals, now time.Time) Result {
	if v == nil {
		return Result{
			RiskLevel:  RiskNoData,
			Components: []ComponentScore{},
			ComputedAt: now,
			Message:    noVitalsMessage,
		}
	}

	components := []ComponentScore{
		intComponent(ParamRespiratoryRate, v.RespiratoryRate, "breaths/min", scoreRespiratoryRate),
		intComponent(ParamSpO2, v.OxygenSaturation, "%", scoreSpO2),
		intComponent(ParamSystolicBP, v.SystolicBP, "mmHg", scoreSystolicBP),
		intComponent(ParamHeartRate, v.HeartRate, "bpm", scoreHeartRate),
		temperatureComponent(v.Temperature),
		consciousnessComponent(),
	}

	total, anyThree := 0, false
	for _, c := range components {
		total += c.Score
		if c.Score == 3 {
			anyThree = true
		}
	}

	level := Classify(total, anyThree)
	id := v.ID
	return Result{
		TotalScore:      &total,
		RiskLevel:       level,
		RiskColour:      colours[level],
		Recommendation:  recommendations[level],
		Components:      components,
		BasedOnVitalsID: &id,
		ComputedAt:      now,
	}
}

// Classify maps an aggregate score to a risk band. A single parameter scoring
// 3 lifts a total of 1-4 to MEDIUM; a total of 7 or more is always HIGH.
func Classify(total int, anyThree bool) RiskLevel {
	switch {
	case total == 0:
		return RiskLow
	case total >= 7:
		return RiskHigh
	case total >= 5 || anyThree:
		return RiskMedium
	default:
		return RiskLowMedium
	}
}

func intComponent(p Parameter, v *int, unit string, score func(int) int) ComponentScore {
	if v == nil {
		return ComponentScore{Parameter: p, Unit: unit, Defaulted: true}
	}
	s := strconv.Itoa(*v)
	return ComponentScore{Parameter: p, Value: &s, Score: score(*v), Unit: unit}
}

func temperatureComponent(t *float64) ComponentScore {
	if t == nil {
		return ComponentScore{Parameter: ParamTemperature, Unit: "°C", Defaulted: true}
	}
	s := strconv.FormatFloat(*t, 'f', 1, 64)
	return ComponentScore{Parameter: ParamTemperature, Value: &s, Score: scoreTemperature(*t), Unit: "°C"}
}

func consciousnessComponent() ComponentScore {
	alert := "ALERT"
	return ComponentScore{Parameter: ParamConsciousness, Value: &alert, Defaulted: true}
}

func scoreRespiratoryRate(rr int) int {
	switch {
	case rr <= 8:
		return 3
	case rr <= 11:
		return 1
	case rr <= 20:
		return 0
	case rr <= 24:
		return 2
	default:
		return 3
	}
}

func scoreSpO2(spo2 int) int {
	switch {
	case spo2 <= 91:
		return 3
	case spo2 <= 93:
		return 2
	case spo2 <= 95:
		return 1
	default:
		return 0
	}
}

func scoreSystolicBP(sbp int) int {
	switch {
	case sbp <= 90:
		return 3
	case sbp <= 100:
		return 2
	case sbp <= 110:
		return 1
	case sbp <= 219:
		return 0
	default:
		return 3
	}
}

func scoreHeartRate(hr int) int {
	switch {
	case hr <= 40:
		return 3
	case hr <= 50:
		return 1
	case hr <= 90:
		return 0
	case hr <= 110:
		return 1
	case hr <= 130:
		return 2
	default:
		return 3
	}
}

func scoreTemperature(t float64) int {
	switch {
	case t <= 35.0:
		return 3
	case t <= 36.0:
		return 1
	case t <= 38.0:
		return 0
	case t <= 39.0:
		return 1
	default:
		return 2
	}
}
