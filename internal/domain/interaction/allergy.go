package interaction

import "strings"

// crossReactivity maps an allergy class keyword to drugs that are flagged for
// any allergy whose substance contains the keyword.
var crossReactivity = map[string]map[string]bool{
	"penicillin": set(
		"amoxicillin", "ampicillin", "amoxicillin/clavulanate",
		"piperacillin", "flucloxacillin", "dicloxacillin",
		"phenoxymethylpenicillin", "benzylpenicillin"),
	"sulfa": set(
		"sulfamethoxazole", "sulfadiazine", "sulfasalazine",
		"trimethoprim/sulfamethoxazole", "co-trimoxazole"),
	"cephalosporin": set(
		"cefalexin", "cefuroxime", "ceftriaxone", "cefotaxime",
		"ceftazidime", "cefixime"),
	"codeine": set(
		"morphine", "tramadol", "oxycodone", "hydrocodone", "fentanyl", "buprenorphine"),
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}

// AllergyMatches reports whether prescribing drug is contraindicated by an
// allergy to substance: either name contains the other, or the substance names
// a drug class the drug belongs to. Blank inputs never match.
func AllergyMatches(drug, substance string) bool {
	d, s := normalise(drug), normalise(substance)
	if d == "" || s == "" {
		return false
	}
	if strings.Contains(d, s) || strings.Contains(s, d) {
		return true
	}
	for class, drugs := range crossReactivity {
		if strings.Contains(s, class) && drugs[d] {
			return true
		}
	}
	return false
}
