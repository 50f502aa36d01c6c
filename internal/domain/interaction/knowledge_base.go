package interaction

import "sort"

// curated holds the interaction table. Entries are keyed by unordered pair;
// a later entry for the same pair replaces an earlier one.
var curated = []Record{
	// Anticoagulants
	{"warfarin", "ibuprofen", SeverityMajor,
		"NSAID inhibits platelet aggregation and increases gastric bleeding risk; warfarin potentiated",
		"Significantly increased risk of serious bleeding",
		"Avoid combination; use paracetamol (acetaminophen) for analgesia if possible"},
	{"warfarin", "naproxen", SeverityMajor,
		"NSAID inhibits platelet aggregation; warfarin anticoagulant effect potentiated",
		"Increased risk of GI and intracranial bleeding",
		"Avoid combination; monitor INR closely if unavoidable"},
	{"warfarin", "aspirin", SeverityMajor,
		"Aspirin inhibits platelet aggregation and displaces warfarin from plasma proteins",
		"Significantly increased bleeding risk",
		"Use low-dose aspirin only when benefit clearly outweighs risk; monitor INR"},
	{"warfarin", "clopidogrel", SeverityMajor,
		"Dual antiplatelet + anticoagulant combination",
		"Very high risk of major bleeding events",
		"Triple therapy (warfarin + aspirin + clopidogrel) requires specialist oversight"},
	{"warfarin", "amiodarone", SeverityMajor,
		"Amiodarone inhibits CYP2C9 and CYP3A4, substantially increasing warfarin exposure",
		"INR can double or triple within days; severe bleeding risk",
		"Reduce warfarin dose by 30-50% and monitor INR twice weekly when starting amiodarone"},
	{"warfarin", "fluconazole", SeverityMajor,
		"Fluconazole strongly inhibits CYP2C9 metabolism of warfarin",
		"INR markedly elevated; major bleeding risk",
		"Reduce warfarin dose; monitor INR closely during and after course"},
	{"warfarin", "metronidazole", SeverityMajor,
		"Metronidazole inhibits CYP2C9, reducing warfarin clearance",
		"INR elevation and bleeding risk",
		"Monitor INR during metronidazole course; consider dose reduction"},
	// Cardiac drugs
	{"digoxin", "amiodarone", SeverityMajor,
		"Amiodarone inhibits P-glycoprotein and reduces renal clearance of digoxin",
		"Digoxin toxicity: bradycardia, heart block, nausea, visual disturbances",
		"Reduce digoxin dose by 50%; monitor serum digoxin levels and ECG"},
	{"digoxin", "verapamil", SeverityMajor,
		"Verapamil inhibits P-glycoprotein-mediated elimination of digoxin",
		"Digoxin toxicity: bradycardia, AV block",
		"Reduce digoxin dose; monitor serum levels and heart rate"},
	{"digoxin", "spironolactone", SeverityModerate,
		"Spironolactone may alter digoxin renal clearance and interfere with assay",
		"Risk of digoxin toxicity; spuriously elevated digoxin levels in some assays",
		"Monitor digoxin levels using assay unaffected by spironolactone"},
	{"lisinopril", "spironolactone", SeverityMajor,
		"Both drugs reduce potassium excretion by different mechanisms",
		"Severe hyperkalaemia, potentially fatal cardiac arrhythmias",
		"Avoid unless heart failure protocol with careful K+ monitoring; start low dose"},
	{"ramipril", "spironolactone", SeverityMajor,
		"ACE inhibitor + K-sparing diuretic → additive hyperkalaemia",
		"Life-threatening hyperkalaemia",
		"Monitor K+ closely; avoid combination unless clinically necessary"},
	{"enalapril", "potassium", SeverityMajor,
		"ACE inhibitor reduces aldosterone, increasing K+ retention",
		"Hyperkalaemia risk, especially with K+ supplements",
		"Monitor serum K+; avoid routine K+ supplementation"},
	{"atenolol", "verapamil", SeverityMajor,
		"Additive negative chronotropic and dromotropic effects",
		"Severe bradycardia, AV block, or asystole",
		"Avoid combination; if necessary, use with telemetry monitoring"},
	{"amlodipine", "simvastatin", SeverityModerate,
		"Amlodipine inhibits CYP3A4, increasing simvastatin exposure",
		"Increased risk of myopathy and rhabdomyolysis",
		"Do not exceed simvastatin 20mg daily; consider alternative statin"},

	// CNS / psychiatry
	{"ssri", "maoi", SeverityContraindicated,
		"Both drugs increase serotonergic neurotransmission by different mechanisms",
		"Serotonin syndrome: hyperthermia, rigidity, myoclonus, autonomic instability",
		"Contraindicated: allow 14-day washout after stopping MAOI before starting SSRI"},
	{"fluoxetine", "phenelzine", SeverityContraindicated,
		"Fluoxetine (SSRI) + phenelzine (MAOI) → serotonin syndrome",
		"Life-threatening serotonin syndrome",
		"Contraindicated; 5-week washout after fluoxetine due to long half-life"},
	{"sertraline", "tramadol", SeverityMajor,
		"Sertraline (SSRI) reduces CYP2D6 metabolism of tramadol; additive serotonergic effect",
		"Serotonin syndrome; seizures",
		"Avoid combination or use lowest effective doses with close monitoring"},
	{"fluoxetine", "tramadol", SeverityMajor,
		"Fluoxetine inhibits CYP2D6, reducing tramadol conversion to active metabolite and increasing parent drug",
		"Serotonin syndrome risk; paradoxical reduced analgesia",
		"Avoid; use alternative analgesic"},
	{"lithium", "ibuprofen", SeverityMajor,
		"NSAIDs reduce renal clearance of lithium",
		"Lithium toxicity: tremor, confusion, renal damage",
		"Avoid NSAIDs with lithium; use paracetamol (acetaminophen) instead"},
	{"lithium", "naproxen", SeverityMajor,
		"NSAID reduces renal prostaglandin synthesis, decreasing lithium excretion",
		"Lithium toxicity",
		"Avoid; monitor lithium levels if NSAID unavoidable"},
	{"clozapine", "ciprofloxacin", SeverityMajor,
		"Ciprofloxacin inhibits CYP1A2, the primary metabolic pathway for clozapine",
		"Clozapine toxicity: sedation, seizures, agranulocytosis risk",
		"Avoid or reduce clozapine dose by 50%; monitor closely"},

	// Diabetes
	{"metformin", "contrast", SeverityMajor,
		"Iodinated contrast media cause transient renal impairment, reducing metformin clearance",
		"Lactic acidosis — potentially fatal",
		"Withhold metformin 48h before and after IV contrast; ensure renal function normal before restarting"},
	{"metformin", "alcohol", SeverityMajor,
		"Alcohol potentiates metformin inhibition of hepatic gluconeogenesis",
		"Increased risk of lactic acidosis",
		"Avoid excessive alcohol use with metformin"},
	{"glibenclamide", "fluconazole", SeverityMajor,
		"Fluconazole inhibits CYP2C9 metabolism of glibenclamide (glyburide)",
		"Severe prolonged hypoglycaemia",
		"Avoid combination; monitor blood glucose closely if unavoidable"},

	// Antibiotics
	{"ciprofloxacin", "antacids", SeverityModerate,
		"Divalent cations (Al, Mg, Ca) chelate ciprofloxacin in gut lumen",
		"Reduced ciprofloxacin absorption by up to 85%; treatment failure",
		"Separate administration by at least 2 hours (ciprofloxacin first)"},
	{"ciprofloxacin", "theophylline", SeverityMajor,
		"Ciprofloxacin inhibits CYP1A2, substantially increasing theophylline levels",
		"Theophylline toxicity: tachycardia, seizures, arrhythmias",
		"Reduce theophylline dose by 50%; monitor serum theophylline levels"},
	{"metronidazole", "alcohol", SeverityMajor,
		"Metronidazole inhibits aldehyde dehydrogenase (disulfiram-like reaction)",
		"Flushing, tachycardia, nausea, vomiting (disulfiram reaction)",
		"Avoid alcohol during treatment and 48h after completion"},
	{"trimethoprim", "methotrexate", SeverityMajor,
		"Additive antifolate effect; trimethoprim inhibits dihydrofolate reductase",
		"Severe myelosuppression, megaloblastic anaemia",
		"Avoid combination or use with folinic acid supplementation under specialist guidance"},
	{"doxycycline", "antacids", SeverityModerate,
		"Divalent cations chelate tetracyclines in gut",
		"Reduced absorption of doxycycline; treatment failure",
		"Take doxycycline 2 hours before or 6 hours after antacids"},
	{"rifampicin", "warfarin", SeverityMajor,
		"Rifampicin is a potent CYP inducer; dramatically increases warfarin metabolism",
		"Markedly reduced anticoagulant effect; thrombosis risk",
		"Monitor INR very frequently; may need to double or triple warfarin dose"},
	{"rifampicin", "oral contraceptive", SeverityMajor,
		"Rifampicin induces CYP3A4 and UGT enzymes, reducing oestrogen and progestogen levels",
		"Contraceptive failure; unintended pregnancy",
		"Use additional non-hormonal contraception during and 4 weeks after rifampicin"},

	// Respiratory
	{"theophylline", "ciprofloxacin", SeverityMajor,
		"Ciprofloxacin inhibits CYP1A2 — the primary metabolic pathway for theophylline",
		"Theophylline toxicity: tachycardia, seizures, hypokalaemia",
		"Reduce theophylline dose by 50% when starting ciprofloxacin; monitor levels"},
	{"theophylline", "erythromycin", SeverityMajor,
		"Erythromycin inhibits CYP3A4 and CYP1A2, increasing theophylline levels",
		"Theophylline toxicity",
		"Use alternative antibiotic if possible; monitor levels closely"},

	// NSAIDs with ACE inhibitors or ARBs
	{"ibuprofen", "lisinopril", SeverityModerate,
		"NSAIDs reduce renal prostaglandin synthesis; impair ACE inhibitor renal effects",
		"Reduced antihypertensive effect; risk of acute kidney injury",
		"Avoid regular NSAID use; monitor renal function and blood pressure"},
	{"ibuprofen", "ramipril", SeverityModerate,
		"NSAID reduces ACE inhibitor efficacy and increases renal injury risk",
		"Blood pressure elevation; acute kidney injury in susceptible patients",
		"Use paracetamol instead; monitor renal function if unavoidable"},
	{"naproxen", "lisinopril", SeverityModerate,
		"Same mechanism as ibuprofen/ACE inhibitor interaction",
		"Reduced antihypertensive efficacy; renal impairment",
		"Avoid; prefer alternative analgesic"},

	// Antiplatelets and NSAIDs
	{"aspirin", "methotrexate", SeverityMajor,
		"Aspirin (NSAID) reduces renal tubular secretion of methotrexate",
		"Methotrexate toxicity: severe myelosuppression, mucositis",
		"Avoid combination; if necessary, use with leucovorin rescue and frequent monitoring"},
	{"clopidogrel", "omeprazole", SeverityModerate,
		"Omeprazole inhibits CYP2C19, reducing conversion of clopidogrel to active metabolite",
		"Reduced antiplatelet effect; possible increased cardiovascular events",
		"Use pantoprazole (lower CYP2C19 inhibition) as alternative PPI"},

	// Other clinically significant pairs
	{"simvastatin", "erythromycin", SeverityMajor,
		"Erythromycin inhibits CYP3A4-mediated statin metabolism",
		"Severe myopathy and rhabdomyolysis",
		"Withhold simvastatin during course of erythromycin; use azithromycin instead"},
	{"sildenafil", "nitrate", SeverityContraindicated,
		"Both drugs lower blood pressure via different mechanisms (cGMP pathway)",
		"Life-threatening hypotension",
		"Contraindicated; do not use together"},
	{"ssri", "tramadol", SeverityMajor,
		"Additive serotonergic effect; SSRI inhibits CYP2D6 metabolism of tramadol",
		"Serotonin syndrome; seizures",
		"Avoid; use non-serotonergic analgesic"},
	{"tacrolimus", "fluconazole", SeverityMajor,
		"Fluconazole inhibits CYP3A4 and CYP2C19; tacrolimus levels increase greatly",
		"Tacrolimus toxicity: nephrotoxicity, neurotoxicity, QT prolongation",
		"Reduce tacrolimus dose by 50%; monitor levels closely"},
}

type pairKey struct{ a, b string }

func newPairKey(x, y string) pairKey {
	x, y = normalise(x), normalise(y)
	if y < x {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

// KnowledgeBase is an immutable index of curated interactions. It is safe for
// concurrent use.
type KnowledgeBase struct {
	pairs map[pairKey]Record
}

// NewKnowledgeBase builds the index from the curated table.
func NewKnowledgeBase() *KnowledgeBase {
	return newKnowledgeBase(curated)
}

func newKnowledgeBase(records []Record) *KnowledgeBase {
	kb := &KnowledgeBase{pairs: make(map[pairKey]Record, len(records))}
	for _, r := range records {
		kb.pairs[newPairKey(r.DrugA, r.DrugB)] = r
	}
	return kb
}

// Find returns the interaction between two drugs in either order. Names are
// compared after trimming and lowercasing; no partial matching is done.
func (kb *KnowledgeBase) Find(drug1, drug2 string) (Record, bool) {
	r, ok := kb.pairs[newPairKey(drug1, drug2)]
	return r, ok
}

// FindFor returns every interaction involving drug, ordered by the other drug's name.
func (kb *KnowledgeBase) FindFor(drug string) []Record {
	name := normalise(drug)
	var out []Record
	for k, r := range kb.pairs {
		if k.a == name || k.b == name {
			out = append(out, r)
		}
	}
	other := func(k pairKey) string {
		if k.a == name {
			return k.b
		}
		return k.a
	}
	sort.Slice(out, func(i, j int) bool {
		return other(newPairKey(out[i].DrugA, out[i].DrugB)) < other(newPairKey(out[j].DrugA, out[j].DrugB))
	})
	return out
}

// Len returns the number of distinct drug pairs.
func (kb *KnowledgeBase) Len() int {
	return len(kb.pairs)
}

func (kb *KnowledgeBase) CountBySeverity() map[Severity]int {
	out := make(map[Severity]int, 4)
	for _, r := range kb.pairs {
		out[r.Severity]++
	}
	return out
}
