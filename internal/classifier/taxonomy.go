package classifier

import (
	"fmt"
	"strings"
	"unicode"

	"RiskScanner/internal/domain"
)

// Rule binds curated terms to a risk label. A term ending in "*" matches any
// word starting with it; other terms match whole words only.
type Rule struct {
	Label domain.RiskLabel
	Terms []string
}

// Taxonomy is the compiled, read-only term table used by the rule pass.
type Taxonomy struct {
	rules    []Rule
	benign   []string
	weak     []string
	sections []string
}

// NewTaxonomy lower-cases and validates every term. Rules must carry a known
// label.
func NewTaxonomy(rules []Rule, benign, weak, highRiskSections []string) (*Taxonomy, error) {
	t := &Taxonomy{
		benign: normalizeTerms(benign),
		weak:   normalizeTerms(weak),
	}
	for _, s := range highRiskSections {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			t.sections = append(t.sections, s)
		}
	}
	for i, r := range rules {
		if r.Label.IsUnknown() {
			return nil, fmt.Errorf("taxonomy rule %d: label %s is not classifiable", i, r.Label)
		}
		terms := normalizeTerms(r.Terms)
		if len(terms) == 0 {
			return nil, fmt.Errorf("taxonomy rule %d (%s): no terms", i, r.Label)
		}
		t.rules = append(t.rules, Rule{Label: r.Label, Terms: terms})
	}
	if len(t.rules) == 0 {
		return nil, fmt.Errorf("taxonomy has no rules")
	}
	return t, nil
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.Join(strings.Fields(strings.ToLower(term)), " ")
		if term != "" && term != "*" {
			out = append(out, term)
		}
	}
	return out
}

type ruleMatch struct {
	label domain.RiskLabel
	term  string
}

func (t *Taxonomy) matchRules(lower string) []ruleMatch {
	var out []ruleMatch
	for _, r := range t.rules {
		for _, term := range r.Terms {
			if containsTerm(lower, term) {
				out = append(out, ruleMatch{label: r.Label, term: term})
				break
			}
		}
	}
	return out
}

func (t *Taxonomy) firstMatch(lower string, terms []string) (string, bool) {
	for _, term := range terms {
		if containsTerm(lower, term) {
			return term, true
		}
	}
	return "", false
}

func (t *Taxonomy) highRiskSection(section string) (string, bool) {
	section = strings.ToUpper(strings.TrimSpace(section))
	if section == "" {
		return "", false
	}
	for _, code := range t.sections {
		if strings.Contains(section, code) {
			return code, true
		}
	}
	return "", false
}

// containsTerm reports whether term occurs in text on word boundaries.
// Both arguments are expected lower-cased.
func containsTerm(text, term string) bool {
	prefix := strings.HasSuffix(term, "*")
	term = strings.TrimSuffix(term, "*")

	for offset := 0; offset <= len(text); {
		idx := strings.Index(text[offset:], term)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(term)
		if boundaryBefore(text, start) && (prefix || boundaryAfter(text, end)) {
			return true
		}
		offset = start + 1
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r := lastRune(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	for _, r := range text[i:] {
		return !isWordRune(r)
	}
	return true
}

func lastRune(s string) rune {
	var last rune
	for _, r := range s {
		last = r
	}
	return last
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func label(sev domain.Severity, cat domain.Category) domain.RiskLabel {
	return domain.RiskLabel{Severity: sev, Category: cat}
}

// DefaultTaxonomy is the built-in Spanish term table for D&O and credit risk.
func DefaultTaxonomy() *Taxonomy {
	t, err := NewTaxonomy(defaultRules, defaultBenign, defaultWeak, defaultHighRiskSections)
	if err != nil {
		panic(err)
	}
	return t
}

var defaultRules = []Rule{
	{Label: label(domain.SeverityHigh, domain.CategoryLegal), Terms: []string{
		"concurso de acreedores", "administración concursal", "suspensión de pagos",
		"quiebra", "insolven*", "liquidación judicial",
		"sentencia penal", "proceso penal", "delito societario", "responsabilidad penal",
		"inhabilitación", "condena firme",
		"sanción grave", "expediente sancionador", "penalización",
		"blanqueo de capitales", "financiación del terrorismo", "lavado de dinero",
		"manipulación de mercado", "abuso de mercado", "información privilegiada",
		"estafa", "apropiación indebida", "alzamiento de bienes",
	}},
	{Label: label(domain.SeverityHigh, domain.CategoryFinancial), Terms: []string{
		"impago", "preconcurso", "reestructuración de deuda", "bono basura",
		"quita de deuda", "default",
	}},
	{Label: label(domain.SeverityHigh, domain.CategoryTax), Terms: []string{
		"delito fiscal", "fraude fiscal", "delito contra la hacienda pública",
	}},
	{Label: label(domain.SeverityMedium, domain.CategoryLegal), Terms: []string{
		"requerimiento", "advertencia", "apercibimiento", "incumplimiento",
		"expediente administrativo", "procedimiento sancionador", "resolución administrativa",
		"sanción leve", "sanción menor", "multa menor",
		"deficiencia", "irregularidad", "demanda judicial",
	}},
	{Label: label(domain.SeverityMedium, domain.CategoryRegulatory), Terms: []string{
		"sanción administrativa", "multa administrativa", "resolución sancionadora",
		"infracción muy grave", "infracción grave", "revocación de autorización",
		"suspensión de actividades", "multa regulatoria",
	}},
	{Label: label(domain.SeverityMedium, domain.CategoryFinancial), Terms: []string{
		"pérdidas", "rebaja de calificación", "rebaja de rating", "deterioro",
		"profit warning", "caída de ventas",
	}},
	{Label: label(domain.SeverityMedium, domain.CategoryOperational), Terms: []string{
		"expediente de regulación de empleo", "huelga", "ciberataque",
		"brecha de seguridad", "retirada de producto", "accidente laboral",
	}},
	{Label: label(domain.SeverityMedium, domain.CategoryTax), Terms: []string{
		"inspección fiscal", "inspección de hacienda", "deuda tributaria",
		"liquidación tributaria", "recargo tributario",
	}},
	{Label: label(domain.SeverityLow, domain.CategoryLegal), Terms: []string{
		"circular", "normativa", "regulación", "supervisión",
		"autorización", "licencia", "registro", "inscripción",
	}},
	{Label: label(domain.SeverityLow, domain.CategoryFinancial), Terms: []string{
		"emisión de bonos", "ampliación de capital", "refinanciación",
	}},
	{Label: label(domain.SeverityLow, domain.CategoryEconomic), Terms: []string{
		"inflación", "desaceleración", "tipos de interés", "recesión",
	}},
}

var defaultBenign = []string{
	"fútbol", "deportes", "entretenimiento", "espectáculos", "cultura", "turismo",
	"beneficios", "facturación", "crecimiento", "expansión", "inversión", "dividendos",
	"premio", "reconocimiento", "galardón", "distinción",
}

var defaultWeak = []string{
	"tribunal", "juzgado", "sentencia", "proceso", "expediente",
	"sanción", "multa", "infracción", "normativ*", "regulación",
}

var defaultHighRiskSections = []string{"JUS", "CNMC", "AEPD", "CNMV", "BDE", "DGSFP", "SEPBLAC"}
