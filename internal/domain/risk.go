package domain

import "strings"

// Severity is the ordinal risk intensity. The zero value is SeverityUnknown,
// which sorts below Low.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

var severityNames = map[Severity]string{
	SeverityUnknown: "Unknown",
	SeverityLow:     "Low",
	SeverityMedium:  "Medium",
	SeverityHigh:    "High",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "Unknown"
}

// MarshalText renders the severity name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts a severity name; anything else becomes Unknown.
func (s *Severity) UnmarshalText(text []byte) error {
	*s = ParseSeverity(string(text))
	return nil
}

// ParseSeverity maps a name to a Severity, defaulting to Unknown.
func ParseSeverity(value string) Severity {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	case "low":
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// Category is the risk domain a document pertains to.
type Category string

const (
	CategoryLegal       Category = "Legal"
	CategoryFinancial   Category = "Financial"
	CategoryRegulatory  Category = "Regulatory"
	CategoryOperational Category = "Operational"
	CategoryTax         Category = "Tax"
	CategoryEconomic    Category = "Economic"
	CategoryOther       Category = "Other"
	CategoryUnknown     Category = "Unknown"
)

// Categories lists the classified categories in tie-break order.
var Categories = []Category{
	CategoryLegal,
	CategoryFinancial,
	CategoryRegulatory,
	CategoryOperational,
	CategoryTax,
	CategoryEconomic,
	CategoryOther,
}

var categoryAliases = map[string]Category{
	"legal":       CategoryLegal,
	"financial":   CategoryFinancial,
	"fin":         CategoryFinancial,
	"regulatory":  CategoryRegulatory,
	"reg":         CategoryRegulatory,
	"operational": CategoryOperational,
	"op":          CategoryOperational,
	"tax":         CategoryTax,
	"economic":    CategoryEconomic,
	"eco":         CategoryEconomic,
	"other":       CategoryOther,
}

// ParseCategory maps a name or short alias to a Category, defaulting to Unknown.
func ParseCategory(value string) Category {
	if c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(value))]; ok {
		return c
	}
	return CategoryUnknown
}

// RiskLabel is one point of the Severity x Category label space.
type RiskLabel struct {
	Severity Severity
	Category Category
}

// UnknownLabel is assigned to unclassifiable evidence.
var UnknownLabel = RiskLabel{Severity: SeverityUnknown, Category: CategoryUnknown}

// IsUnknown reports whether either half of the label is unknown.
func (l RiskLabel) IsUnknown() bool {
	return l.Severity == SeverityUnknown || l.Category == CategoryUnknown || l.Category == ""
}

// String renders "<Severity>-<Category>", or "Unknown".
func (l RiskLabel) String() string {
	if l.IsUnknown() {
		return "Unknown"
	}
	return l.Severity.String() + "-" + string(l.Category)
}

// ParseRiskLevel parses "<Severity>-<Category>". Unrecognized combinations,
// including labels such as "No-Legal", map to UnknownLabel.
func ParseRiskLevel(value string) RiskLabel {
	sevPart, catPart, ok := strings.Cut(strings.TrimSpace(value), "-")
	if !ok {
		return UnknownLabel
	}
	label := RiskLabel{Severity: ParseSeverity(sevPart), Category: ParseCategory(catPart)}
	if label.IsUnknown() {
		return UnknownLabel
	}
	return label
}

// TrafficLight is the three-level aggregate verdict.
type TrafficLight string

const (
	LightRed    TrafficLight = "red"
	LightOrange TrafficLight = "orange"
	LightGreen  TrafficLight = "green"
)

// LightFor maps a severity to its traffic light. Unknown is treated as Low.
func LightFor(s Severity) TrafficLight {
	switch s {
	case SeverityHigh:
		return LightRed
	case SeverityMedium:
		return LightOrange
	default:
		return LightGreen
	}
}
