package summary

import (
	"fmt"
	"strings"

	"RiskScanner/internal/domain"
)

var lightNames = map[domain.TrafficLight]string{
	domain.LightRed:    "rojo",
	domain.LightOrange: "naranja",
	domain.LightGreen:  "verde",
}

func buildPrompt(company string, evidence []domain.ClassifiedSignal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", company)
	b.WriteString("Write a management summary in Spanish of at most 200 words covering the overall risk, the main risks by category and a recommendation for the underwriter.\n\n")
	b.WriteString("Evidence:\n")
	if len(evidence) == 0 {
		b.WriteString("- no documents were found in the searched sources\n")
	}
	for _, s := range evidence {
		fmt.Fprintf(&b, "- [%s, confidence %.2f] %s", s.Label, s.Confidence, s.Document.Title)
		if !s.Document.PublishedAt.IsZero() {
			fmt.Fprintf(&b, " (%s, %s)", s.Document.Kind, s.Document.PublishedAt.Format("2006-01-02"))
		} else {
			fmt.Fprintf(&b, " (%s)", s.Document.Kind)
		}
		if s.Document.BodySnippet != "" {
			fmt.Fprintf(&b, ": %s", s.Document.BodySnippet)
		}
		if s.Document.URL != "" {
			fmt.Fprintf(&b, " <%s>", s.Document.URL)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// renderTemplate is the deterministic narrative used without a model.
func renderTemplate(company string, profile domain.CompanyRiskProfile) string {
	var b strings.Builder
	if profile.NoEvidence {
		fmt.Fprintf(&b, "%s: no se han encontrado señales de riesgo clasificables en las fuentes consultadas (%d documentos). Semáforo verde sin evidencia.", company, profile.SignalCount)
		return b.String()
	}

	fmt.Fprintf(&b, "%s: riesgo global %s (semáforo %s) a partir de %d documentos.", company,
		profile.Overall, lightNames[profile.TrafficLight], profile.SignalCount)
	for _, cat := range domain.Categories {
		ev, ok := profile.Evidence[cat]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n- %s: %s. %s", cat, profile.PerCategory[cat], ev.Document.Title)
	}
	switch profile.TrafficLight {
	case domain.LightRed:
		b.WriteString("\nRecomendación: revisión manual antes de suscribir.")
	case domain.LightOrange:
		b.WriteString("\nRecomendación: suscribir con condiciones y seguimiento.")
	default:
		b.WriteString("\nRecomendación: sin objeciones relevantes.")
	}
	return b.String()
}
