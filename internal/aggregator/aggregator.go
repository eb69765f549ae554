package aggregator

import (
	"time"

	"RiskScanner/internal/domain"
)

// Aggregator folds classified signals into a company profile. It keeps no
// state between calls.
type Aggregator struct {
	now func() time.Time
}

// New builds an aggregator; a nil clock selects time.Now.
func New(now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{now: now}
}

// Aggregate computes per-category severities, the overall verdict and its
// traffic light. Signals with an unknown label do not contribute.
func (a *Aggregator) Aggregate(companyID string, signals []domain.ClassifiedSignal) domain.CompanyRiskProfile {
	profile := domain.CompanyRiskProfile{
		CompanyID:   companyID,
		PerCategory: make(map[domain.Category]domain.Severity, len(domain.Categories)),
		Evidence:    map[domain.Category]domain.ClassifiedSignal{},
		SignalCount: len(signals),
		GeneratedAt: a.now().UTC(),
	}
	for _, cat := range domain.Categories {
		profile.PerCategory[cat] = domain.SeverityUnknown
	}

	for _, s := range signals {
		if s.Label.IsUnknown() {
			continue
		}
		current, ok := profile.Evidence[s.Label.Category]
		if !ok || outranks(s, current) {
			profile.Evidence[s.Label.Category] = s
			profile.PerCategory[s.Label.Category] = s.Label.Severity
		}
	}

	for _, sev := range profile.PerCategory {
		if sev > profile.Overall {
			profile.Overall = sev
		}
	}
	profile.NoEvidence = len(profile.Evidence) == 0
	profile.TrafficLight = domain.LightFor(profile.Overall)
	return profile
}

// outranks orders signals by severity, confidence, recency and finally URL
// so the chosen evidence does not depend on input order.
func outranks(a, b domain.ClassifiedSignal) bool {
	if a.Label.Severity != b.Label.Severity {
		return a.Label.Severity > b.Label.Severity
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.Document.PublishedAt.Equal(b.Document.PublishedAt) {
		return a.Document.PublishedAt.After(b.Document.PublishedAt)
	}
	return a.Document.URL < b.Document.URL
}
