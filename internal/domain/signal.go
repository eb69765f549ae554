package domain

import "time"

// ClassificationMethod records which classifier stage produced a label.
type ClassificationMethod string

const (
	MethodEmpty           ClassificationMethod = "empty"
	MethodKeywordSection  ClassificationMethod = "keyword_section"
	MethodKeyword         ClassificationMethod = "keyword"
	MethodKeywordBenign   ClassificationMethod = "keyword_benign"
	MethodKeywordWeak     ClassificationMethod = "keyword_weak"
	MethodKeywordShort    ClassificationMethod = "keyword_short_text"
	MethodNoMatch         ClassificationMethod = "no_match"
	MethodHybridLLM       ClassificationMethod = "hybrid_llm"
	MethodHybridAgreement ClassificationMethod = "hybrid_agreement"
	MethodHybridConflict  ClassificationMethod = "hybrid_conflict"
	MethodFallbackFailed  ClassificationMethod = "fallback_failed"
)

// ClassifiedSignal is a document with its risk label and confidence.
type ClassifiedSignal struct {
	Document   RawDocument
	Label      RiskLabel
	Confidence float64
	Method     ClassificationMethod
	Reason     string
}

// Fingerprint returns the content-addressed id of this signal for a company.
func (s ClassifiedSignal) Fingerprint(companyID string) Fingerprint {
	return NewFingerprint(companyID, s.Document.ContentVersion())
}

// CompanyRiskProfile is the aggregated verdict for one company.
type CompanyRiskProfile struct {
	CompanyID    string
	PerCategory  map[Category]Severity
	Overall      Severity
	TrafficLight TrafficLight
	// NoEvidence distinguishes "nothing classified" from a verified Low profile.
	NoEvidence  bool
	Evidence    map[Category]ClassifiedSignal
	SignalCount int
	GeneratedAt time.Time
}
