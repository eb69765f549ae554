package domain

import "time"

// SummaryState is a step of the summary request state machine.
type SummaryState string

const (
	SummaryIdle            SummaryState = "idle"
	SummaryRetrieving      SummaryState = "retrieving"
	SummaryGenerating      SummaryState = "generating"
	SummarySucceeded       SummaryState = "succeeded"
	SummaryFailedRetryable SummaryState = "failed_retryable"
	SummaryFailedTerminal  SummaryState = "failed_terminal"
)

// SummaryResult is a generated management summary.
type SummaryResult struct {
	CompanyID          string
	Text               string
	SourceFingerprints []Fingerprint
	Evidence           []Fingerprint
	AttemptCount       int
	Method             string
	Cached             bool
	State              SummaryState
	GeneratedAt        time.Time
}
