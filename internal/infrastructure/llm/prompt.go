package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"RiskScanner/internal/domain"
)

const classificationPrompt = `You are a risk analyst for a Spanish D&O insurance underwriter.
Classify the document below into exactly one label of the form <Severity>-<Category>.
Severity is one of High, Medium, Low. Category is one of Legal, Financial, Regulatory, Operational, Tax, Economic, Other.
Use High only for insolvency, criminal proceedings, sanctions or regulator enforcement against the company.
Use Low-Other for routine corporate news with no risk content.
Answer with JSON: {"label": "...", "confidence": 0.0-1.0, "reason": "one sentence"}.`

const summaryPrompt = "You write concise management summaries of corporate risk for underwriters. " +
	"Use only the evidence provided. Cite the category and source of every risk you mention."

// verdict is the structured answer both providers are asked for.
type verdict struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func documentPrompt(doc domain.RawDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s\n", doc.Kind)
	if doc.Section != "" {
		fmt.Fprintf(&b, "Section: %s\n", doc.Section)
	}
	fmt.Fprintf(&b, "Title: %s\n", doc.Title)
	if doc.BodySnippet != "" {
		fmt.Fprintf(&b, "Text: %s\n", doc.BodySnippet)
	}
	return b.String()
}

// parseVerdict decodes a model answer. Labels outside the taxonomy become
// Unknown with zero confidence.
func parseVerdict(raw string) (domain.RiskLabel, float64, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return domain.UnknownLabel, 0, fmt.Errorf("decode verdict %q: %w", raw, err)
	}
	label := domain.ParseRiskLevel(v.Label)
	if label.IsUnknown() {
		return domain.UnknownLabel, 0, nil
	}
	conf := v.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return label, conf, nil
}

// transientStatus wraps provider errors that are worth retrying.
func transientStatus(err error, status int) error {
	if errors.Is(err, context.DeadlineExceeded) || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return domain.Transient(err)
	}
	if transportFailure(err) {
		return domain.Transient(err)
	}
	return err
}

// transportFailure reports dial, reset and truncated-response errors that
// never reached an API status.
func transportFailure(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

func safePrompt(prompt, fallback string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fallback
	}
	return prompt
}
