package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRiskLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want RiskLabel
	}{
		{in: "High-Legal", want: RiskLabel{Severity: SeverityHigh, Category: CategoryLegal}},
		{in: " medium-fin ", want: RiskLabel{Severity: SeverityMedium, Category: CategoryFinancial}},
		{in: "Low-Op", want: RiskLabel{Severity: SeverityLow, Category: CategoryOperational}},
		{in: "No-Legal", want: UnknownLabel},
		{in: "High-Weather", want: UnknownLabel},
		{in: "High", want: UnknownLabel},
		{in: "", want: UnknownLabel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRiskLevel(tt.in))
		})
	}

	assert.Equal(t, "High-Legal", ParseRiskLevel("high-legal").String())
	assert.Equal(t, "Unknown", UnknownLabel.String())
}

func TestSeverityOrderingAndLights(t *testing.T) {
	t.Parallel()

	assert.Less(t, int(SeverityUnknown), int(SeverityLow))
	assert.Less(t, int(SeverityMedium), int(SeverityHigh))
	assert.Equal(t, LightRed, LightFor(SeverityHigh))
	assert.Equal(t, LightOrange, LightFor(SeverityMedium))
	assert.Equal(t, LightGreen, LightFor(SeverityLow))
	assert.Equal(t, LightGreen, LightFor(SeverityUnknown))

	text, err := SeverityHigh.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "High", string(text))

	var s Severity
	require.NoError(t, s.UnmarshalText([]byte("bogus")))
	assert.Equal(t, SeverityUnknown, s)
}

func TestWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.June, 30, 12, 0, 0, 0, time.UTC)
	w := WindowFromDaysBack(now, 7)
	assert.Equal(t, time.Date(2025, time.June, 23, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, now, w.End)

	days := w.Days()
	require.Len(t, days, 8)
	assert.Equal(t, w.Start, days[0])
	assert.Equal(t, time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC), days[7])

	assert.True(t, w.Contains(now.Add(-time.Hour)))
	assert.False(t, w.Contains(now.AddDate(0, 0, -10)))
	assert.False(t, w.Contains(now.Add(time.Minute)))
	assert.True(t, w.Contains(time.Time{}))

	assert.Equal(t, WindowFromDaysBack(now, 7), WindowFromDaysBack(now, 0))
}

func TestDocumentIdentity(t *testing.T) {
	t.Parallel()

	a := RawDocument{Title: "Concurso", BodySnippet: "Auto del juzgado", URL: "https://www.boe.es/a"}
	edited := a
	edited.BodySnippet = "Auto del juzgado mercantil"

	assert.Equal(t, a.Key(), edited.Key(), "key follows the url")
	assert.NotEqual(t, a.ContentVersion(), edited.ContentVersion())
	assert.Equal(t, "Concurso Auto del juzgado", a.Text())

	noURL := RawDocument{Title: "Sin enlace"}
	assert.Equal(t, noURL.ContentVersion(), noURL.Key())

	assert.Equal(t, "acme sa", CompanyID("  ACME   SA "))
	assert.Equal(t, NewFingerprint("acme sa", a.ContentVersion()), NewFingerprint("acme sa", a.ContentVersion()))
	assert.NotEqual(t, NewFingerprint("acme sa", a.ContentVersion()), NewFingerprint("other", a.ContentVersion()))
}

func TestErrors(t *testing.T) {
	t.Parallel()

	cause := errors.New("503 from model")
	exhausted := &SummaryError{Attempts: 3, MaxRetriesReached: true, Err: cause}
	assert.ErrorIs(t, exhausted, ErrMaxRetriesReached)
	assert.ErrorIs(t, exhausted, cause)
	assert.Contains(t, exhausted.Error(), "max retries reached")

	terminal := &SummaryError{Attempts: 1, Err: cause}
	assert.NotErrorIs(t, terminal, ErrMaxRetriesReached)
	assert.ErrorIs(t, terminal, cause)

	wrapped := fmt.Errorf("call: %w", Transient(cause))
	assert.True(t, IsTransient(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.False(t, IsTransient(cause))
	assert.NoError(t, Transient(nil))

	searchErr := &SearchError{Errors: []FetchError{{Source: "boe", Kind: FetchTimeout, Message: "deadline"}}}
	assert.Equal(t, "all sources failed: source boe timeout: deadline", searchErr.Error())
}
