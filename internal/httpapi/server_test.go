package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RiskScanner/internal/aggregator"
	"RiskScanner/internal/domain"
	"RiskScanner/internal/infrastructure/parser"
	"RiskScanner/internal/metrics"
	"RiskScanner/internal/summary"
	"RiskScanner/internal/usecase"
)

type fakeAssessor struct {
	assessment usecase.Assessment
	assessErr  error
	summary    domain.SummaryResult
	summaryErr error

	lastSearch  usecase.SearchRequest
	lastSummary summary.Request
}

func (f *fakeAssessor) Assess(_ context.Context, req usecase.SearchRequest) (usecase.Assessment, error) {
	f.lastSearch = req
	return f.assessment, f.assessErr
}

func (f *fakeAssessor) Summarize(_ context.Context, req summary.Request) (domain.SummaryResult, error) {
	f.lastSummary = req
	return f.summary, f.summaryErr
}

func sampleAssessment() usecase.Assessment {
	now := time.Date(2025, time.June, 30, 12, 0, 0, 0, time.UTC)
	signals := []domain.ClassifiedSignal{
		{
			Document:   domain.RawDocument{Kind: domain.SourceBOE, Title: "Concurso de acreedores", URL: "https://www.boe.es/a", PublishedAt: now.AddDate(0, 0, -1)},
			Label:      domain.ParseRiskLevel("High-Legal"),
			Confidence: 0.9,
			Method:     domain.MethodKeyword,
		},
		{
			Document:   domain.RawDocument{Kind: domain.SourceNews, Title: "Resultados", URL: "https://news/b", BodySnippet: "beneficio", PublishedAt: now.AddDate(0, 0, -3)},
			Label:      domain.ParseRiskLevel("Low-Financial"),
			Confidence: 0.7,
			Method:     domain.MethodHybridLLM,
		},
	}
	return usecase.Assessment{
		CompanyName: "Acme SA",
		CompanyID:   "acme sa",
		SearchDate:  now,
		Window:      domain.WindowFromDaysBack(now, 7),
		DaysBack:    7,
		Signals:     signals,
		Profile:     aggregator.New(func() time.Time { return now }).Aggregate("acme sa", signals),
		Search: parser.SearchOutcome{
			PerSource:       map[string]int{"boe": 1, "newsapi": 1},
			SourcesSearched: []string{"boe", "newsapi"},
			Errors:          []domain.FetchError{{Source: "rss-elpais", Kind: domain.FetchTimeout, Message: "context deadline exceeded"}},
		},
		Timings:     usecase.Timings{Total: 1500 * time.Millisecond, Search: time.Second, Classification: 250 * time.Millisecond},
		KeywordHits: 1,
		LLMCalls:    1,
		Persist:     usecase.PersistStats{Saved: 2, Known: 1},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSearchResponseShape(t *testing.T) {
	t.Parallel()

	fake := &fakeAssessor{assessment: sampleAssessment()}
	srv := NewServer(fake, nil, nil, "test")

	rec := do(t, srv, http.MethodPost, "/search", `{"company_name":"Acme SA","days_back":7,"include_boe":true,"include_news":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fake.lastSearch.IncludeRSS, "include_rss defaults to true")
	assert.True(t, fake.lastSearch.IncludeNews)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["request_id"])
	assert.Equal(t, rec.Header().Get("X-Request-ID"), body["request_id"])

	results := body["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, "BOE", first["source"])
	assert.Equal(t, "2025-06-29", first["date"])
	assert.Equal(t, "High-Legal", first["risk_level"])
	assert.Equal(t, "keyword", first["method"])
	_, hasSummary := first["summary"]
	assert.False(t, hasSummary)

	profile := body["risk_profile"].(map[string]any)
	assert.Equal(t, "red", profile["traffic_light"])
	assert.Equal(t, "High", profile["overall"])
	assert.Equal(t, false, profile["no_evidence"])
	assert.Equal(t, "Unknown", profile["per_category"].(map[string]any)["Tax"])

	meta := body["metadata"].(map[string]any)
	assert.EqualValues(t, 2, meta["total_results"])
	assert.EqualValues(t, 1, meta["boe_results"])
	assert.EqualValues(t, 1, meta["news_results"])
	assert.EqualValues(t, 0, meta["rss_results"])
	assert.EqualValues(t, 1, meta["high_risk_results"])
	assert.Len(t, meta["errors"], 1)
	assert.Equal(t, false, meta["cached"])

	perf := body["performance"].(map[string]any)
	assert.InDelta(t, 1.5, perf["total_time_seconds"], 1e-9)
	assert.EqualValues(t, 1, perf["llm_calls"])

	stats := body["database_stats"].(map[string]any)
	assert.EqualValues(t, 2, stats["signals_saved"])
	assert.EqualValues(t, 1, stats["signals_known"])

	dr := body["date_range"].(map[string]any)
	assert.Equal(t, "2025-06-23", dr["start"])
	assert.Equal(t, "2025-06-30", dr["end"])
}

func TestSearchFinancialResults(t *testing.T) {
	t.Parallel()

	a := sampleAssessment()
	a.Signals = append(a.Signals, domain.ClassifiedSignal{
		Document:   domain.RawDocument{Kind: domain.SourceFinancial, Title: "Acme SA (ACM.MC) cotiza -7.30%", URL: "https://finance.yahoo.com/quote/ACM.MC", PublishedAt: a.SearchDate},
		Label:      domain.ParseRiskLevel("Medium-Financial"),
		Confidence: 0.87,
		Method:     domain.MethodKeyword,
	})
	fake := &fakeAssessor{assessment: a}
	srv := NewServer(fake, nil, nil, "test")

	rec := do(t, srv, http.MethodPost, "/search", `{"company_name":"Acme SA","include_financial":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fake.lastSearch.IncludeFinancial)

	var body struct {
		Results []struct {
			Source string `json:"source"`
		} `json:"results"`
		Metadata struct {
			FinancialResults int `json:"financial_results"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 3)
	assert.Equal(t, "Financial", body.Results[2].Source)
	assert.Equal(t, 1, body.Metadata.FinancialResults)

	rec = do(t, srv, http.MethodPost, "/search", `{"company_name":"Acme SA"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, fake.lastSearch.IncludeFinancial, "market data is opt-in")
}

func TestSearchErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "malformed", body: `{"company_name":`, status: http.StatusBadRequest},
		{name: "invalid", body: `{"company_name":""}`, err: usecase.ErrInvalidRequest, status: http.StatusBadRequest},
		{name: "no sources", body: `{"company_name":"Acme","include_rss":false}`, err: domain.ErrNoSources, status: http.StatusBadRequest},
		{name: "all failed", body: `{"company_name":"Acme"}`, err: &domain.SearchError{Errors: []domain.FetchError{{Source: "boe", Kind: domain.FetchUnavailable, Message: "503"}}}, status: http.StatusBadGateway},
		{name: "internal", body: `{"company_name":"Acme"}`, err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&fakeAssessor{assessErr: tt.err}, nil, nil, "test")
			rec := do(t, srv, http.MethodPost, "/search", tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			if tt.status == http.StatusBadGateway {
				require.Len(t, body.Errors, 1)
				assert.Equal(t, "unavailable", body.Errors[0].Kind)
			}
		})
	}
}

func TestManagementSummary(t *testing.T) {
	t.Parallel()

	fake := &fakeAssessor{summary: domain.SummaryResult{
		Text:               "Riesgo alto.",
		Method:             summary.MethodModel,
		AttemptCount:       1,
		SourceFingerprints: []domain.Fingerprint{"fp1"},
	}}
	srv := NewServer(fake, nil, nil, "test")

	rec := do(t, srv, http.MethodPost, "/management-summary", `{
		"company_name": "Acme SA",
		"attempt_count": 1,
		"classification_results": [
			{"source": "BOE", "date": "2025-06-29", "title": "Concurso", "risk_level": "High-Legal", "confidence": 0.9, "url": "https://www.boe.es/a", "method": "keyword"}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body summaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Acme SA", body.CompanyName)
	assert.Equal(t, "Riesgo alto.", body.Text)
	assert.Equal(t, []string{"fp1"}, body.SourceFingerprints)

	require.Len(t, fake.lastSummary.Signals, 1)
	sig := fake.lastSummary.Signals[0]
	assert.Equal(t, domain.SourceBOE, sig.Document.Kind)
	assert.Equal(t, "High-Legal", sig.Label.String())
	assert.Equal(t, time.Date(2025, time.June, 29, 0, 0, 0, 0, time.UTC), sig.Document.PublishedAt)
	assert.Equal(t, 1, fake.lastSummary.PriorAttempts)
}

func TestManagementSummaryExhausted(t *testing.T) {
	t.Parallel()

	fake := &fakeAssessor{summaryErr: &domain.SummaryError{Attempts: 3, MaxRetriesReached: true, Err: errors.New("503")}}
	srv := NewServer(fake, nil, nil, "test")

	rec := do(t, srv, http.MethodPost, "/management-summary", `{"company_name":"Acme","attempt_count":3}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body summaryErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.MaxRetriesReached)
	assert.False(t, body.Retryable)
	assert.Equal(t, 3, body.AttemptCount)
	assert.Contains(t, body.Error, "max retries reached")
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	srv := NewServer(&fakeAssessor{}, m, nil, "1.2.3")

	rec := do(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "1.2.3", health.Version)

	rec = do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `riskscanner_http_request_seconds_count{route="/health",status="200"} 1`)
}
