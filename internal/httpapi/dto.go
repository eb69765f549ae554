package httpapi

import (
	"strings"
	"time"

	"RiskScanner/internal/domain"
	"RiskScanner/internal/usecase"
)

const dateLayout = "2006-01-02"

type searchRequest struct {
	CompanyName      string `json:"company_name"`
	DaysBack         int    `json:"days_back"`
	IncludeBOE       bool   `json:"include_boe"`
	IncludeNews      bool   `json:"include_news"`
	IncludeRSS       *bool  `json:"include_rss,omitempty"`
	IncludeFinancial bool   `json:"include_financial"`
}

type dateRange struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	DaysBack int    `json:"days_back"`
}

type resultItem struct {
	Source     string  `json:"source"`
	Date       string  `json:"date"`
	Title      string  `json:"title"`
	RiskLevel  string  `json:"risk_level"`
	Confidence float64 `json:"confidence"`
	URL        string  `json:"url"`
	Summary    string  `json:"summary,omitempty"`
	Method     string  `json:"method"`
}

type riskProfile struct {
	PerCategory  map[domain.Category]string `json:"per_category"`
	Overall      string                     `json:"overall"`
	TrafficLight domain.TrafficLight        `json:"traffic_light"`
	NoEvidence   bool                       `json:"no_evidence"`
}

type sourceError struct {
	Source  string `json:"source"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type searchMetadata struct {
	TotalResults     int            `json:"total_results"`
	BOEResults       int            `json:"boe_results"`
	NewsResults      int            `json:"news_results"`
	RSSResults       int            `json:"rss_results"`
	FinancialResults int            `json:"financial_results"`
	HighRiskResults  int            `json:"high_risk_results"`
	SourcesSearched  []string       `json:"sources_searched"`
	PerSource        map[string]int `json:"per_source"`
	Errors           []sourceError  `json:"errors"`
	Cached           bool           `json:"cached"`
}

type performance struct {
	TotalTimeSeconds          float64 `json:"total_time_seconds"`
	SearchTimeSeconds         float64 `json:"search_time_seconds"`
	ClassificationTimeSeconds float64 `json:"classification_time_seconds"`
	KeywordHits               int     `json:"keyword_hits"`
	LLMCalls                  int     `json:"llm_calls"`
}

type databaseStats struct {
	SignalsSaved int    `json:"signals_saved"`
	SignalsKnown int    `json:"signals_known"`
	PersistError string `json:"persist_error,omitempty"`
}

type searchResponse struct {
	RequestID     string         `json:"request_id"`
	CompanyName   string         `json:"company_name"`
	SearchDate    time.Time      `json:"search_date"`
	DateRange     dateRange      `json:"date_range"`
	Results       []resultItem   `json:"results"`
	RiskProfile   riskProfile    `json:"risk_profile"`
	Metadata      searchMetadata `json:"metadata"`
	Performance   performance    `json:"performance"`
	DatabaseStats databaseStats  `json:"database_stats"`
}

type summaryRequest struct {
	CompanyName           string       `json:"company_name"`
	ClassificationResults []resultItem `json:"classification_results"`
	AttemptCount          int          `json:"attempt_count"`
}

type summaryResponse struct {
	CompanyName        string   `json:"company_name"`
	Text               string   `json:"text"`
	Method             string   `json:"method"`
	AttemptCount       int      `json:"attempt_count"`
	Cached             bool     `json:"cached"`
	SourceFingerprints []string `json:"source_fingerprints"`
}

type summaryErrorResponse struct {
	Error             string `json:"error"`
	Retryable         bool   `json:"retryable"`
	MaxRetriesReached bool   `json:"max_retries_reached"`
	AttemptCount      int    `json:"attempt_count"`
}

type errorResponse struct {
	Error  string        `json:"error"`
	Errors []sourceError `json:"errors,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Version string `json:"version"`
}

// RenderAssessment returns the JSON document served by POST /search.
func RenderAssessment(requestID string, a usecase.Assessment) any {
	return toSearchResponse(requestID, a)
}

func toSearchResponse(requestID string, a usecase.Assessment) searchResponse {
	resp := searchResponse{
		RequestID:   requestID,
		CompanyName: a.CompanyName,
		SearchDate:  a.SearchDate,
		DateRange: dateRange{
			Start:    a.Window.Start.Format(dateLayout),
			End:      a.Window.End.Format(dateLayout),
			DaysBack: a.DaysBack,
		},
		Results: make([]resultItem, 0, len(a.Signals)),
		RiskProfile: riskProfile{
			PerCategory:  make(map[domain.Category]string, len(a.Profile.PerCategory)),
			Overall:      a.Profile.Overall.String(),
			TrafficLight: a.Profile.TrafficLight,
			NoEvidence:   a.Profile.NoEvidence,
		},
		Metadata: searchMetadata{
			SourcesSearched: nonNil(a.Search.SourcesSearched),
			PerSource:       a.Search.PerSource,
			Errors:          toSourceErrors(a.Search.Errors),
			Cached:          a.Cached,
		},
		Performance: performance{
			TotalTimeSeconds:          a.Timings.Total.Seconds(),
			SearchTimeSeconds:         a.Timings.Search.Seconds(),
			ClassificationTimeSeconds: a.Timings.Classification.Seconds(),
			KeywordHits:               a.KeywordHits,
			LLMCalls:                  a.LLMCalls,
		},
		DatabaseStats: databaseStats{
			SignalsSaved: a.Persist.Saved,
			SignalsKnown: a.Persist.Known,
		},
	}
	if resp.Metadata.PerSource == nil {
		resp.Metadata.PerSource = map[string]int{}
	}
	if a.Persist.Err != nil {
		resp.DatabaseStats.PersistError = a.Persist.Err.Error()
	}
	for cat, sev := range a.Profile.PerCategory {
		resp.RiskProfile.PerCategory[cat] = sev.String()
	}

	for _, s := range a.Signals {
		resp.Results = append(resp.Results, toResultItem(s))
		switch s.Document.Kind {
		case domain.SourceBOE:
			resp.Metadata.BOEResults++
		case domain.SourceNews:
			resp.Metadata.NewsResults++
		case domain.SourceRSS:
			resp.Metadata.RSSResults++
		case domain.SourceFinancial:
			resp.Metadata.FinancialResults++
		}
		if s.Label.Severity == domain.SeverityHigh {
			resp.Metadata.HighRiskResults++
		}
	}
	resp.Metadata.TotalResults = len(resp.Results)
	return resp
}

func toResultItem(s domain.ClassifiedSignal) resultItem {
	item := resultItem{
		Source:     sourceName(s.Document),
		Title:      s.Document.Title,
		RiskLevel:  s.Label.String(),
		Confidence: s.Confidence,
		URL:        s.Document.URL,
		Summary:    s.Document.BodySnippet,
		Method:     string(s.Method),
	}
	if !s.Document.PublishedAt.IsZero() {
		item.Date = s.Document.PublishedAt.UTC().Format(dateLayout)
	}
	return item
}

// sourceName renders the provider family in the casing clients expect.
func sourceName(d domain.RawDocument) string {
	switch d.Kind {
	case domain.SourceBOE:
		return "BOE"
	case domain.SourceNews:
		return "News"
	case domain.SourceRSS:
		return "RSS"
	case domain.SourceFinancial:
		return "Financial"
	default:
		return string(d.Kind)
	}
}

// toSignal rebuilds a classified signal from a client-supplied result item.
func toSignal(item resultItem) domain.ClassifiedSignal {
	doc := domain.RawDocument{
		Kind:        domain.SourceKind(strings.ToLower(item.Source)),
		Title:       item.Title,
		BodySnippet: item.Summary,
		URL:         item.URL,
	}
	if t, err := time.Parse(dateLayout, item.Date); err == nil {
		doc.PublishedAt = t
	} else if t, err := time.Parse(time.RFC3339, item.Date); err == nil {
		doc.PublishedAt = t
	}
	return domain.ClassifiedSignal{
		Document:   doc,
		Label:      domain.ParseRiskLevel(item.RiskLevel),
		Confidence: item.Confidence,
		Method:     domain.ClassificationMethod(item.Method),
	}
}

func toSourceErrors(errs []domain.FetchError) []sourceError {
	out := make([]sourceError, 0, len(errs))
	for _, e := range errs {
		out = append(out, sourceError{Source: e.Source, Kind: string(e.Kind), Message: e.Message})
	}
	return out
}

func toSummaryResponse(company string, r domain.SummaryResult) summaryResponse {
	fps := make([]string, len(r.SourceFingerprints))
	for i, fp := range r.SourceFingerprints {
		fps[i] = string(fp)
	}
	return summaryResponse{
		CompanyName:        company,
		Text:               r.Text,
		Method:             r.Method,
		AttemptCount:       r.AttemptCount,
		Cached:             r.Cached,
		SourceFingerprints: fps,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
