package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"RiskScanner/internal/aggregator"
	"RiskScanner/internal/classifier"
	"RiskScanner/internal/domain"
	"RiskScanner/internal/infrastructure/parser"
	"RiskScanner/internal/ports"
	"RiskScanner/internal/summary"
)

// ErrInvalidRequest marks caller input that cannot be assessed.
var ErrInvalidRequest = errors.New("invalid request")

// Searcher fans a query out to the source connectors.
type Searcher interface {
	Search(ctx context.Context, req parser.SearchRequest) (parser.SearchOutcome, error)
}

// BatchClassifier labels documents, preserving input order.
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, docs []domain.RawDocument) []domain.ClassifiedSignal
}

// Summarizer produces management summaries.
type Summarizer interface {
	Generate(ctx context.Context, req summary.Request) (domain.SummaryResult, error)
}

// PipelineDeps wires all driven adapters into the assessment pipeline.
type PipelineDeps struct {
	Source          Searcher
	Classifier      BatchClassifier
	Aggregator      *aggregator.Aggregator
	Signals         ports.SignalRepository
	Summarizer      Summarizer
	Notifiers       []ports.Notifier
	Cache           *AssessmentCache
	DefaultDaysBack int
	Logger          *slog.Logger
	Now             func() time.Time
}

// SearchRequest is a caller's assessment query.
type SearchRequest struct {
	CompanyName      string
	DaysBack         int
	IncludeBOE       bool
	IncludeNews      bool
	IncludeRSS       bool
	IncludeFinancial bool
}

// Timings split an assessment's wall time by stage.
type Timings struct {
	Total          time.Duration
	Search         time.Duration
	Classification time.Duration
}

// PersistStats reports what signal persistence did; Err is set when it failed.
type PersistStats struct {
	Saved int
	Known int
	Err   error
}

// Assessment is the full answer for one company.
type Assessment struct {
	CompanyName string
	CompanyID   string
	SearchDate  time.Time
	Window      domain.Window
	DaysBack    int
	// Signals are ordered by publication date, newest first.
	Signals     []domain.ClassifiedSignal
	Profile     domain.CompanyRiskProfile
	Search      parser.SearchOutcome
	Timings     Timings
	KeywordHits int
	LLMCalls    int
	Persist     PersistStats
	// Cached is set when the assessment was served from the result cache.
	Cached bool
}

// Pipeline implements the company risk assessment workflow.
type Pipeline struct {
	source          Searcher
	classifier      BatchClassifier
	aggregator      *aggregator.Aggregator
	signals         ports.SignalRepository
	summarizer      Summarizer
	notifiers       []ports.Notifier
	cache           *AssessmentCache
	defaultDaysBack int
	logger          *slog.Logger
	now             func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	agg := deps.Aggregator
	if agg == nil {
		agg = aggregator.New(now)
	}
	daysBack := deps.DefaultDaysBack
	if daysBack <= 0 {
		daysBack = 7
	}
	return &Pipeline{
		source:          deps.Source,
		classifier:      deps.Classifier,
		aggregator:      agg,
		signals:         deps.Signals,
		summarizer:      deps.Summarizer,
		notifiers:       deps.Notifiers,
		cache:           deps.Cache,
		defaultDaysBack: daysBack,
		logger:          deps.Logger,
		now:             now,
	}
}

// Assess searches, classifies, aggregates and persists signals for one
// company. Persistence failures are reported in the result, not returned.
func (p *Pipeline) Assess(ctx context.Context, req SearchRequest) (Assessment, error) {
	started := p.now()

	company := strings.TrimSpace(req.CompanyName)
	if company == "" {
		return Assessment{}, fmt.Errorf("%w: company name is required", ErrInvalidRequest)
	}
	if req.DaysBack < 0 {
		return Assessment{}, fmt.Errorf("%w: days back must not be negative", ErrInvalidRequest)
	}
	daysBack := req.DaysBack
	if daysBack == 0 {
		daysBack = p.defaultDaysBack
	}

	var kinds []domain.SourceKind
	if req.IncludeBOE {
		kinds = append(kinds, domain.SourceBOE)
	}
	if req.IncludeNews {
		kinds = append(kinds, domain.SourceNews)
	}
	if req.IncludeRSS {
		kinds = append(kinds, domain.SourceRSS)
	}
	if req.IncludeFinancial {
		kinds = append(kinds, domain.SourceFinancial)
	}
	if len(kinds) == 0 {
		return Assessment{}, domain.ErrNoSources
	}
	if p.source == nil || p.classifier == nil {
		return Assessment{}, fmt.Errorf("pipeline misconfigured")
	}

	key := cacheKey(domain.CompanyID(company), daysBack, kinds)
	if cached, ok := p.cache.get(key); ok {
		p.debug("assessment served from cache", "company", company, "key", key)
		cached.Cached = true
		return cached, nil
	}

	result := Assessment{
		CompanyName: company,
		CompanyID:   domain.CompanyID(company),
		SearchDate:  started.UTC(),
		Window:      domain.WindowFromDaysBack(started, daysBack),
		DaysBack:    daysBack,
	}

	outcome, err := p.source.Search(ctx, parser.SearchRequest{Company: company, Window: result.Window, Kinds: kinds})
	if err != nil {
		return Assessment{}, fmt.Errorf("search %s: %w", company, err)
	}
	result.Search = outcome
	result.Timings.Search = outcome.Duration

	classifyStarted := p.now()
	result.Signals = p.classifier.ClassifyBatch(ctx, outcome.Documents)
	result.Timings.Classification = p.now().Sub(classifyStarted)
	result.KeywordHits, result.LLMCalls = classifier.Tally(result.Signals)

	sortNewestFirst(result.Signals)
	result.Profile = p.aggregator.Aggregate(result.CompanyID, result.Signals)
	result.Persist = p.persist(ctx, result.CompanyID, result.Signals)
	result.Timings.Total = p.now().Sub(started)
	if len(outcome.Errors) == 0 {
		p.cache.put(key, result)
	}

	p.info("assessment finished",
		"company", company,
		"documents", len(result.Signals),
		"overall", result.Profile.Overall,
		"traffic_light", result.Profile.TrafficLight,
		"errors", len(outcome.Errors),
	)
	return result, nil
}

// Summarize produces a management summary for previously classified signals.
func (p *Pipeline) Summarize(ctx context.Context, req summary.Request) (domain.SummaryResult, error) {
	if strings.TrimSpace(req.CompanyName) == "" {
		return domain.SummaryResult{}, fmt.Errorf("%w: company name is required", ErrInvalidRequest)
	}
	if req.PriorAttempts < 0 {
		return domain.SummaryResult{}, fmt.Errorf("%w: attempt count must not be negative", ErrInvalidRequest)
	}
	if p.summarizer == nil {
		return domain.SummaryResult{}, domain.ErrGeneratorUnavailable
	}
	return p.summarizer.Generate(ctx, req)
}

// Watch assesses every company on all sources and notifies when the traffic
// light is red or orange. It returns the assessments that completed.
func (p *Pipeline) Watch(ctx context.Context, companies []string, daysBack int) ([]Assessment, error) {
	var (
		done []Assessment
		errs []error
	)
	for _, company := range companies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		a, err := p.Assess(ctx, SearchRequest{
			CompanyName:      company,
			DaysBack:         daysBack,
			IncludeBOE:       true,
			IncludeNews:      true,
			IncludeRSS:       true,
			IncludeFinancial: true,
		})
		if err != nil {
			p.warn("watchlist assessment failed", "company", company, "err", err)
			errs = append(errs, fmt.Errorf("assess %s: %w", company, err))
			continue
		}
		done = append(done, a)

		if a.Profile.TrafficLight == domain.LightGreen {
			continue
		}
		subject, message := buildAlert(a)
		for _, n := range p.notifiers {
			if err := n.Notify(ctx, subject, message); err != nil {
				p.warn("notify failed", "company", company, "err", err)
				errs = append(errs, fmt.Errorf("notify %s: %w", company, err))
			}
		}
	}
	return done, errors.Join(errs...)
}

func (p *Pipeline) persist(ctx context.Context, companyID string, signals []domain.ClassifiedSignal) PersistStats {
	var stats PersistStats
	if p.signals == nil || len(signals) == 0 {
		return stats
	}

	keys := make([]string, len(signals))
	for i, s := range signals {
		keys[i] = s.Document.Key()
	}
	known, err := p.signals.KnownSignals(ctx, companyID, keys)
	if err != nil {
		stats.Err = fmt.Errorf("load known signals: %w", err)
		p.warn("signal persistence failed", "company", companyID, "err", stats.Err)
		return stats
	}
	stats.Known = len(known)

	saved, err := p.signals.SaveSignals(ctx, companyID, signals)
	if err != nil {
		stats.Err = fmt.Errorf("save signals: %w", err)
		p.warn("signal persistence failed", "company", companyID, "err", stats.Err)
		return stats
	}
	stats.Saved = saved
	return stats
}

func sortNewestFirst(signals []domain.ClassifiedSignal) {
	sort.SliceStable(signals, func(i, j int) bool {
		a, b := signals[i].Document, signals[j].Document
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.URL < b.URL
	})
}

func buildAlert(a Assessment) (string, string) {
	subject := fmt.Sprintf("Riesgo %s: %s", a.Profile.TrafficLight, a.CompanyName)

	var b strings.Builder
	fmt.Fprintf(&b, "Riesgo global %s en los últimos %d días (%d documentos).\n\n", a.Profile.Overall, a.DaysBack, len(a.Signals))
	for _, cat := range domain.Categories {
		ev, ok := a.Profile.Evidence[cat]
		if !ok || ev.Label.Severity < domain.SeverityMedium {
			continue
		}
		fmt.Fprintf(&b, "- %s\n%s (%.2f)\n%s\n\n", ev.Document.Title, ev.Label, ev.Confidence, ev.Document.URL)
	}
	return subject, b.String()
}

func (p *Pipeline) info(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) debug(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
