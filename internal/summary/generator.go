package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"RiskScanner/internal/aggregator"
	"RiskScanner/internal/domain"
	"RiskScanner/internal/embedcache"
	"RiskScanner/internal/metrics"
	"RiskScanner/internal/ports"
)

const (
	// MaxAttempts bounds model calls across all requests for one summary.
	MaxAttempts = 3

	defaultBaseBackoff = 500 * time.Millisecond
	defaultTopK        = 8

	MethodModel    = "model"
	MethodTemplate = "template"
)

// Options tunes retries and retrieval.
type Options struct {
	MaxAttempts int
	BaseBackoff time.Duration
	TopK        int
}

// Request asks for a management summary of classified signals.
// PriorAttempts carries the attempts already spent by earlier requests.
type Request struct {
	CompanyName   string
	Signals       []domain.ClassifiedSignal
	PriorAttempts int
}

// Generator produces grounded management summaries.
type Generator struct {
	model   ports.Generator
	cache   *embedcache.Cache
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	results map[string]domain.SummaryResult
}

// New builds a generator. model may be nil, in which case summaries are
// rendered from a template. cache may be nil or lack an embedder, in which
// case retrieval falls back to the strongest signals.
func New(model ports.Generator, cache *embedcache.Cache, opts Options, m *metrics.Metrics, log *slog.Logger) *Generator {
	if opts.MaxAttempts <= 0 || opts.MaxAttempts > MaxAttempts {
		opts.MaxAttempts = MaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaultBaseBackoff
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	return &Generator{
		model:   model,
		cache:   cache,
		opts:    opts,
		metrics: m,
		logger:  log,
		now:     time.Now,
		sleep:   sleepContext,
		results: map[string]domain.SummaryResult{},
	}
}

// Generate runs the summary state machine for req.
func (g *Generator) Generate(ctx context.Context, req Request) (domain.SummaryResult, error) {
	companyID := domain.CompanyID(req.CompanyName)
	fingerprints := sourceFingerprints(companyID, req.Signals)
	key := companyID + "\x00" + joinFingerprints(fingerprints)

	if cached, ok := g.cached(key); ok {
		g.transition(companyID, domain.SummaryIdle, domain.SummarySucceeded, "cached", true)
		cached.Cached = true
		return cached, nil
	}

	result := domain.SummaryResult{
		CompanyID:          companyID,
		SourceFingerprints: fingerprints,
		AttemptCount:       req.PriorAttempts,
		State:              domain.SummaryIdle,
	}

	if req.PriorAttempts >= g.opts.MaxAttempts {
		result.State = domain.SummaryFailedTerminal
		g.transition(companyID, domain.SummaryIdle, result.State, "attempts", req.PriorAttempts)
		return result, &domain.SummaryError{
			Attempts:          req.PriorAttempts,
			MaxRetriesReached: true,
			Err:               fmt.Errorf("%d attempts already spent", req.PriorAttempts),
		}
	}

	if g.model == nil {
		result.Text = renderTemplate(req.CompanyName, aggregator.New(g.now).Aggregate(companyID, req.Signals))
		result.Evidence = fingerprints
		result.Method = MethodTemplate
		result.State = domain.SummarySucceeded
		result.GeneratedAt = g.now().UTC()
		g.store(key, result)
		g.transition(companyID, domain.SummaryIdle, result.State, "method", MethodTemplate)
		return result, nil
	}

	g.transition(companyID, domain.SummaryIdle, domain.SummaryRetrieving)
	evidence := g.retrieve(ctx, companyID, req)
	for _, s := range evidence {
		result.Evidence = append(result.Evidence, s.Fingerprint(companyID))
	}
	prompt := buildPrompt(req.CompanyName, evidence)

	g.transition(companyID, domain.SummaryRetrieving, domain.SummaryGenerating, "evidence", len(evidence))
	backoff := g.opts.BaseBackoff
	var lastErr error
	for attempt := req.PriorAttempts + 1; attempt <= g.opts.MaxAttempts; attempt++ {
		result.AttemptCount = attempt
		text, err := g.model.Generate(ctx, "", prompt)
		if err == nil && strings.TrimSpace(text) != "" {
			g.metrics.SummaryAttempt("succeeded")
			result.Text = strings.TrimSpace(text)
			result.Method = MethodModel
			result.State = domain.SummarySucceeded
			result.GeneratedAt = g.now().UTC()
			g.store(key, result)
			g.transition(companyID, domain.SummaryGenerating, result.State, "attempt", attempt)
			return result, nil
		}
		if err == nil {
			err = domain.Transient(errors.New("empty summary"))
		}
		lastErr = err

		if !domain.IsTransient(err) {
			g.metrics.SummaryAttempt("terminal")
			result.State = domain.SummaryFailedTerminal
			g.transition(companyID, domain.SummaryGenerating, result.State, "attempt", attempt, "err", err)
			return result, &domain.SummaryError{Attempts: attempt, Err: err}
		}

		g.metrics.SummaryAttempt("retryable")
		if attempt == g.opts.MaxAttempts {
			break
		}
		g.transition(companyID, domain.SummaryGenerating, domain.SummaryFailedRetryable, "attempt", attempt, "backoff", backoff, "err", err)
		if err := g.sleep(ctx, backoff); err != nil {
			result.State = domain.SummaryFailedRetryable
			return result, &domain.SummaryError{Attempts: attempt, Retryable: true, Err: fmt.Errorf("%w (interrupted: %v)", lastErr, err)}
		}
		backoff *= 2
	}

	result.State = domain.SummaryFailedTerminal
	g.transition(companyID, domain.SummaryGenerating, result.State, "attempt", result.AttemptCount, "err", lastErr)
	return result, &domain.SummaryError{Attempts: result.AttemptCount, MaxRetriesReached: true, Err: lastErr}
}

// retrieve picks the grounding evidence. Embedding failures degrade to the
// strongest signals instead of failing the summary.
func (g *Generator) retrieve(ctx context.Context, companyID string, req Request) []domain.ClassifiedSignal {
	if g.cache == nil || !g.cache.HasEmbedder() || len(req.Signals) == 0 {
		return strongest(req.Signals, g.opts.TopK)
	}

	byFingerprint := make(map[domain.Fingerprint]domain.ClassifiedSignal, len(req.Signals))
	fps := make([]domain.Fingerprint, 0, len(req.Signals))
	for _, s := range req.Signals {
		fp := s.Fingerprint(companyID)
		if _, dup := byFingerprint[fp]; !dup {
			fps = append(fps, fp)
		}
		byFingerprint[fp] = s
		meta := domain.EmbeddingMetadata{
			Kind:        domain.RecordDocument,
			Title:       s.Document.Title,
			URL:         s.Document.URL,
			Source:      string(s.Document.Kind),
			RiskLevel:   s.Label.String(),
			Confidence:  s.Confidence,
			Snippet:     s.Document.BodySnippet,
			PublishedAt: s.Document.PublishedAt,
		}
		if _, err := g.cache.EmbedText(ctx, fp, companyID, meta, s.Document.Text()); err != nil {
			g.debug("embed signal failed, using strongest signals", "company", companyID, "err", err)
			return strongest(req.Signals, g.opts.TopK)
		}
	}

	query, err := g.cache.EmbedQuery(ctx, companyID, retrievalQuery(req.CompanyName))
	if err != nil {
		g.debug("embed query failed, using strongest signals", "company", companyID, "err", err)
		return strongest(req.Signals, g.opts.TopK)
	}
	// Older records of the company stay in the store; only this request's
	// signals are ranked.
	hits, err := g.cache.NearestIn(ctx, companyID, query, fps, g.opts.TopK)
	if err != nil {
		g.debug("nearest lookup failed, using strongest signals", "company", companyID, "err", err)
		return strongest(req.Signals, g.opts.TopK)
	}

	evidence := make([]domain.ClassifiedSignal, 0, len(hits))
	for _, hit := range hits {
		if s, ok := byFingerprint[hit.Record.Fingerprint]; ok {
			evidence = append(evidence, s)
		}
	}
	if len(evidence) == 0 {
		return strongest(req.Signals, g.opts.TopK)
	}
	return evidence
}

func (g *Generator) cached(key string) (domain.SummaryResult, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.results[key]
	return r, ok
}

func (g *Generator) store(key string, r domain.SummaryResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[key] = r
}

func (g *Generator) transition(companyID string, from, to domain.SummaryState, args ...interface{}) {
	if g.logger == nil {
		return
	}
	g.logger.Info("summary state", append([]interface{}{"company", companyID, "from", from, "to", to}, args...)...)
}

func (g *Generator) debug(msg string, args ...interface{}) {
	if g.logger != nil {
		g.logger.Debug(msg, args...)
	}
}

func sourceFingerprints(companyID string, signals []domain.ClassifiedSignal) []domain.Fingerprint {
	seen := make(map[domain.Fingerprint]struct{}, len(signals))
	out := make([]domain.Fingerprint, 0, len(signals))
	for _, s := range signals {
		fp := s.Fingerprint(companyID)
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func joinFingerprints(fps []domain.Fingerprint) string {
	parts := make([]string, len(fps))
	for i, fp := range fps {
		parts[i] = string(fp)
	}
	return strings.Join(parts, ",")
}

// strongest orders by severity, confidence, then recency and keeps k.
func strongest(signals []domain.ClassifiedSignal, k int) []domain.ClassifiedSignal {
	out := append([]domain.ClassifiedSignal(nil), signals...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Label.Severity != b.Label.Severity {
			return a.Label.Severity > b.Label.Severity
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Document.PublishedAt.After(b.Document.PublishedAt)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func retrievalQuery(company string) string {
	return "riesgos legales, financieros, regulatorios y fiscales de " + company
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
