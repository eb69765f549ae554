package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"RiskScanner/internal/domain"
	"RiskScanner/internal/metrics"
	"RiskScanner/internal/ports"
)

const (
	confidenceSection = 0.95
	confidenceHigh    = 0.92
	confidenceMedium  = 0.87
	confidenceLow     = 0.82
	confidenceBenign  = 0.90
	confidenceWeak    = 0.40
	confidenceShort   = 0.85

	ambiguityFactor = 0.6
	conflictFactor  = 0.8
	shortTextRunes  = 100

	defaultThreshold       = 0.6
	defaultStrongMatch     = 0.8
	defaultWorkers         = 8
	defaultFallbackTimeout = 15 * time.Second
)

var baseConfidence = map[domain.Severity]float64{
	domain.SeverityHigh:   confidenceHigh,
	domain.SeverityMedium: confidenceMedium,
	domain.SeverityLow:    confidenceLow,
}

// Options tunes escalation and parallelism.
type Options struct {
	// Threshold is the confidence below which the fallback is consulted.
	Threshold float64
	// StrongMatch is the rule confidence that wins a disagreement.
	StrongMatch     float64
	Workers         int
	FallbackTimeout time.Duration
}

// Stats are cumulative counters since construction.
type Stats struct {
	Total             int64 `json:"total_classifications"`
	KeywordHits       int64 `json:"keyword_hits"`
	FallbackCalls     int64 `json:"llm_calls"`
	FallbackCacheHits int64 `json:"llm_cache_hits"`
	Conflicts         int64 `json:"conflicts"`
	FallbackFailures  int64 `json:"fallback_failures"`
}

type fallbackResult struct {
	label      domain.RiskLabel
	confidence float64
}

// Classifier runs the keyword rule pass and escalates low-confidence
// documents to an optional generative fallback.
type Classifier struct {
	taxonomy *Taxonomy
	fallback ports.RiskClassifier
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger

	flights singleflight.Group
	mu      sync.RWMutex
	memo    map[string]fallbackResult

	total, keywordHits, fallbackCalls, cacheHits, conflicts, failures atomic.Int64
}

// New wires a classifier; a nil taxonomy selects DefaultTaxonomy and a nil
// fallback disables escalation.
func New(tax *Taxonomy, fallback ports.RiskClassifier, opts Options, m *metrics.Metrics, log *slog.Logger) *Classifier {
	if tax == nil {
		tax = DefaultTaxonomy()
	}
	if opts.Threshold <= 0 {
		opts.Threshold = defaultThreshold
	}
	if opts.StrongMatch <= 0 {
		opts.StrongMatch = defaultStrongMatch
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.FallbackTimeout <= 0 {
		opts.FallbackTimeout = defaultFallbackTimeout
	}
	return &Classifier{
		taxonomy: tax,
		fallback: fallback,
		opts:     opts,
		metrics:  m,
		logger:   log,
		memo:     map[string]fallbackResult{},
	}
}

// Classify labels one document. It never fails: fallback errors resolve to
// the unknown label before combination.
func (c *Classifier) Classify(ctx context.Context, doc domain.RawDocument) domain.ClassifiedSignal {
	c.total.Add(1)
	sig, base := c.ruleSignal(doc)

	if sig.Method == domain.MethodEmpty || sig.Confidence >= c.opts.Threshold || c.fallback == nil {
		c.keywordHits.Add(1)
		c.metrics.Classified(string(sig.Method))
		return sig
	}

	fb, err := c.consultFallback(ctx, doc)
	out := c.combine(sig, base, fb, err)
	c.metrics.Classified(string(out.Method))
	c.debug("classified with fallback", "url", doc.URL, "rule", sig.Label.String(), "final", out.Label.String(), "method", out.Method)
	return out
}

// ClassifyBatch classifies in parallel and preserves input order.
func (c *Classifier) ClassifyBatch(ctx context.Context, docs []domain.RawDocument) []domain.ClassifiedSignal {
	out := make([]domain.ClassifiedSignal, len(docs))
	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for i := range docs {
		g.Go(func() error {
			out[i] = c.Classify(ctx, docs[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Stats returns a snapshot of the counters.
func (c *Classifier) Stats() Stats {
	return Stats{
		Total:             c.total.Load(),
		KeywordHits:       c.keywordHits.Load(),
		FallbackCalls:     c.fallbackCalls.Load(),
		FallbackCacheHits: c.cacheHits.Load(),
		Conflicts:         c.conflicts.Load(),
		FallbackFailures:  c.failures.Load(),
	}
}

// Tally counts how signals were decided, for per-request reporting.
func Tally(signals []domain.ClassifiedSignal) (keywordHits, escalated int) {
	for _, s := range signals {
		switch s.Method {
		case domain.MethodHybridLLM, domain.MethodHybridAgreement, domain.MethodHybridConflict, domain.MethodFallbackFailed:
			escalated++
		default:
			keywordHits++
		}
	}
	return keywordHits, escalated
}

// ruleSignal runs the keyword pass. base is the rule confidence before any
// ambiguity penalty.
func (c *Classifier) ruleSignal(doc domain.RawDocument) (sig domain.ClassifiedSignal, base float64) {
	text := doc.Text()
	sig = domain.ClassifiedSignal{Document: doc, Label: domain.UnknownLabel}
	if text == "" {
		sig.Method = domain.MethodEmpty
		sig.Reason = "empty document"
		return sig, sig.Confidence
	}

	if code, ok := c.taxonomy.highRiskSection(doc.Section); ok {
		sig.Label = label(domain.SeverityHigh, domain.CategoryLegal)
		sig.Confidence = confidenceSection
		sig.Method = domain.MethodKeywordSection
		sig.Reason = "high-risk section: " + code
		return sig, sig.Confidence
	}

	lower := strings.ToLower(text)
	matches := c.taxonomy.matchRules(lower)
	benign, hasBenign := c.taxonomy.firstMatch(lower, c.taxonomy.benign)

	if len(matches) > 0 {
		best, competing := pickMatch(matches)
		sig.Label = best.label
		sig.Confidence = baseConfidence[best.label.Severity]
		sig.Method = domain.MethodKeyword
		sig.Reason = fmt.Sprintf("%s keyword: %s", best.label, best.term)
		base = sig.Confidence
		if hasBenign || competing {
			sig.Confidence *= ambiguityFactor
			if hasBenign {
				sig.Reason += "; ambiguous with benign term: " + benign
			} else {
				sig.Reason += "; ambiguous between categories"
			}
		}
		return sig, base
	}

	if hasBenign {
		sig.Label = label(domain.SeverityLow, domain.CategoryOther)
		sig.Confidence = confidenceBenign
		sig.Method = domain.MethodKeywordBenign
		sig.Reason = "non-risk content: " + benign
		return sig, sig.Confidence
	}

	if term, ok := c.taxonomy.firstMatch(lower, c.taxonomy.weak); ok {
		sig.Label = label(domain.SeverityLow, domain.CategoryLegal)
		sig.Confidence = confidenceWeak
		sig.Method = domain.MethodKeywordWeak
		sig.Reason = "weak legal indicator: " + term
		return sig, sig.Confidence
	}

	if utf8.RuneCountInString(text) < shortTextRunes {
		sig.Label = label(domain.SeverityLow, domain.CategoryOther)
		sig.Confidence = confidenceShort
		sig.Method = domain.MethodKeywordShort
		sig.Reason = "short text without risk indicators"
		return sig, sig.Confidence
	}

	sig.Method = domain.MethodNoMatch
	sig.Reason = "no taxonomy match"
	return sig, 0
}

// pickMatch returns the highest-severity match; the category order breaks
// ties. competing is set when another category matched at the same severity.
func pickMatch(matches []ruleMatch) (ruleMatch, bool) {
	best := matches[0]
	for _, m := range matches[1:] {
		if m.label.Severity > best.label.Severity ||
			(m.label.Severity == best.label.Severity && categoryRank(m.label.Category) < categoryRank(best.label.Category)) {
			best = m
		}
	}
	competing := false
	for _, m := range matches {
		if m.label.Severity == best.label.Severity && m.label.Category != best.label.Category {
			competing = true
			break
		}
	}
	return best, competing
}

func categoryRank(cat domain.Category) int {
	for i, c := range domain.Categories {
		if c == cat {
			return i
		}
	}
	return len(domain.Categories)
}

func (c *Classifier) consultFallback(ctx context.Context, doc domain.RawDocument) (fallbackResult, error) {
	key := memoKey(c.fallback.ModelVersion(), doc.Text())

	c.mu.RLock()
	cached, ok := c.memo[key]
	c.mu.RUnlock()
	if ok {
		c.cacheHits.Add(1)
		c.metrics.FallbackCall("cached")
		return cached, nil
	}

	v, err, _ := c.flights.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		cached, ok := c.memo[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		c.fallbackCalls.Add(1)
		callCtx, cancel := context.WithTimeout(ctx, c.opts.FallbackTimeout)
		defer cancel()

		lbl, conf, err := c.fallback.ClassifyRisk(callCtx, doc)
		if err != nil {
			c.metrics.FallbackCall("error")
			return nil, err
		}
		c.metrics.FallbackCall("ok")
		res := fallbackResult{label: lbl, confidence: clamp(conf)}
		if res.label.IsUnknown() {
			res.label = domain.UnknownLabel
		}

		c.mu.Lock()
		c.memo[key] = res
		c.mu.Unlock()
		return res, nil
	})
	if err != nil {
		c.failures.Add(1)
		if c.logger != nil {
			c.logger.Warn("fallback classification failed", "url", doc.URL, "err", err)
		}
		return fallbackResult{label: domain.UnknownLabel}, fmt.Errorf("%w: %w", domain.ErrClassificationAmbiguous, err)
	}
	return v.(fallbackResult), nil
}

// combine merges the rule result with the fallback verdict. A rule whose
// base confidence reaches StrongMatch keeps its label on disagreement.
func (c *Classifier) combine(rule domain.ClassifiedSignal, base float64, fb fallbackResult, fbErr error) domain.ClassifiedSignal {
	out := rule
	switch {
	case base >= c.opts.StrongMatch && fb.label != rule.Label:
		c.conflicts.Add(1)
		out.Confidence = rule.Confidence * conflictFactor
		out.Method = domain.MethodHybridConflict
		out.Reason = fmt.Sprintf("%s; fallback disagreed with %s", rule.Reason, fb.label)
	case fb.label == rule.Label:
		out.Confidence = max(rule.Confidence, fb.confidence)
		out.Method = domain.MethodHybridAgreement
		out.Reason = fmt.Sprintf("%s; fallback agreed", rule.Reason)
	default:
		out.Label = fb.label
		out.Confidence = fb.confidence
		out.Method = domain.MethodHybridLLM
		out.Reason = fmt.Sprintf("fallback classified as %s (rule: %s)", fb.label, rule.Label)
	}
	if fbErr != nil {
		out.Method = domain.MethodFallbackFailed
		out.Reason = fmt.Sprintf("%s; %v", out.Reason, fbErr)
	}
	out.Confidence = clamp(out.Confidence)
	return out
}

func memoKey(modelVersion, text string) string {
	sum := sha256.Sum256([]byte(text))
	return modelVersion + "\x00" + hex.EncodeToString(sum[:])
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func (c *Classifier) debug(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
