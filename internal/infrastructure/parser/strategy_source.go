package parser

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"RiskScanner/internal/domain"
	"RiskScanner/internal/metrics"
	"RiskScanner/internal/scanner"
)

const (
	defaultSearchTimeout    = 20 * time.Second
	defaultConnectorTimeout = 15 * time.Second
)

// SearchRequest selects the company, window and source families to query.
type SearchRequest struct {
	Company string
	Window  domain.Window
	Kinds   []domain.SourceKind
}

// SearchOutcome is the merged result of one fan-out.
type SearchOutcome struct {
	Documents []domain.RawDocument
	// PerSource counts documents per connector that completed.
	PerSource map[string]int
	// SourcesSearched lists the connectors that completed without error.
	SourcesSearched []string
	Errors          []domain.FetchError
	Duration        time.Duration
}

// StrategySource fans a search out to every selected connector concurrently.
type StrategySource struct {
	registry *scanner.Registry
	limiters map[string]*rate.Limiter
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewStrategySource builds one limiter per registered connector from its
// declared limits. timeout bounds a whole search.
func NewStrategySource(reg *scanner.Registry, timeout time.Duration, m *metrics.Metrics, log *slog.Logger) *StrategySource {
	if timeout <= 0 {
		timeout = defaultSearchTimeout
	}
	if reg == nil {
		reg = scanner.NewRegistry()
	}
	limiters := make(map[string]*rate.Limiter)
	for _, name := range reg.Names() {
		c, _ := reg.Resolve(name)
		limiters[name] = newLimiter(c.Limits())
	}
	return &StrategySource{
		registry: reg,
		limiters: limiters,
		timeout:  timeout,
		metrics:  m,
		logger:   log,
	}
}

func newLimiter(l scanner.Limits) *rate.Limiter {
	if l.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := l.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(l.RequestsPerSecond), burst)
}

type sourceResult struct {
	name     string
	docs     []domain.RawDocument
	err      error
	duration time.Duration
}

// Search queries the selected connectors. It returns *domain.SearchError when
// every selected connector failed, and domain.ErrNoSources when none matched.
func (s *StrategySource) Search(ctx context.Context, req SearchRequest) (SearchOutcome, error) {
	started := time.Now()
	connectors := s.selectConnectors(req.Kinds)
	if len(connectors) == 0 {
		return SearchOutcome{}, domain.ErrNoSources
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.debug("search fan-out", "company", req.Company, "sources", len(connectors),
		"start", req.Window.Start.Format("2006-01-02"), "end", req.Window.End.Format("2006-01-02"))

	// Buffered so late connectors never block after the collector has left.
	results := make(chan sourceResult, len(connectors))
	scanReq := scanner.Request{Company: req.Company, Window: req.Window}
	for _, c := range connectors {
		go s.run(ctx, c, scanReq, results)
	}

	collected := make(map[string]sourceResult, len(connectors))
collect:
	for len(collected) < len(connectors) {
		select {
		case r := <-results:
			collected[r.name] = r
		case <-ctx.Done():
			break collect
		}
	}

	outcome := SearchOutcome{PerSource: map[string]int{}}
	seen := map[string]struct{}{}
	for _, c := range connectors {
		name := c.Name()
		r, ok := collected[name]
		if !ok {
			s.metrics.ObserveFetch(name, string(domain.FetchTimeout), time.Since(started))
			outcome.Errors = append(outcome.Errors, domain.FetchError{
				Source:  name,
				Kind:    domain.FetchTimeout,
				Message: "no response before search deadline",
			})
			continue
		}
		if r.err != nil {
			fe := toFetchError(name, r.err)
			s.metrics.ObserveFetch(name, string(fe.Kind), r.duration)
			if s.logger != nil {
				s.logger.Warn("source failed", "source", name, "kind", fe.Kind, "err", r.err)
			}
			outcome.Errors = append(outcome.Errors, fe)
			continue
		}

		s.metrics.ObserveFetch(name, "ok", r.duration)
		outcome.SourcesSearched = append(outcome.SourcesSearched, name)
		count := 0
		for _, doc := range r.docs {
			if !req.Window.Contains(doc.PublishedAt) {
				continue
			}
			if doc.URL != "" {
				if _, dup := seen[doc.URL]; dup {
					continue
				}
				seen[doc.URL] = struct{}{}
			}
			outcome.Documents = append(outcome.Documents, doc)
			count++
		}
		outcome.PerSource[name] = count
	}
	outcome.Duration = time.Since(started)

	s.debug("search done", "company", req.Company, "documents", len(outcome.Documents),
		"searched", len(outcome.SourcesSearched), "errors", len(outcome.Errors))

	if len(outcome.SourcesSearched) == 0 {
		return outcome, &domain.SearchError{Errors: outcome.Errors}
	}
	return outcome, nil
}

// run waits for the connector's rate budget on the caller context, then
// fetches under a context detached from it and bounded by the connector
// timeout.
func (s *StrategySource) run(ctx context.Context, c scanner.Connector, req scanner.Request, out chan<- sourceResult) {
	started := time.Now()
	name := c.Name()

	if lim := s.limiters[name]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			out <- sourceResult{name: name, err: errors.Join(ErrRateLimited, err), duration: time.Since(started)}
			return
		}
	}

	timeout := c.Limits().Timeout
	if timeout <= 0 {
		timeout = defaultConnectorTimeout
	}
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	docs, err := c.Fetch(fetchCtx, req)
	out <- sourceResult{name: name, docs: docs, err: err, duration: time.Since(started)}
}

func (s *StrategySource) selectConnectors(kinds []domain.SourceKind) []scanner.Connector {
	var out []scanner.Connector
	picked := map[domain.SourceKind]bool{}
	for _, kind := range kinds {
		if picked[kind] {
			continue
		}
		picked[kind] = true
		out = append(out, s.registry.ByKind(kind)...)
	}
	return out
}

func toFetchError(source string, err error) domain.FetchError {
	kind := domain.FetchUnavailable
	switch {
	case errors.Is(err, ErrRateLimited):
		kind = domain.FetchRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		kind = domain.FetchTimeout
	}
	return domain.FetchError{Source: source, Kind: kind, Message: err.Error()}
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
