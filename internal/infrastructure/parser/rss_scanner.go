package parser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"RiskScanner/internal/domain"
	"RiskScanner/internal/scanner"
)

const maxFeedBytes = 8 << 20

// Feed is one configured RSS or Atom endpoint.
type Feed struct {
	Name     string
	Category string
	URL      string
}

// RSSScanner reads a single news feed and keeps entries mentioning the company.
type RSSScanner struct {
	client *http.Client
	feed   Feed
	limits scanner.Limits
	logger *slog.Logger
}

// NewRSSScanner wires an HTTP client for one feed.
func NewRSSScanner(client *http.Client, feed Feed, limits scanner.Limits, log *slog.Logger) *RSSScanner {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RSSScanner{client: client, feed: feed, limits: limits, logger: log}
}

// Name identifies the strategy inside the registry: rss-<feed>[-<category>].
func (r *RSSScanner) Name() string {
	if r.feed.Category == "" {
		return "rss-" + r.feed.Name
	}
	return fmt.Sprintf("rss-%s-%s", r.feed.Name, r.feed.Category)
}

// Kind reports the provider family.
func (r *RSSScanner) Kind() domain.SourceKind { return domain.SourceRSS }

// Limits returns the declared request budget.
func (r *RSSScanner) Limits() scanner.Limits { return r.limits }

// Fetch downloads the feed and filters entries by company and window.
func (r *RSSScanner) Fetch(ctx context.Context, req scanner.Request) ([]domain.RawDocument, error) {
	terms := queryTerms(req.Company)
	if len(terms) == 0 {
		return nil, fmt.Errorf("%s: empty company name", r.Name())
	}

	resp, err := get(ctx, r.client, r.feed.URL, "application/rss+xml, application/atom+xml, application/xml, text/xml", nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Name(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read feed: %w", r.Name(), err)
	}

	entries, err := parseFeed(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Name(), err)
	}

	docs := make([]domain.RawDocument, 0)
	for _, e := range entries {
		if !req.Window.Contains(e.Published) {
			continue
		}
		description := stripHTML(e.Description)
		if !mentions(e.Title+" "+description, terms) {
			continue
		}
		docs = append(docs, domain.RawDocument{
			SourceID:    r.Name() + ":" + e.GUID,
			Kind:        domain.SourceRSS,
			PublishedAt: e.Published,
			Title:       collapse(e.Title),
			BodySnippet: truncate(description, snippetLength),
			URL:         e.Link,
			Section:     r.feed.Category,
		})
	}

	if r.logger != nil {
		r.logger.Debug("rss fetch done", "feed", r.Name(), "entries", len(entries), "documents", len(docs))
	}
	return docs, nil
}

// queryTerms returns the full company name plus its words of six letters or
// more, so "Banco Santander" also matches headlines that only say "Santander".
func queryTerms(company string) []string {
	company = collapse(company)
	if company == "" {
		return nil
	}
	terms := []string{company}
	for _, word := range strings.Fields(company) {
		if len([]rune(word)) >= 6 && !strings.EqualFold(word, company) {
			terms = append(terms, word)
		}
	}
	return terms
}

func mentions(text string, terms []string) bool {
	for _, term := range terms {
		if containsFold(text, term) {
			return true
		}
	}
	return false
}
