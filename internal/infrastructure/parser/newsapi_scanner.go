package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"RiskScanner/internal/domain"
	"RiskScanner/internal/scanner"
)

const (
	newsAPIBaseURL     = "https://newsapi.org/v2"
	newsAPIMaxDaysBack = 30
	newsAPIMaxPageSize = 100
)

// NewsAPIOptions tunes the newsapi.org connector.
type NewsAPIOptions struct {
	BaseURL     string
	APIKey      string
	Language    string
	PageSize    int
	MaxDaysBack int
	Limits      scanner.Limits
}

// NewsAPIScanner queries the newsapi.org "everything" endpoint.
type NewsAPIScanner struct {
	client *http.Client
	opts   NewsAPIOptions
	now    func() time.Time
	logger *slog.Logger
}

// NewNewsAPIScanner applies option defaults.
func NewNewsAPIScanner(client *http.Client, opts NewsAPIOptions, log *slog.Logger) *NewsAPIScanner {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = newsAPIBaseURL
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	if opts.Language == "" {
		opts.Language = "es"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.PageSize > newsAPIMaxPageSize {
		opts.PageSize = newsAPIMaxPageSize
	}
	if opts.MaxDaysBack <= 0 {
		opts.MaxDaysBack = newsAPIMaxDaysBack
	}
	return &NewsAPIScanner{client: client, opts: opts, now: time.Now, logger: log}
}

// Name identifies the strategy inside the registry.
func (n *NewsAPIScanner) Name() string { return "newsapi" }

// Kind reports the provider family.
func (n *NewsAPIScanner) Kind() domain.SourceKind { return domain.SourceNews }

// Limits returns the declared request budget.
func (n *NewsAPIScanner) Limits() scanner.Limits { return n.opts.Limits }

// Fetch returns the articles mentioning the company inside the window.
func (n *NewsAPIScanner) Fetch(ctx context.Context, req scanner.Request) ([]domain.RawDocument, error) {
	if n.opts.APIKey == "" {
		return nil, fmt.Errorf("newsapi: api key is not configured")
	}
	if strings.TrimSpace(req.Company) == "" {
		return nil, fmt.Errorf("newsapi: empty company name")
	}

	window := n.clamp(req.Window)

	query := url.Values{}
	query.Set("q", req.Company)
	query.Set("language", n.opts.Language)
	query.Set("from", window.Start.Format("2006-01-02"))
	query.Set("to", window.End.Format("2006-01-02"))
	query.Set("pageSize", strconv.Itoa(n.opts.PageSize))
	query.Set("sortBy", "publishedAt")

	header := http.Header{}
	header.Set("X-Api-Key", n.opts.APIKey)

	resp, err := get(ctx, n.client, n.opts.BaseURL+"/everything?"+query.Encode(), "application/json", header)
	if err != nil {
		return nil, fmt.Errorf("newsapi: %w", err)
	}
	defer resp.Body.Close()

	var payload newsAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("newsapi: decode response: %w", err)
	}
	if payload.Status != "ok" {
		return nil, fmt.Errorf("newsapi: %s: %s", payload.Code, payload.Message)
	}

	docs := make([]domain.RawDocument, 0, len(payload.Articles))
	for _, a := range payload.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		publishedAt, _ := time.Parse(time.RFC3339, a.PublishedAt)
		if !window.Contains(publishedAt) {
			continue
		}
		body := a.Description
		if body == "" {
			body = a.Content
		}
		docs = append(docs, domain.RawDocument{
			SourceID:    "newsapi:" + a.Source.Name,
			Kind:        domain.SourceNews,
			PublishedAt: publishedAt.UTC(),
			Title:       collapse(a.Title),
			BodySnippet: truncate(stripHTML(body), snippetLength),
			URL:         a.URL,
		})
	}

	if n.logger != nil {
		n.logger.Debug("newsapi fetch done", "company", req.Company, "total", payload.TotalResults, "documents", len(docs))
	}
	return docs, nil
}

// clamp moves the window start inside the provider's history limit.
func (n *NewsAPIScanner) clamp(w domain.Window) domain.Window {
	now := n.now().UTC()
	earliest := now.AddDate(0, 0, -n.opts.MaxDaysBack)
	if w.Start.Before(earliest) {
		if n.logger != nil {
			n.logger.Warn("window start clamped to newsapi history limit",
				"requested", w.Start.Format("2006-01-02"), "clamped", earliest.Format("2006-01-02"))
		}
		w.Start = earliest
	}
	if w.End.IsZero() || w.End.After(now) {
		w.End = now
	}
	return w
}

type newsAPIResponse struct {
	Status       string           `json:"status"`
	Code         string           `json:"code"`
	Message      string           `json:"message"`
	TotalResults int              `json:"totalResults"`
	Articles     []newsAPIArticle `json:"articles"`
}

type newsAPIArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
}
