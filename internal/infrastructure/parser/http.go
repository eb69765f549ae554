package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"RiskScanner/internal/domain"
)

const (
	userAgent     = "RiskScanner/1.0"
	snippetLength = 300
)

// ErrRateLimited is wrapped by connectors when the provider answered 429.
var ErrRateLimited = errors.New("rate limited")

// errNotFound marks a 404 so callers may skip missing days or items.
var errNotFound = errors.New("not found")

func get(ctx context.Context, client *http.Client, url, accept string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("request %s: %w", url, err))
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, statusError(url, resp.StatusCode)
	}
	return resp, nil
}

func statusError(url string, status int) error {
	err := fmt.Errorf("%s returned %d %s", url, status, http.StatusText(status))
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", errNotFound, err)
	case status == http.StatusTooManyRequests:
		return domain.Transient(fmt.Errorf("%w: %w", ErrRateLimited, err))
	case status >= 500:
		return domain.Transient(err)
	default:
		return err
	}
}

// stripHTML renders markup as collapsed plain text.
func stripHTML(markup string) string {
	if !strings.ContainsAny(markup, "<&") {
		return collapse(markup)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return collapse(markup)
	}
	return collapse(doc.Text())
}

func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// truncate cuts text to at most n runes.
func truncate(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:n]))
}

func containsFold(haystack, needle string) bool {
	return needle != "" && strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
