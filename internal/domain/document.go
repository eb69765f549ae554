package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// SourceKind groups connectors by the provider family they talk to.
type SourceKind string

const (
	SourceBOE       SourceKind = "boe"
	SourceNews      SourceKind = "news"
	SourceRSS       SourceKind = "rss"
	SourceFinancial SourceKind = "financial"
)

// RawDocument is a normalized document fetched from an upstream provider.
// Connectors build it at their boundary; nothing downstream branches on the
// provider's native shape.
type RawDocument struct {
	SourceID    string
	Kind        SourceKind
	PublishedAt time.Time
	Title       string
	BodySnippet string
	URL         string
	Section     string
}

// Text joins title and snippet, the input every classifier stage reads.
func (d RawDocument) Text() string {
	return strings.TrimSpace(d.Title + " " + d.BodySnippet)
}

// ContentVersion hashes the fields that identify the document content.
func (d RawDocument) ContentVersion() string {
	sum := sha256.Sum256([]byte(d.URL + "\x00" + d.Title + "\x00" + d.BodySnippet))
	return hex.EncodeToString(sum[:])
}

// CompanyID normalizes a company name into the id used for scoping.
func CompanyID(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Window is the inclusive publication range a search covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFromDaysBack builds a window ending at now and spanning daysBack days.
func WindowFromDaysBack(now time.Time, daysBack int) Window {
	if daysBack <= 0 {
		daysBack = 7
	}
	end := now.UTC()
	start := end.AddDate(0, 0, -daysBack).Truncate(24 * time.Hour)
	return Window{Start: start, End: end}
}

// Contains reports whether t falls inside the window. Zero times are accepted.
func (w Window) Contains(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

// Days lists every calendar day (UTC midnight) touched by the window.
func (w Window) Days() []time.Time {
	start := w.Start.UTC().Truncate(24 * time.Hour)
	end := w.End.UTC().Truncate(24 * time.Hour)
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Key identifies a document independently of edits to its text: the URL hash,
// or the content version for documents without a URL.
func (d RawDocument) Key() string {
	if d.URL == "" {
		return d.ContentVersion()
	}
	sum := sha256.Sum256([]byte(d.URL))
	return hex.EncodeToString(sum[:])
}
