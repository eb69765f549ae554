package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"RiskScanner/internal/domain"
	"RiskScanner/internal/scanner"
)

const boeBaseURL = "https://www.boe.es"

// BOEScanner walks the official gazette daily summaries for company mentions.
type BOEScanner struct {
	client  *http.Client
	baseURL string
	limits  scanner.Limits
	logger  *slog.Logger
}

// NewBOEScanner wires an HTTP client; baseURL defaults to the public BOE host.
func NewBOEScanner(client *http.Client, baseURL string, limits scanner.Limits, log *slog.Logger) *BOEScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if baseURL == "" {
		baseURL = boeBaseURL
	}
	return &BOEScanner{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		limits:  limits,
		logger:  log,
	}
}

// Name identifies the strategy inside the registry.
func (b *BOEScanner) Name() string { return "boe" }

// Kind reports the provider family.
func (b *BOEScanner) Kind() domain.SourceKind { return domain.SourceBOE }

// Limits returns the declared request budget.
func (b *BOEScanner) Limits() scanner.Limits { return b.limits }

// Fetch scans every day of the window. Days without a summary (404) are
// skipped; other failures only surface when no day could be read.
func (b *BOEScanner) Fetch(ctx context.Context, req scanner.Request) ([]domain.RawDocument, error) {
	if strings.TrimSpace(req.Company) == "" {
		return nil, fmt.Errorf("boe: empty company name")
	}

	var (
		docs      []domain.RawDocument
		dayErrors []error
		succeeded int
	)
	seen := map[string]struct{}{}

	for _, day := range req.Window.Days() {
		if err := ctx.Err(); err != nil {
			return docs, err
		}

		items, err := b.fetchSummary(ctx, day)
		if errors.Is(err, errNotFound) {
			b.debug("no summary published", "day", day.Format("2006-01-02"))
			succeeded++
			continue
		}
		if err != nil {
			dayErrors = append(dayErrors, fmt.Errorf("day %s: %w", day.Format("20060102"), err))
			continue
		}
		succeeded++

		for _, it := range items {
			if !containsFold(it.Titulo, req.Company) {
				continue
			}
			key := it.Identificador
			if key == "" {
				key = it.URLHTML
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			docs = append(docs, b.toDocument(ctx, it, day))
		}
	}

	b.debug("boe fetch done", "company", req.Company, "documents", len(docs), "failed_days", len(dayErrors))

	if succeeded == 0 && len(dayErrors) > 0 {
		return nil, errors.Join(dayErrors...)
	}
	return docs, nil
}

func (b *BOEScanner) fetchSummary(ctx context.Context, day time.Time) ([]boeItem, error) {
	url := fmt.Sprintf("%s/datosabiertos/api/boe/sumario/%s", b.baseURL, day.Format("20060102"))
	resp, err := get(ctx, b.client, url, "application/json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload boeSummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return payload.Data.Sumario.items(), nil
}

func (b *BOEScanner) toDocument(ctx context.Context, it boeItem, day time.Time) domain.RawDocument {
	body := ""
	if it.URLHTML != "" {
		text, err := b.fullText(ctx, it.URLHTML)
		if err != nil {
			b.debug("full text unavailable", "id", it.Identificador, "err", err)
		} else {
			body = truncate(text, snippetLength)
		}
	}

	return domain.RawDocument{
		SourceID:    "boe:" + it.Identificador,
		Kind:        domain.SourceBOE,
		PublishedAt: day,
		Title:       collapse(it.Titulo),
		BodySnippet: body,
		URL:         it.URLHTML,
		Section:     it.section,
	}
}

func (b *BOEScanner) fullText(ctx context.Context, pageURL string) (string, error) {
	resp, err := get(ctx, b.client, pageURL, "text/html", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}

	text := doc.Find("#textoxslt").First().Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Find("body").Text()
	}
	return collapse(text), nil
}

func (b *BOEScanner) debug(msg string, args ...interface{}) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}

// oneOrMany decodes a JSON value that the provider emits either as a single
// object or as an array of objects.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*o = nil
		return nil
	}
	if trimmed[0] == '[' {
		var many []T
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	var one T
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return err
	}
	*o = oneOrMany[T]{one}
	return nil
}

type boeSummaryResponse struct {
	Data struct {
		Sumario boeSumario `json:"sumario"`
	} `json:"data"`
}

type boeSumario struct {
	Diario oneOrMany[boeDiario] `json:"diario"`
}

type boeDiario struct {
	Seccion oneOrMany[boeSeccion] `json:"seccion"`
}

type boeSeccion struct {
	Codigo       string                     `json:"codigo"`
	Nombre       string                     `json:"nombre"`
	Departamento oneOrMany[boeDepartamento] `json:"departamento"`
}

type boeDepartamento struct {
	Codigo   string                 `json:"codigo"`
	Nombre   string                 `json:"nombre"`
	Epigrafe oneOrMany[boeEpigrafe] `json:"epigrafe"`
	Item     oneOrMany[boeItem]     `json:"item"`
}

type boeEpigrafe struct {
	Nombre string             `json:"nombre"`
	Item   oneOrMany[boeItem] `json:"item"`
}

type boeItem struct {
	Identificador string `json:"identificador"`
	Titulo        string `json:"titulo"`
	URLHTML       string `json:"url_html"`

	section string
}

// items flattens diario→seccion→departamento→epigrafe→item. The section of a
// document is its department code, or the section code when absent.
func (s boeSumario) items() []boeItem {
	var out []boeItem
	for _, diario := range s.Diario {
		for _, sec := range diario.Seccion {
			for _, dep := range sec.Departamento {
				section := dep.Codigo
				if section == "" {
					section = sec.Codigo
				}
				collect := func(items oneOrMany[boeItem]) {
					for _, it := range items {
						it.section = section
						out = append(out, it)
					}
				}
				collect(dep.Item)
				for _, epi := range dep.Epigrafe {
					collect(epi.Item)
				}
			}
		}
	}
	return out
}
