package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"RiskScanner/internal/domain"
	"RiskScanner/internal/scanner"
)

const (
	yahooBaseURL  = "https://query1.finance.yahoo.com"
	yahooQuoteURL = "https://finance.yahoo.com/quote/"

	// Price moves at or beyond these drops are reported as market deterioration.
	yahooDropMedium = 5.0
	yahooDropHigh   = 10.0
)

// defaultTickers maps well-known Spanish issuers to their Madrid listing.
var defaultTickers = map[string]string{
	"banco santander": "SAN.MC",
	"santander":       "SAN.MC",
	"bbva":            "BBVA.MC",
	"banco bilbao":    "BBVA.MC",
	"telefonica":      "TEF.MC",
	"telefónica":      "TEF.MC",
	"iberdrola":       "IBE.MC",
	"repsol":          "REP.MC",
	"inditex":         "ITX.MC",
	"ferrovial":       "FER.MC",
	"caixabank":       "CABK.MC",
	"sabadell":        "SAB.MC",
	"mapfre":          "MAP.MC",
	"endesa":          "ELE.MC",
	"naturgy":         "NTGY.MC",
	"red electrica":   "RED.MC",
	"redeia":          "RED.MC",
	"enagas":          "ENG.MC",
	"cellnex":         "CLNX.MC",
	"grifols":         "GRF.MC",
	"merlin":          "MRL.MC",
}

// YahooFinanceOptions tunes the market data connector.
type YahooFinanceOptions struct {
	BaseURL string
	// Tickers adds or overrides company to symbol mappings.
	Tickers map[string]string
	Limits  scanner.Limits
}

// YahooFinanceScanner turns the share price move of a listed company over the
// search window into one financial document.
type YahooFinanceScanner struct {
	client  *http.Client
	opts    YahooFinanceOptions
	tickers map[string]string
	now     func() time.Time
	logger  *slog.Logger
}

// NewYahooFinanceScanner merges configured tickers over the built-in table.
func NewYahooFinanceScanner(client *http.Client, opts YahooFinanceOptions, log *slog.Logger) *YahooFinanceScanner {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = yahooBaseURL
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")

	tickers := make(map[string]string, len(defaultTickers)+len(opts.Tickers))
	for k, v := range defaultTickers {
		tickers[k] = v
	}
	for k, v := range opts.Tickers {
		tickers[domain.CompanyID(k)] = strings.ToUpper(strings.TrimSpace(v))
	}
	return &YahooFinanceScanner{client: client, opts: opts, tickers: tickers, now: time.Now, logger: log}
}

// Name identifies the strategy inside the registry.
func (y *YahooFinanceScanner) Name() string { return "yahoo-finance" }

// Kind reports the provider family.
func (y *YahooFinanceScanner) Kind() domain.SourceKind { return domain.SourceFinancial }

// Limits returns the declared request budget.
func (y *YahooFinanceScanner) Limits() scanner.Limits { return y.opts.Limits }

// Fetch resolves the ticker and reports the close-to-close move inside the
// window. Unlisted companies yield no documents and no error.
func (y *YahooFinanceScanner) Fetch(ctx context.Context, req scanner.Request) ([]domain.RawDocument, error) {
	if strings.TrimSpace(req.Company) == "" {
		return nil, fmt.Errorf("yahoo-finance: empty company name")
	}

	symbol, err := y.resolve(ctx, req.Company)
	if err != nil {
		return nil, fmt.Errorf("yahoo-finance: %w", err)
	}
	if symbol == "" {
		y.debug("no ticker for company", "company", req.Company)
		return nil, nil
	}

	window := req.Window
	if window.End.IsZero() {
		window.End = y.now().UTC()
	}

	series, err := y.chart(ctx, symbol, window)
	if err != nil {
		return nil, fmt.Errorf("yahoo-finance %s: %w", symbol, err)
	}
	doc, ok := series.document(req.Company)
	if !ok {
		y.debug("no closes in window", "symbol", symbol)
		return nil, nil
	}
	y.debug("yahoo fetch done", "symbol", symbol, "change", series.change())
	return []domain.RawDocument{doc}, nil
}

// resolve checks the ticker table before asking the symbol search endpoint.
func (y *YahooFinanceScanner) resolve(ctx context.Context, company string) (string, error) {
	id := domain.CompanyID(company)
	if symbol, ok := y.tickers[id]; ok {
		return symbol, nil
	}
	// Longest whole-word key wins so "banco santander" beats "santander".
	best := ""
	for key := range y.tickers {
		if strings.Contains(" "+id+" ", " "+key+" ") && len(key) > len(best) {
			best = key
		}
	}
	if best != "" {
		return y.tickers[best], nil
	}

	query := url.Values{}
	query.Set("q", company)
	query.Set("quotesCount", "1")
	query.Set("newsCount", "0")
	resp, err := get(ctx, y.client, y.opts.BaseURL+"/v1/finance/search?"+query.Encode(), "application/json", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload struct {
		Quotes []struct {
			Symbol    string `json:"symbol"`
			QuoteType string `json:"quoteType"`
		} `json:"quotes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode search: %w", err)
	}
	for _, q := range payload.Quotes {
		if q.Symbol != "" && (q.QuoteType == "" || strings.EqualFold(q.QuoteType, "EQUITY")) {
			return q.Symbol, nil
		}
	}
	return "", nil
}

func (y *YahooFinanceScanner) chart(ctx context.Context, symbol string, w domain.Window) (priceSeries, error) {
	query := url.Values{}
	query.Set("period1", strconv.FormatInt(w.Start.Unix(), 10))
	query.Set("period2", strconv.FormatInt(w.End.Unix(), 10))
	query.Set("interval", "1d")

	resp, err := get(ctx, y.client, y.opts.BaseURL+"/v8/finance/chart/"+url.PathEscape(symbol)+"?"+query.Encode(), "application/json", nil)
	if err != nil {
		return priceSeries{}, err
	}
	defer resp.Body.Close()

	var payload chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return priceSeries{}, fmt.Errorf("decode chart: %w", err)
	}
	if payload.Chart.Error != nil {
		return priceSeries{}, fmt.Errorf("chart: %s: %s", payload.Chart.Error.Code, payload.Chart.Error.Description)
	}
	if len(payload.Chart.Result) == 0 {
		return priceSeries{Symbol: symbol}, nil
	}

	r := payload.Chart.Result[0]
	series := priceSeries{Symbol: symbol, Currency: r.Meta.Currency}
	if r.Meta.Symbol != "" {
		series.Symbol = r.Meta.Symbol
	}
	var closes []*float64
	if len(r.Indicators.Quote) > 0 {
		closes = r.Indicators.Quote[0].Close
	}
	for i, ts := range r.Timestamp {
		if i >= len(closes) || closes[i] == nil || *closes[i] <= 0 {
			continue
		}
		series.points = append(series.points, pricePoint{At: time.Unix(ts, 0).UTC(), Close: *closes[i]})
	}
	return series, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol   string `json:"symbol"`
				Currency string `json:"currency"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type pricePoint struct {
	At    time.Time
	Close float64
}

type priceSeries struct {
	Symbol   string
	Currency string
	points   []pricePoint
}

// change is the percentage move from the first to the last close.
func (s priceSeries) change() float64 {
	if len(s.points) < 2 {
		return 0
	}
	first, last := s.points[0].Close, s.points[len(s.points)-1].Close
	return math.Round((last-first)/first*10000) / 100
}

func (s priceSeries) document(company string) (domain.RawDocument, bool) {
	if len(s.points) == 0 {
		return domain.RawDocument{}, false
	}
	first, last := s.points[0], s.points[len(s.points)-1]
	change := s.change()

	var body string
	switch {
	case -change >= yahooDropHigh:
		body = fmt.Sprintf("Fuerte deterioro bursátil: la acción cae un %.2f%% en %d sesiones.", -change, len(s.points))
	case -change >= yahooDropMedium:
		body = fmt.Sprintf("Deterioro bursátil: la acción cae un %.2f%% en %d sesiones.", -change, len(s.points))
	default:
		body = fmt.Sprintf("Variación de la acción del %+.2f%% en %d sesiones.", change, len(s.points))
	}
	body += fmt.Sprintf(" Cierre de %.2f a %.2f %s.", first.Close, last.Close, s.Currency)

	return domain.RawDocument{
		SourceID:    "yahoo:" + s.Symbol + ":" + last.At.Format("2006-01-02"),
		Kind:        domain.SourceFinancial,
		PublishedAt: last.At,
		Title:       fmt.Sprintf("%s (%s) cotiza %+.2f%%", collapse(company), s.Symbol, change),
		BodySnippet: truncate(body, snippetLength),
		URL:         yahooQuoteURL + s.Symbol,
		Section:     "mercado",
	}, true
}

func (y *YahooFinanceScanner) debug(msg string, args ...interface{}) {
	if y.logger != nil {
		y.logger.Debug(msg, args...)
	}
}
