package classifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RiskScanner/internal/domain"
)

type fakeFallback struct {
	label domain.RiskLabel
	conf  float64
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeFallback) ClassifyRisk(ctx context.Context, _ domain.RawDocument) (domain.RiskLabel, float64, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.UnknownLabel, 0, ctx.Err()
		}
	}
	return f.label, f.conf, f.err
}

func (f *fakeFallback) ModelVersion() string { return "fake-1" }

func newsDoc(title, body string) domain.RawDocument {
	return domain.RawDocument{Kind: domain.SourceNews, Title: title, BodySnippet: body, URL: "https://example.com/" + title}
}

func TestClassifyRulePass(t *testing.T) {
	t.Parallel()

	c := New(nil, nil, Options{}, nil, nil)
	longFiller := strings.Repeat("texto descriptivo sin especial relevancia ", 4)

	cases := []struct {
		name   string
		doc    domain.RawDocument
		label  string
		conf   float64
		method domain.ClassificationMethod
	}{
		{"empty", newsDoc("", "  "), "Unknown", 0, domain.MethodEmpty},
		{"section", domain.RawDocument{Title: "Resolución", Section: "CNMC"}, "High-Legal", 0.95, domain.MethodKeywordSection},
		{"high legal", newsDoc("ACME solicita concurso de acreedores", ""), "High-Legal", 0.92, domain.MethodKeyword},
		{"medium regulatory", newsDoc("Multa administrativa a ACME", ""), "Medium-Regulatory", 0.87, domain.MethodKeyword},
		{"low legal", newsDoc("ACME obtiene licencia", ""), "Low-Legal", 0.82, domain.MethodKeyword},
		{"benign only", newsDoc("ACME reparte dividendos", ""), "Low-Other", 0.90, domain.MethodKeywordBenign},
		{"weak only", newsDoc("ACME ante el tribunal", longFiller), "Low-Legal", 0.40, domain.MethodKeywordWeak},
		{"short no match", newsDoc("ACME presenta su nuevo logotipo", ""), "Low-Other", 0.85, domain.MethodKeywordShort},
		{"long no match", newsDoc("ACME", longFiller), "Unknown", 0, domain.MethodNoMatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := c.Classify(context.Background(), tc.doc)
			assert.Equal(t, tc.label, sig.Label.String())
			assert.InDelta(t, tc.conf, sig.Confidence, 1e-9)
			assert.Equal(t, tc.method, sig.Method)
		})
	}
}

func TestClassifyAmbiguityLowersConfidence(t *testing.T) {
	t.Parallel()

	c := New(nil, nil, Options{}, nil, nil)

	sig := c.Classify(context.Background(), newsDoc("ACME declara pérdidas pese al crecimiento", ""))
	assert.Equal(t, "Medium-Financial", sig.Label.String())
	assert.InDelta(t, 0.87*0.6, sig.Confidence, 1e-9)

	sig = c.Classify(context.Background(), newsDoc("Huelga y pérdidas en ACME", ""))
	assert.Equal(t, "Medium-Financial", sig.Label.String(), "category order breaks severity ties")
	assert.InDelta(t, 0.87*0.6, sig.Confidence, 1e-9)
}

func TestClassifyIsDeterministic(t *testing.T) {
	t.Parallel()

	fb := &fakeFallback{label: domain.ParseRiskLevel("Medium-Legal"), conf: 0.7}
	c := New(nil, fb, Options{}, nil, nil)
	doc := newsDoc("ACME ante el tribunal", strings.Repeat("x ", 80))

	first := c.Classify(context.Background(), doc)
	for range 5 {
		again := c.Classify(context.Background(), doc)
		assert.Equal(t, first.Label, again.Label)
		assert.Equal(t, first.Confidence, again.Confidence)
	}
	assert.Equal(t, int32(1), fb.calls.Load(), "fallback result is memoised per model and text")
	assert.Equal(t, int64(5), c.Stats().FallbackCacheHits)
}

func TestClassifyFallbackCombination(t *testing.T) {
	t.Parallel()

	weakDoc := newsDoc("ACME ante el juzgado", strings.Repeat("relato ", 20))

	t.Run("fallback label wins over weak rule", func(t *testing.T) {
		fb := &fakeFallback{label: domain.ParseRiskLevel("High-Legal"), conf: 1.4}
		sig := New(nil, fb, Options{}, nil, nil).Classify(context.Background(), weakDoc)
		assert.Equal(t, "High-Legal", sig.Label.String())
		assert.Equal(t, 1.0, sig.Confidence, "fallback confidence is clamped")
		assert.Equal(t, domain.MethodHybridLLM, sig.Method)
	})

	t.Run("agreement keeps max confidence", func(t *testing.T) {
		fb := &fakeFallback{label: domain.ParseRiskLevel("Low-Legal"), conf: 0.55}
		sig := New(nil, fb, Options{}, nil, nil).Classify(context.Background(), weakDoc)
		assert.Equal(t, "Low-Legal", sig.Label.String())
		assert.InDelta(t, 0.55, sig.Confidence, 1e-9)
		assert.Equal(t, domain.MethodHybridAgreement, sig.Method)
	})

	t.Run("strong rule survives conflict", func(t *testing.T) {
		fb := &fakeFallback{label: domain.ParseRiskLevel("Low-Other"), conf: 0.9}
		c := New(nil, fb, Options{Threshold: 0.9}, nil, nil)
		sig := c.Classify(context.Background(), newsDoc("Multa administrativa a ACME", ""))
		assert.Equal(t, "Medium-Regulatory", sig.Label.String())
		assert.InDelta(t, 0.87*0.8, sig.Confidence, 1e-9)
		assert.Equal(t, domain.MethodHybridConflict, sig.Method)
		assert.Equal(t, int64(1), c.Stats().Conflicts)
	})

	t.Run("ambiguous strong rule keeps label under default options", func(t *testing.T) {
		fb := &fakeFallback{label: domain.ParseRiskLevel("Low-Other"), conf: 0.9}
		c := New(nil, fb, Options{}, nil, nil)
		sig := c.Classify(context.Background(), newsDoc("ACME en quiebra tras la temporada de fútbol", ""))
		assert.Equal(t, "High-Legal", sig.Label.String())
		assert.InDelta(t, 0.92*0.6*0.8, sig.Confidence, 1e-9)
		assert.Equal(t, domain.MethodHybridConflict, sig.Method)
		assert.Equal(t, int32(1), fb.calls.Load(), "penalised rule still escalates")
		assert.Equal(t, int64(1), c.Stats().Conflicts)
	})

	t.Run("fallback error resolves to unknown", func(t *testing.T) {
		fb := &fakeFallback{err: errors.New("503 upstream")}
		c := New(nil, fb, Options{}, nil, nil)
		sig := c.Classify(context.Background(), weakDoc)
		assert.True(t, sig.Label.IsUnknown())
		assert.Equal(t, 0.0, sig.Confidence)
		assert.Equal(t, domain.MethodFallbackFailed, sig.Method)
		assert.Equal(t, int64(1), c.Stats().FallbackFailures)

		// Failures are not memoised.
		c.Classify(context.Background(), weakDoc)
		assert.Equal(t, int32(2), fb.calls.Load())
	})

	t.Run("fallback timeout resolves to unknown", func(t *testing.T) {
		fb := &fakeFallback{label: domain.ParseRiskLevel("High-Legal"), conf: 0.9, delay: time.Second}
		c := New(nil, fb, Options{FallbackTimeout: 20 * time.Millisecond}, nil, nil)
		started := time.Now()
		sig := c.Classify(context.Background(), weakDoc)
		assert.Less(t, time.Since(started), 500*time.Millisecond)
		assert.True(t, sig.Label.IsUnknown())
		assert.Equal(t, domain.MethodFallbackFailed, sig.Method)
	})
}

func TestClassifyBatchPreservesOrderAndCoalesces(t *testing.T) {
	t.Parallel()

	fb := &fakeFallback{label: domain.ParseRiskLevel("Medium-Legal"), conf: 0.75, delay: 30 * time.Millisecond}
	c := New(nil, fb, Options{Workers: 4}, nil, nil)

	ambiguous := newsDoc("ACME ante el tribunal", strings.Repeat("relato ", 20))
	docs := []domain.RawDocument{
		newsDoc("ACME solicita concurso de acreedores", ""),
		ambiguous, ambiguous, ambiguous,
		newsDoc("ACME reparte dividendos", ""),
	}

	out := c.ClassifyBatch(context.Background(), docs)
	require.Len(t, out, len(docs))
	assert.Equal(t, "High-Legal", out[0].Label.String())
	for _, s := range out[1:4] {
		assert.Equal(t, "Medium-Legal", s.Label.String())
	}
	assert.Equal(t, "Low-Other", out[4].Label.String())
	assert.Equal(t, int32(1), fb.calls.Load())

	kw, escalated := Tally(out)
	assert.Equal(t, 2, kw)
	assert.Equal(t, 3, escalated)
}

func TestClassifyConcurrentSafe(t *testing.T) {
	t.Parallel()

	c := New(nil, &fakeFallback{label: domain.ParseRiskLevel("Low-Legal"), conf: 0.7}, Options{}, nil, nil)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Classify(context.Background(), newsDoc("ACME ante el tribunal", strings.Repeat("y", 100+i)))
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(20), c.Stats().Total)
}

func TestContainsTerm(t *testing.T) {
	t.Parallel()

	assert.True(t, containsTerm("la quiebra de acme", "quiebra"))
	assert.False(t, containsTerm("quiebras", "quiebra"))
	assert.True(t, containsTerm("declarada insolvente", "insolven*"))
	assert.False(t, containsTerm("ladefault", "default"))
	assert.True(t, containsTerm("sanción grave.", "sanción grave"))
	assert.False(t, containsTerm("resanción grave", "sanción grave"))
}

func TestNewTaxonomyValidation(t *testing.T) {
	t.Parallel()

	_, err := NewTaxonomy([]Rule{{Label: domain.UnknownLabel, Terms: []string{"x"}}}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewTaxonomy([]Rule{{Label: domain.ParseRiskLevel("High-Legal")}}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewTaxonomy(nil, nil, nil, nil)
	assert.Error(t, err)

	tax, err := NewTaxonomy([]Rule{{Label: domain.ParseRiskLevel("High-Tax"), Terms: []string{"  Fraude   Fiscal "}}}, nil, nil, []string{"jus"})
	require.NoError(t, err)
	sig := New(tax, nil, Options{}, nil, nil).Classify(context.Background(), newsDoc("ACME investigada por FRAUDE FISCAL", ""))
	assert.Equal(t, "High-Tax", sig.Label.String())
	_, ok := tax.highRiskSection("jus")
	assert.True(t, ok)
}
