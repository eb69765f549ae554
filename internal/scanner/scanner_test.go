package scanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RiskScanner/internal/domain"
)

type stubConnector struct {
	name string
	kind domain.SourceKind
}

func (s stubConnector) Name() string            { return s.name }
func (s stubConnector) Kind() domain.SourceKind { return s.kind }
func (s stubConnector) Limits() Limits          { return Limits{} }
func (s stubConnector) Fetch(context.Context, Request) ([]domain.RawDocument, error) {
	return nil, nil
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(stubConnector{name: "boe", kind: domain.SourceBOE})

	c, err := reg.Resolve("boe")
	require.NoError(t, err)
	assert.Equal(t, "boe", c.Name())

	_, err = reg.Resolve("missing")
	assert.Error(t, err)
}

func TestRegistryByKindSorted(t *testing.T) {
	t.Parallel()

	var reg Registry
	reg.Register(stubConnector{name: "rss-expansion", kind: domain.SourceRSS})
	reg.Register(stubConnector{name: "newsapi", kind: domain.SourceNews})
	reg.Register(stubConnector{name: "rss-elpais", kind: domain.SourceRSS})

	rss := reg.ByKind(domain.SourceRSS)
	require.Len(t, rss, 2)
	assert.Equal(t, "rss-elpais", rss[0].Name())
	assert.Equal(t, "rss-expansion", rss[1].Name())
	assert.Equal(t, []string{"newsapi", "rss-elpais", "rss-expansion"}, reg.Names())
}
