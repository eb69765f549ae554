package scanner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"RiskScanner/internal/domain"
)

// Limits is the request budget a connector declares for its provider.
type Limits struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Request carries all parameters required to execute a fetch.
type Request struct {
	Company string
	Window  domain.Window
}

// Connector captures a single source strategy (BOE, NewsAPI, RSS, etc.).
type Connector interface {
	Name() string
	Kind() domain.SourceKind
	Limits() Limits
	Fetch(ctx context.Context, req Request) ([]domain.RawDocument, error)
}

// Registry keeps a mapping from connector names to their implementations.
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: map[string]Connector{}}
}

// Register adds or replaces a connector implementation.
func (r *Registry) Register(connector Connector) {
	if r.connectors == nil {
		r.connectors = map[string]Connector{}
	}
	r.connectors[connector.Name()] = connector
}

// Resolve returns a connector by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Connector, error) {
	if connector, ok := r.connectors[name]; ok {
		return connector, nil
	}
	return nil, fmt.Errorf("connector %s is not registered", name)
}

// ByKind lists every connector of the given kind, sorted by name.
func (r *Registry) ByKind(kind domain.SourceKind) []Connector {
	var out []Connector
	for _, name := range r.Names() {
		if c := r.connectors[name]; c.Kind() == kind {
			out = append(out, c)
		}
	}
	return out
}

// Names returns the registered connector names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
