package storage

import (
	"context"
	"sort"
	"sync"

	"RiskScanner/internal/domain"
	"RiskScanner/internal/ports"
)

// MemoryRepository keeps signals and embeddings in process memory.
type MemoryRepository struct {
	mu         sync.RWMutex
	signals    map[string]map[string]domain.ClassifiedSignal
	embeddings map[domain.Fingerprint]domain.EmbeddingRecord
}

var (
	_ ports.SignalRepository    = (*MemoryRepository)(nil)
	_ ports.EmbeddingRepository = (*MemoryRepository)(nil)
)

// NewMemoryRepository builds an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		signals:    map[string]map[string]domain.ClassifiedSignal{},
		embeddings: map[domain.Fingerprint]domain.EmbeddingRecord{},
	}
}

func (m *MemoryRepository) KnownSignals(_ context.Context, companyID string, keys []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]bool)
	stored := m.signals[companyID]
	for _, k := range keys {
		if _, ok := stored[k]; ok {
			result[k] = true
		}
	}
	return result, nil
}

func (m *MemoryRepository) SaveSignals(_ context.Context, companyID string, signals []domain.ClassifiedSignal) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.signals[companyID]
	if !ok {
		stored = map[string]domain.ClassifiedSignal{}
		m.signals[companyID] = stored
	}
	for _, s := range signals {
		stored[s.Document.Key()] = s
	}
	return len(signals), nil
}

func (m *MemoryRepository) Insert(_ context.Context, rec domain.EmbeddingRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.embeddings[rec.Fingerprint]; exists {
		return false, nil
	}
	if rec.Metadata.Kind == "" {
		rec.Metadata.Kind = domain.RecordDocument
	}
	rec.Vector = append([]float32(nil), rec.Vector...)
	m.embeddings[rec.Fingerprint] = rec
	return true, nil
}

func (m *MemoryRepository) Get(_ context.Context, fp domain.Fingerprint) (domain.EmbeddingRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.embeddings[fp]
	return rec, ok, nil
}

func (m *MemoryRepository) ListByCompany(_ context.Context, companyID string, kind domain.RecordKind) ([]domain.EmbeddingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.EmbeddingRecord
	for _, rec := range m.embeddings {
		if rec.CompanyID == companyID && rec.Metadata.Kind == kind {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

func (m *MemoryRepository) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.embeddings), nil
}

// SignalCount reports the number of stored signals across companies.
func (m *MemoryRepository) SignalCount(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, byKey := range m.signals {
		n += len(byKey)
	}
	return n, nil
}

func (m *MemoryRepository) Close() error { return nil }
