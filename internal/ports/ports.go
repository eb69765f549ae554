package ports

import (
	"context"
	"time"

	"RiskScanner/internal/domain"
)

// Generator produces narrative text from a grounded prompt.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, prompt string) (string, error)
	ModelVersion() string
}

// RiskClassifier is the generative fallback used for ambiguous documents.
type RiskClassifier interface {
	ClassifyRisk(ctx context.Context, doc domain.RawDocument) (domain.RiskLabel, float64, error)
	ModelVersion() string
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// EmbeddingRepository persists write-once embedding records.
type EmbeddingRepository interface {
	// Insert stores the record; an existing fingerprint is left untouched and
	// reported as inserted=false.
	Insert(ctx context.Context, record domain.EmbeddingRecord) (inserted bool, err error)
	Get(ctx context.Context, fp domain.Fingerprint) (domain.EmbeddingRecord, bool, error)
	ListByCompany(ctx context.Context, companyID string, kind domain.RecordKind) ([]domain.EmbeddingRecord, error)
	Count(ctx context.Context) (int, error)
}

// SignalRepository persists classified signals for deduplication and audit.
type SignalRepository interface {
	KnownSignals(ctx context.Context, companyID string, keys []string) (map[string]bool, error)
	SaveSignals(ctx context.Context, companyID string, signals []domain.ClassifiedSignal) (int, error)
}

// Notifier pushes alerts to Telegram, email or other channels.
type Notifier interface {
	Notify(ctx context.Context, subject, message string) error
}

// Scheduler controls when watchlist runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
