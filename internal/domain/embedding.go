package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Fingerprint identifies a (company, content snapshot) pair.
type Fingerprint string

// NewFingerprint hashes a company id with a content version.
func NewFingerprint(companyID, contentVersion string) Fingerprint {
	sum := sha256.Sum256([]byte(companyID + "\x00" + contentVersion))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// RecordKind separates document embeddings from cached query embeddings.
type RecordKind string

const (
	RecordDocument RecordKind = "document"
	RecordQuery    RecordKind = "query"
)

// EmbeddingMetadata is stored next to a vector so retrieval can rebuild context.
type EmbeddingMetadata struct {
	Kind        RecordKind `json:"kind"`
	Title       string     `json:"title,omitempty"`
	URL         string     `json:"url,omitempty"`
	Source      string     `json:"source,omitempty"`
	RiskLevel   string     `json:"risk_level,omitempty"`
	Confidence  float64    `json:"confidence,omitempty"`
	Snippet     string     `json:"snippet,omitempty"`
	PublishedAt time.Time  `json:"published_at,omitempty"`
}

// EmbeddingRecord is immutable once written. A changed corpus yields a new
// fingerprint and a new record.
type EmbeddingRecord struct {
	Fingerprint Fingerprint
	CompanyID   string
	Vector      []float32
	Metadata    EmbeddingMetadata
	CreatedAt   time.Time
}

// ScoredRecord is a nearest-neighbour hit.
type ScoredRecord struct {
	Record     EmbeddingRecord
	Similarity float64
}
