package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"RiskScanner/internal/domain"
	"RiskScanner/internal/metrics"
	"RiskScanner/internal/ports"
)

const computeAttempts = 2

// ComputeFunc produces the vector for a fingerprint that is not cached yet.
type ComputeFunc func(ctx context.Context) ([]float32, error)

// Cache is a content-addressed, write-once embedding store. Concurrent
// requests for the same fingerprint share one computation.
type Cache struct {
	repo     ports.EmbeddingRepository
	embedder ports.Embedder
	flights  singleflight.Group
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New wires a cache over repo. embedder may be nil when callers always pass
// their own ComputeFunc.
func New(repo ports.EmbeddingRepository, embedder ports.Embedder, m *metrics.Metrics, log *slog.Logger) *Cache {
	return &Cache{repo: repo, embedder: embedder, metrics: m, logger: log, now: time.Now}
}

// HasEmbedder reports whether text-based helpers can compute vectors.
func (c *Cache) HasEmbedder() bool {
	return c.embedder != nil
}

// Put stores a record. Writing an existing fingerprint is a no-op and
// returns inserted=false.
func (c *Cache) Put(ctx context.Context, record domain.EmbeddingRecord) (bool, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = c.now().UTC()
	}
	inserted, err := c.repo.Insert(ctx, record)
	if err != nil {
		return false, fmt.Errorf("put embedding %s: %w", record.Fingerprint, err)
	}
	return inserted, nil
}

// GetOrCompute returns the cached record for fp, computing and persisting it
// on a miss. The compute is retried once; a second failure returns
// *domain.EmbeddingComputeError and nothing is remembered.
func (c *Cache) GetOrCompute(ctx context.Context, fp domain.Fingerprint, companyID string, meta domain.EmbeddingMetadata, compute ComputeFunc) (domain.EmbeddingRecord, error) {
	if rec, ok, err := c.repo.Get(ctx, fp); err != nil {
		return domain.EmbeddingRecord{}, fmt.Errorf("get embedding %s: %w", fp, err)
	} else if ok {
		c.metrics.Embedding("hit")
		return rec, nil
	}

	v, err, _ := c.flights.Do(string(fp), func() (interface{}, error) {
		// Waiters share this flight; it must outlive the first caller.
		flightCtx := context.WithoutCancel(ctx)

		if rec, ok, err := c.repo.Get(flightCtx, fp); err != nil {
			return nil, fmt.Errorf("get embedding %s: %w", fp, err)
		} else if ok {
			c.metrics.Embedding("hit")
			return rec, nil
		}

		var (
			vector  []float32
			lastErr error
		)
		for attempt := 1; attempt <= computeAttempts; attempt++ {
			vector, lastErr = compute(flightCtx)
			if lastErr == nil && len(vector) == 0 {
				lastErr = fmt.Errorf("empty vector")
			}
			if lastErr == nil {
				break
			}
			c.debug("embedding compute failed", "fingerprint", fp, "attempt", attempt, "err", lastErr)
		}
		if lastErr != nil {
			c.metrics.Embedding("failed")
			return nil, &domain.EmbeddingComputeError{Fingerprint: fp, Attempts: computeAttempts, Err: lastErr}
		}

		rec := domain.EmbeddingRecord{
			Fingerprint: fp,
			CompanyID:   companyID,
			Vector:      vector,
			Metadata:    meta,
			CreatedAt:   c.now().UTC(),
		}
		inserted, err := c.repo.Insert(flightCtx, rec)
		if err != nil {
			return nil, fmt.Errorf("insert embedding %s: %w", fp, err)
		}
		if !inserted {
			// Another process won the write; serve the stored record.
			if existing, ok, err := c.repo.Get(flightCtx, fp); err == nil && ok {
				return existing, nil
			}
		}
		c.metrics.Embedding("computed")
		return rec, nil
	})
	if err != nil {
		return domain.EmbeddingRecord{}, err
	}
	return v.(domain.EmbeddingRecord), nil
}

// EmbedText is GetOrCompute with the configured embedder as compute.
func (c *Cache) EmbedText(ctx context.Context, fp domain.Fingerprint, companyID string, meta domain.EmbeddingMetadata, text string) (domain.EmbeddingRecord, error) {
	if c.embedder == nil {
		return domain.EmbeddingRecord{}, domain.ErrEmbedderUnavailable
	}
	return c.GetOrCompute(ctx, fp, companyID, meta, func(ctx context.Context) ([]float32, error) {
		return c.embedder.Embed(ctx, text)
	})
}

// EmbedQuery caches a retrieval query embedding under a query-kind record.
func (c *Cache) EmbedQuery(ctx context.Context, companyID, query string) ([]float32, error) {
	if c.embedder == nil {
		return nil, domain.ErrEmbedderUnavailable
	}
	sum := sha256.Sum256([]byte(c.embedder.ModelName() + "\x00" + query))
	fp := domain.NewFingerprint(companyID, "query:"+hex.EncodeToString(sum[:]))
	rec, err := c.EmbedText(ctx, fp, companyID, domain.EmbeddingMetadata{Kind: domain.RecordQuery, Snippet: query}, query)
	if err != nil {
		return nil, err
	}
	return rec.Vector, nil
}

// Nearest returns the k document records of companyID closest to query,
// by cosine similarity descending, then fingerprint.
func (c *Cache) Nearest(ctx context.Context, companyID string, query []float32, k int) ([]domain.ScoredRecord, error) {
	return c.nearest(ctx, companyID, query, k, nil)
}

// NearestIn is Nearest restricted to the records identified by fps.
func (c *Cache) NearestIn(ctx context.Context, companyID string, query []float32, fps []domain.Fingerprint, k int) ([]domain.ScoredRecord, error) {
	allowed := make(map[domain.Fingerprint]struct{}, len(fps))
	for _, fp := range fps {
		allowed[fp] = struct{}{}
	}
	return c.nearest(ctx, companyID, query, k, allowed)
}

func (c *Cache) nearest(ctx context.Context, companyID string, query []float32, k int, allowed map[domain.Fingerprint]struct{}) ([]domain.ScoredRecord, error) {
	if k <= 0 || (allowed != nil && len(allowed) == 0) {
		return nil, nil
	}
	records, err := c.repo.ListByCompany(ctx, companyID, domain.RecordDocument)
	if err != nil {
		return nil, fmt.Errorf("list embeddings for %s: %w", companyID, err)
	}

	scored := make([]domain.ScoredRecord, 0, len(records))
	for _, rec := range records {
		if allowed != nil {
			if _, ok := allowed[rec.Fingerprint]; !ok {
				continue
			}
		}
		scored = append(scored, domain.ScoredRecord{Record: rec, Similarity: CosineSimilarity(query, rec.Vector)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Record.Fingerprint < scored[j].Record.Fingerprint
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Count reports the number of stored records.
func (c *Cache) Count(ctx context.Context) (int, error) {
	return c.repo.Count(ctx)
}

func (c *Cache) debug(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
