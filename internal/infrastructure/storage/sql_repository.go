package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"RiskScanner/internal/domain"
	"RiskScanner/internal/ports"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// Dialect selects driver-specific SQL.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLRepository persists classified signals and embeddings in SQLite or Postgres.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
	qb      sq.StatementBuilderType
	now     func() time.Time
}

var (
	_ ports.SignalRepository    = (*SQLRepository)(nil)
	_ ports.EmbeddingRepository = (*SQLRepository)(nil)
)

// Open connects with the driver matching dialect and applies migrations.
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQLRepository, error) {
	driver, err := driverName(dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite allows one writer at a time.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	repo := NewSQLRepository(db, dialect)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLRepository wires an already opened sql.DB.
func NewSQLRepository(db *sql.DB, dialect Dialect) *SQLRepository {
	var format sq.PlaceholderFormat = sq.Question
	if dialect == DialectPostgres {
		format = sq.Dollar
	}
	return &SQLRepository{
		db:      db,
		dialect: dialect,
		qb:      sq.StatementBuilder.PlaceholderFormat(format),
		now:     time.Now,
	}
}

func driverName(d Dialect) (string, error) {
	switch d {
	case DialectSQLite, "":
		return "sqlite", nil
	case DialectPostgres:
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", d)
	}
}

// Close releases the connection pool.
func (r *SQLRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Migrate applies every embedded *.up.sql file newer than the recorded version.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	dir := path.Join("migrations", string(r.dialectOrDefault()))
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		body, err := fs.ReadFile(migrationsFS, path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := r.applyMigration(ctx, version, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

func (r *SQLRepository) applyMigration(ctx context.Context, version int, body string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range strings.Split(body, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	query, args, err := r.qb.Insert("schema_migrations").
		Columns("version", "applied_at").
		Values(version, r.now().UnixMilli()).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLRepository) dialectOrDefault() Dialect {
	if r.dialect == "" {
		return DialectSQLite
	}
	return r.dialect
}

// KnownSignals returns the keys of the given set that already exist in storage.
func (r *SQLRepository) KnownSignals(ctx context.Context, companyID string, keys []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if r.db == nil || len(keys) == 0 {
		return result, nil
	}

	query := r.qb.Select("signal_key").From("signals").Where(sq.Eq{"company_id": companyID})
	if r.dialect == DialectPostgres {
		query = query.Where(sq.Expr("signal_key = ANY(?)", pq.StringArray(keys)))
	} else {
		query = query.Where(sq.Eq{"signal_key": keys})
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build known signals query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query known signals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan signal key: %w", err)
		}
		result[key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

// SaveSignals upserts the latest classification of every signal.
func (r *SQLRepository) SaveSignals(ctx context.Context, companyID string, signals []domain.ClassifiedSignal) (int, error) {
	if r.db == nil || len(signals) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := r.now().UnixMilli()
	saved := 0
	for _, s := range signals {
		d := s.Document
		stmt, args, err := r.qb.Insert("signals").
			Columns("company_id", "signal_key", "source_id", "kind", "section", "url", "title", "snippet",
				"published_at", "risk_level", "confidence", "method", "reason", "created_at", "updated_at").
			Values(companyID, d.Key(), d.SourceID, string(d.Kind), d.Section, d.URL, d.Title, d.BodySnippet,
				unixMilli(d.PublishedAt), s.Label.String(), s.Confidence, string(s.Method), s.Reason, now, now).
			Suffix(`ON CONFLICT (company_id, signal_key) DO UPDATE
				SET risk_level = excluded.risk_level,
				    confidence = excluded.confidence,
				    method = excluded.method,
				    reason = excluded.reason,
				    title = excluded.title,
				    snippet = excluded.snippet,
				    updated_at = excluded.updated_at`).
			ToSql()
		if err != nil {
			return 0, fmt.Errorf("build upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return 0, fmt.Errorf("upsert signal: %w", err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return saved, nil
}

// ListSignals returns the stored signals of a company, most recent first.
func (r *SQLRepository) ListSignals(ctx context.Context, companyID string) ([]domain.ClassifiedSignal, error) {
	stmt, args, err := r.qb.Select("source_id", "kind", "section", "url", "title", "snippet",
		"published_at", "risk_level", "confidence", "method", "reason").
		From("signals").
		Where(sq.Eq{"company_id": companyID}).
		OrderBy("published_at DESC", "signal_key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list signals: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []domain.ClassifiedSignal
	for rows.Next() {
		var (
			s         domain.ClassifiedSignal
			kind      string
			published int64
			level     string
			method    string
		)
		if err := rows.Scan(&s.Document.SourceID, &kind, &s.Document.Section, &s.Document.URL, &s.Document.Title,
			&s.Document.BodySnippet, &published, &level, &s.Confidence, &method, &s.Reason); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		s.Document.Kind = domain.SourceKind(kind)
		s.Document.PublishedAt = fromUnixMilli(published)
		s.Label = domain.ParseRiskLevel(level)
		s.Method = domain.ClassificationMethod(method)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Insert stores an embedding unless its fingerprint already exists.
func (r *SQLRepository) Insert(ctx context.Context, rec domain.EmbeddingRecord) (bool, error) {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode metadata: %w", err)
	}
	kind := rec.Metadata.Kind
	if kind == "" {
		kind = domain.RecordDocument
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = r.now()
	}

	stmt, args, err := r.qb.Insert("embeddings").
		Columns("fingerprint", "company_id", "kind", "vector", "metadata", "created_at").
		Values(string(rec.Fingerprint), rec.CompanyID, string(kind), encodeVector(rec.Vector), string(meta), created.UnixMilli()).
		Suffix("ON CONFLICT (fingerprint) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}
	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("insert embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Get loads one embedding by fingerprint.
func (r *SQLRepository) Get(ctx context.Context, fp domain.Fingerprint) (domain.EmbeddingRecord, bool, error) {
	stmt, args, err := r.embeddingSelect().Where(sq.Eq{"fingerprint": string(fp)}).ToSql()
	if err != nil {
		return domain.EmbeddingRecord{}, false, fmt.Errorf("build get: %w", err)
	}
	rec, err := scanEmbedding(r.db.QueryRowContext(ctx, stmt, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EmbeddingRecord{}, false, nil
	}
	if err != nil {
		return domain.EmbeddingRecord{}, false, err
	}
	return rec, true, nil
}

// ListByCompany returns every embedding of the given kind for a company.
func (r *SQLRepository) ListByCompany(ctx context.Context, companyID string, kind domain.RecordKind) ([]domain.EmbeddingRecord, error) {
	stmt, args, err := r.embeddingSelect().
		Where(sq.Eq{"company_id": companyID, "kind": string(kind)}).
		OrderBy("fingerprint").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var out []domain.EmbeddingRecord
	for rows.Next() {
		rec, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count reports the number of stored embeddings.
func (r *SQLRepository) Count(ctx context.Context) (int, error) {
	return r.count(ctx, "embeddings")
}

// SignalCount reports the number of stored signals.
func (r *SQLRepository) SignalCount(ctx context.Context) (int, error) {
	return r.count(ctx, "signals")
}

func (r *SQLRepository) count(ctx context.Context, table string) (int, error) {
	stmt, args, err := r.qb.Select("COUNT(*)").From(table).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (r *SQLRepository) embeddingSelect() sq.SelectBuilder {
	return r.qb.Select("fingerprint", "company_id", "vector", "metadata", "created_at").From("embeddings")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmbedding(row rowScanner) (domain.EmbeddingRecord, error) {
	var (
		rec     domain.EmbeddingRecord
		fp      string
		blob    []byte
		meta    string
		created int64
	)
	if err := row.Scan(&fp, &rec.CompanyID, &blob, &meta, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan embedding: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
		return rec, fmt.Errorf("decode metadata: %w", err)
	}
	rec.Fingerprint = domain.Fingerprint(fp)
	rec.Vector = decodeVector(blob)
	rec.CreatedAt = fromUnixMilli(created)
	return rec, nil
}

// encodeVector serialises float32 values little-endian.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
