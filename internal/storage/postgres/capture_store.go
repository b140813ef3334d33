package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/storage"
)

const captureColumns = `capture_id, url, sha256, s3_key, s3_version_id, artifact_type, user_id, status, created_at, metadata`

// CaptureStore persists provenance records in Postgres.
type CaptureStore struct {
	pool   Pool
	table  string
	logger *zap.Logger
}

// NewCaptureStore constructs a store from an existing pool.
func NewCaptureStore(pool Pool, table string, logger *zap.Logger) (*CaptureStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table, "captures")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaptureStore{pool: pool, table: table, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *CaptureStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Create inserts a record. Any database failure is a store error.
func (s *CaptureStore) Create(ctx context.Context, record capture.Record) (capture.Record, error) {
	if record.ID == "" {
		return capture.Record{}, fmt.Errorf("%w: capture_id is required", capture.ErrValidation)
	}
	metaJSON, err := marshalMetadata(record.Metadata)
	if err != nil {
		return capture.Record{}, fmt.Errorf("%w: marshal metadata: %w", capture.ErrStore, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, s.table, captureColumns)

	args := []any{
		record.ID,
		record.URL,
		record.Digest,
		record.Key,
		record.VersionID,
		string(record.Kind),
		record.Owner,
		string(record.Status),
		record.CreatedAt,
		metaJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return capture.Record{}, fmt.Errorf("%w: insert capture: %w", capture.ErrStore, err)
	}
	if record.Metadata == nil {
		record.Metadata = map[string]string{}
	}
	return record, nil
}

// Get fetches a record by id. Read failures are logged and reported as absent.
func (s *CaptureStore) Get(ctx context.Context, id string) (capture.Record, bool) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE capture_id = $1 LIMIT 1`, captureColumns, s.table)
	return s.one(ctx, "get", query, id)
}

// GetByDigest returns the earliest record with digest.
func (s *CaptureStore) GetByDigest(ctx context.Context, digest string) (capture.Record, bool) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE sha256 = $1 ORDER BY created_at ASC, capture_id ASC LIMIT 1`,
		captureColumns, s.table)
	return s.one(ctx, "get_by_digest", query, digest)
}

// ListByOwner returns one page of an owner's records, newest first. A
// malformed token is a validation error; query failures yield an empty page.
func (s *CaptureStore) ListByOwner(ctx context.Context, owner string, limit int, token string) (capture.Page, error) {
	cursor, hasCursor, err := storage.DecodeCursor(token)
	if err != nil {
		return capture.Page{}, err
	}
	limit = storage.PageSize(limit)

	var (
		query string
		args  []any
	)
	if hasCursor {
		query = fmt.Sprintf(`
SELECT %s FROM %s
WHERE user_id = $1 AND (created_at, capture_id) < ($2, $3)
ORDER BY created_at DESC, capture_id DESC
LIMIT $4`, captureColumns, s.table)
		args = []any{owner, cursor.CreatedAt, cursor.ID, limit + 1}
	} else {
		query = fmt.Sprintf(`
SELECT %s FROM %s
WHERE user_id = $1
ORDER BY created_at DESC, capture_id DESC
LIMIT $2`, captureColumns, s.table)
		args = []any{owner, limit + 1}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		s.logger.Error("list captures failed", zap.String("user_id", owner), zap.Error(err))
		return capture.Page{Records: []capture.Record{}}, nil
	}
	defer rows.Close()

	records := make([]capture.Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			s.logger.Error("scan capture failed", zap.String("user_id", owner), zap.Error(err))
			return capture.Page{Records: []capture.Record{}}, nil
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("iterate captures failed", zap.String("user_id", owner), zap.Error(err))
		return capture.Page{Records: []capture.Record{}}, nil
	}

	page := capture.Page{Records: records}
	if len(records) > limit {
		page.Records = records[:limit]
		last := page.Records[limit-1]
		page.NextToken = storage.EncodeCursor(storage.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	page.Count = len(page.Records)
	return page, nil
}

// Update applies a partial change. capture_id and created_at are never written.
func (s *CaptureStore) Update(ctx context.Context, id string, changes capture.RecordUpdate) (capture.Record, bool, error) {
	if changes.Empty() {
		rec, ok := s.Get(ctx, id)
		return rec, ok, nil
	}
	var status *string
	if changes.Status != nil {
		v := string(*changes.Status)
		status = &v
	}
	metaJSON, err := marshalMetadata(changes.Metadata)
	if err != nil {
		return capture.Record{}, false, fmt.Errorf("%w: marshal metadata: %w", capture.ErrStore, err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = COALESCE($2, status),
	s3_version_id = COALESCE($3, s3_version_id),
	metadata = metadata || $4::jsonb
WHERE capture_id = $1
RETURNING %s`, s.table, captureColumns)

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id, status, changes.VersionID, metaJSON))
	if errors.Is(err, pgx.ErrNoRows) {
		return capture.Record{}, false, nil
	}
	if err != nil {
		return capture.Record{}, false, fmt.Errorf("%w: update capture: %w", capture.ErrStore, err)
	}
	return rec, true, nil
}

// Delete removes a record. Succeeds whether or not a row matched.
func (s *CaptureStore) Delete(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE capture_id = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return false, fmt.Errorf("%w: delete capture: %w", capture.ErrStore, err)
	}
	return true, nil
}

func (s *CaptureStore) one(ctx context.Context, op, query string, arg string) (capture.Record, bool) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Error("capture lookup failed", zap.String("op", op), zap.String("key", arg), zap.Error(err))
		}
		return capture.Record{}, false
	}
	return rec, true
}

func scanRecord(row pgx.Row) (capture.Record, error) {
	var (
		rec      capture.Record
		kind     string
		status   string
		metaJSON []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.URL,
		&rec.Digest,
		&rec.Key,
		&rec.VersionID,
		&kind,
		&rec.Owner,
		&status,
		&rec.CreatedAt,
		&metaJSON,
	); err != nil {
		return capture.Record{}, err
	}
	rec.Kind = capture.Kind(kind)
	rec.Status = capture.Status(status)
	rec.Metadata = map[string]string{}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
			return capture.Record{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return rec, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}
