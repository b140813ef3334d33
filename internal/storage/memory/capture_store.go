package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/storage"
)

// CaptureStore provides an in-memory ProvenanceStore for development/testing.
type CaptureStore struct {
	mu      sync.RWMutex
	records map[string]capture.Record
}

// NewCaptureStore constructs a CaptureStore.
func NewCaptureStore() *CaptureStore {
	return &CaptureStore{records: make(map[string]capture.Record)}
}

// Create stores a new record. Ids must be unique.
func (s *CaptureStore) Create(_ context.Context, record capture.Record) (capture.Record, error) {
	if record.ID == "" {
		return capture.Record{}, fmt.Errorf("%w: capture_id is required", capture.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return capture.Record{}, fmt.Errorf("%w: capture %s already exists", capture.ErrStore, record.ID)
	}
	record.Metadata = cloneMap(record.Metadata)
	s.records[record.ID] = record
	return cloneRecord(record), nil
}

// Get fetches a record by id.
func (s *CaptureStore) Get(_ context.Context, id string) (capture.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return capture.Record{}, false
	}
	return cloneRecord(rec), true
}

// GetByDigest returns the oldest record with the given digest.
func (s *CaptureStore) GetByDigest(_ context.Context, digest string) (capture.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		found capture.Record
		ok    bool
	)
	for _, rec := range s.records {
		if rec.Digest != digest {
			continue
		}
		if !ok || rec.CreatedAt < found.CreatedAt || (rec.CreatedAt == found.CreatedAt && rec.ID < found.ID) {
			found, ok = rec, true
		}
	}
	if !ok {
		return capture.Record{}, false
	}
	return cloneRecord(found), true
}

// ListByOwner pages through an owner's records, newest first.
func (s *CaptureStore) ListByOwner(_ context.Context, owner string, limit int, token string) (capture.Page, error) {
	cursor, hasCursor, err := storage.DecodeCursor(token)
	if err != nil {
		return capture.Page{}, err
	}
	limit = storage.PageSize(limit)

	s.mu.RLock()
	matched := make([]capture.Record, 0)
	for _, rec := range s.records {
		if rec.Owner != owner {
			continue
		}
		if hasCursor && !cursor.Before(rec.CreatedAt, rec.ID) {
			continue
		}
		matched = append(matched, cloneRecord(rec))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt != matched[j].CreatedAt {
			return matched[i].CreatedAt > matched[j].CreatedAt
		}
		return matched[i].ID > matched[j].ID
	})

	page := capture.Page{Records: matched}
	if len(matched) > limit {
		page.Records = matched[:limit]
		last := page.Records[limit-1]
		page.NextToken = storage.EncodeCursor(storage.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	page.Count = len(page.Records)
	return page, nil
}

// Update applies a partial change. Identity and creation time are preserved.
func (s *CaptureStore) Update(_ context.Context, id string, changes capture.RecordUpdate) (capture.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return capture.Record{}, false, nil
	}
	if changes.Status != nil {
		rec.Status = *changes.Status
	}
	if changes.VersionID != nil {
		rec.VersionID = *changes.VersionID
	}
	if len(changes.Metadata) > 0 {
		merged := cloneMap(rec.Metadata)
		for k, v := range changes.Metadata {
			merged[k] = v
		}
		rec.Metadata = merged
	}
	s.records[id] = rec
	return cloneRecord(rec), true, nil
}

// Delete removes a record. Deleting an absent id succeeds.
func (s *CaptureStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return true, nil
}

func cloneRecord(rec capture.Record) capture.Record {
	rec.Metadata = cloneMap(rec.Metadata)
	return rec
}

func cloneMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
