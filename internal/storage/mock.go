package storage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
)

// MockArtifactStore is a testify mock of capture.ArtifactStore.
type MockArtifactStore struct {
	mock.Mock
}

// Upload records the call and returns the configured result.
func (m *MockArtifactStore) Upload(
	ctx context.Context,
	key string,
	data []byte,
	metadata map[string]string,
	retentionDays int,
) (capture.UploadResult, error) {
	args := m.Called(ctx, key, data, metadata, retentionDays)
	return args.Get(0).(capture.UploadResult), args.Error(1) //nolint:wrapcheck
}

// Get records the call and returns the configured result.
func (m *MockArtifactStore) Get(ctx context.Context, key, versionID string) ([]byte, error) {
	args := m.Called(ctx, key, versionID)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1) //nolint:wrapcheck
}

// GetMetadata records the call and returns the configured result.
func (m *MockArtifactStore) GetMetadata(ctx context.Context, key, versionID string) (capture.ObjectMetadata, error) {
	args := m.Called(ctx, key, versionID)
	return args.Get(0).(capture.ObjectMetadata), args.Error(1) //nolint:wrapcheck
}

// PresignDownload records the call and returns the configured result.
func (m *MockArtifactStore) PresignDownload(ctx context.Context, key string, ttl time.Duration, versionID string) (string, error) {
	args := m.Called(ctx, key, ttl, versionID)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

// VerifyLock records the call and returns the configured result.
func (m *MockArtifactStore) VerifyLock(ctx context.Context, key string) bool {
	return m.Called(ctx, key).Bool(0)
}

// Delete records the call and returns the configured result.
func (m *MockArtifactStore) Delete(ctx context.Context, key, versionID string) bool {
	return m.Called(ctx, key, versionID).Bool(0)
}

// MockProvenanceStore is a testify mock of capture.ProvenanceStore.
type MockProvenanceStore struct {
	mock.Mock
}

// Create records the call and returns the configured result.
func (m *MockProvenanceStore) Create(ctx context.Context, record capture.Record) (capture.Record, error) {
	args := m.Called(ctx, record)
	return args.Get(0).(capture.Record), args.Error(1) //nolint:wrapcheck
}

// Get records the call and returns the configured result.
func (m *MockProvenanceStore) Get(ctx context.Context, id string) (capture.Record, bool) {
	args := m.Called(ctx, id)
	return args.Get(0).(capture.Record), args.Bool(1)
}

// GetByDigest records the call and returns the configured result.
func (m *MockProvenanceStore) GetByDigest(ctx context.Context, digest string) (capture.Record, bool) {
	args := m.Called(ctx, digest)
	return args.Get(0).(capture.Record), args.Bool(1)
}

// ListByOwner records the call and returns the configured result.
func (m *MockProvenanceStore) ListByOwner(ctx context.Context, owner string, limit int, token string) (capture.Page, error) {
	args := m.Called(ctx, owner, limit, token)
	return args.Get(0).(capture.Page), args.Error(1) //nolint:wrapcheck
}

// Update records the call and returns the configured result.
func (m *MockProvenanceStore) Update(ctx context.Context, id string, changes capture.RecordUpdate) (capture.Record, bool, error) {
	args := m.Called(ctx, id, changes)
	return args.Get(0).(capture.Record), args.Bool(1), args.Error(2) //nolint:wrapcheck
}

// Delete records the call and returns the configured result.
func (m *MockProvenanceStore) Delete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1) //nolint:wrapcheck
}
