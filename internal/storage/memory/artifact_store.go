// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/clock/system"
	"github.com/JakeFAU/compliance-archiver/internal/metrics"
	"github.com/JakeFAU/compliance-archiver/internal/storage"
)

// ArtifactConfig mirrors the compliance knobs of the cloud store.
type ArtifactConfig struct {
	LockRetention bool
	PresignTTL    time.Duration
}

type objectVersion struct {
	id          int64
	data        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
	lockUntil   time.Time
	locked      bool
}

// ArtifactStore keeps every object version in memory and enforces retention
// locks on delete.
type ArtifactStore struct {
	mu      sync.RWMutex
	objects map[string][]objectVersion
	nextGen int64
	cfg     ArtifactConfig
	clock   capture.Clock
	logger  *zap.Logger
}

// NewArtifactStore creates an empty store.
func NewArtifactStore(cfg ArtifactConfig, clock capture.Clock, logger *zap.Logger) *ArtifactStore {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactStore{
		objects: make(map[string][]objectVersion),
		nextGen: 1,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
	}
}

// Upload stores a copy of data as the first live version of key.
func (s *ArtifactStore) Upload(
	_ context.Context,
	key string,
	data []byte,
	metadata map[string]string,
	retentionDays int,
) (capture.UploadResult, error) {
	if key == "" {
		return capture.UploadResult{}, fmt.Errorf("%w: key is required", capture.ErrValidation)
	}
	now := s.clock.Now().UTC()
	until := storage.RetentionDeadline(now, retentionDays)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.objects[key]) > 0 {
		return capture.UploadResult{}, fmt.Errorf("%w: object %s already exists", capture.ErrStore, key)
	}
	v := objectVersion{
		id:          s.nextGen,
		data:        append([]byte(nil), data...),
		contentType: storage.ContentType(key),
		metadata:    storage.StampMetadata(metadata, now, until),
		modified:    now,
		lockUntil:   until,
		locked:      s.cfg.LockRetention,
	}
	s.nextGen++
	s.objects[key] = append(s.objects[key], v)
	return capture.UploadResult{Key: key, VersionID: strconv.FormatInt(v.id, 10), RetentionUntil: until}, nil
}

// Get returns a copy of the requested (or latest) version.
func (s *ArtifactStore) Get(_ context.Context, key, versionID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.resolve(key, versionID, "get")
	if !ok {
		return nil, fmt.Errorf("%w: object %s", capture.ErrNotFound, key)
	}
	return append([]byte(nil), v.data...), nil
}

// GetMetadata describes the requested (or latest) version.
func (s *ArtifactStore) GetMetadata(_ context.Context, key, versionID string) (capture.ObjectMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.resolve(key, versionID, "metadata")
	if !ok {
		return capture.ObjectMetadata{}, fmt.Errorf("%w: object %s", capture.ErrNotFound, key)
	}
	custom := make(map[string]string, len(v.metadata))
	for k, val := range v.metadata {
		custom[k] = val
	}
	meta := capture.ObjectMetadata{
		Size:         int64(len(v.data)),
		ETag:         fmt.Sprintf("%x-%d", len(v.data), v.id),
		LastModified: v.modified,
		VersionID:    strconv.FormatInt(v.id, 10),
		Custom:       custom,
	}
	if v.locked {
		meta.LockMode = storage.LockModeLocked
		meta.LockUntil = v.lockUntil
	}
	return meta, nil
}

// PresignDownload returns a memory:// URL that records the effective TTL.
func (s *ArtifactStore) PresignDownload(_ context.Context, key string, ttl time.Duration, versionID string) (string, error) {
	ttl = storage.ClampTTL(ttl, s.cfg.PresignTTL)

	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.resolve(key, versionID, "presign")
	if !ok {
		return "", fmt.Errorf("%w: object %s", capture.ErrNotFound, key)
	}
	q := url.Values{}
	q.Set("version", strconv.FormatInt(v.id, 10))
	q.Set("expires_in", strconv.Itoa(int(ttl/time.Second)))
	q.Set("expires_at", strconv.FormatInt(s.clock.Now().Add(ttl).Unix(), 10))
	return (&url.URL{Scheme: "memory", Host: "artifacts", Path: "/" + key, RawQuery: q.Encode()}).String(), nil
}

// VerifyLock reports whether the latest version carries a Locked retention.
func (s *ArtifactStore) VerifyLock(_ context.Context, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.objects[key]
	if len(versions) == 0 {
		return false
	}
	return versions[len(versions)-1].locked
}

// Delete removes one version, or every version when versionID is empty. An
// unknown versionID targets the latest version. Versions still under
// retention are refused.
func (s *ArtifactStore) Delete(_ context.Context, key, versionID string) bool {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.objects[key]
	if len(versions) == 0 {
		return true
	}
	var target int64
	if versionID != "" {
		v, _ := s.resolve(key, versionID, "delete")
		target = v.id
	}
	kept := versions[:0:0]
	for _, v := range versions {
		if target != 0 && v.id != target {
			kept = append(kept, v)
			continue
		}
		if v.locked && now.Before(v.lockUntil) {
			s.logger.Warn("delete refused by retention lock",
				zap.String("key", key),
				zap.Int64("version", v.id),
				zap.Time("retain_until", v.lockUntil),
			)
			return false
		}
	}
	if len(kept) == 0 {
		delete(s.objects, key)
	} else {
		s.objects[key] = kept
	}
	return true
}

// resolve must be called with the lock held.
func (s *ArtifactStore) resolve(key, versionID, operation string) (objectVersion, bool) {
	versions := s.objects[key]
	if len(versions) == 0 {
		return objectVersion{}, false
	}
	if versionID != "" {
		if gen, err := strconv.ParseInt(versionID, 10, 64); err == nil {
			for _, v := range versions {
				if v.id == gen {
					return v, true
				}
			}
		}
		metrics.ObserveVersionFallback(operation)
		s.logger.Warn("version not resolvable, falling back to latest",
			zap.String("operation", operation),
			zap.String("key", key),
			zap.String("version_id", versionID),
		)
	}
	return versions[len(versions)-1], true
}
