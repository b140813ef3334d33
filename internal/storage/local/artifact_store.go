// Package local implements an ArtifactStore on the local filesystem for
// single-host deployments and demos. Retention is enforced by the store
// itself, so it is not a substitute for bucket-level locks.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/clock/system"
	"github.com/JakeFAU/compliance-archiver/internal/metrics"
	"github.com/JakeFAU/compliance-archiver/internal/storage"
)

const sidecarSuffix = ".meta.json"

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory where artifacts are written.
	BaseDir       string
	LockRetention bool
	PresignTTL    time.Duration
}

// sidecar is persisted next to each artifact.
type sidecar struct {
	Version     string            `json:"version"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	Modified    time.Time         `json:"modified"`
	Locked      bool              `json:"locked"`
	LockUntil   time.Time         `json:"lock_until"`
	Metadata    map[string]string `json:"metadata"`
}

// ArtifactStore writes artifacts under BaseDir.
type ArtifactStore struct {
	baseDir string
	cfg     Config
	clock   capture.Clock
	logger  *zap.Logger
}

// New creates a filesystem-backed store, creating BaseDir when missing.
func New(cfg Config, clock capture.Clock, logger *zap.Logger) (*ArtifactStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}

	abs, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactStore{baseDir: filepath.Clean(abs), cfg: cfg, clock: clock, logger: logger}, nil
}

// path maps key below baseDir and rejects traversal.
func (s *ArtifactStore) path(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: key is required", capture.ErrValidation)
	}
	full := filepath.Clean(filepath.Join(s.baseDir, key))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal detected in %q", capture.ErrValidation, key)
	}
	return full, nil
}

// Upload writes data create-only; an existing key is an error.
func (s *ArtifactStore) Upload(
	_ context.Context,
	key string,
	data []byte,
	metadata map[string]string,
	retentionDays int,
) (capture.UploadResult, error) {
	full, err := s.path(key)
	if err != nil {
		return capture.UploadResult{}, err
	}
	now := s.clock.Now().UTC()
	until := storage.RetentionDeadline(now, retentionDays)

	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return capture.UploadResult{}, fmt.Errorf("%w: create parent directories: %w", capture.ErrStore, err)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return capture.UploadResult{}, fmt.Errorf("%w: object %s already exists", capture.ErrStore, key)
		}
		return capture.UploadResult{}, fmt.Errorf("%w: create %s: %w", capture.ErrStore, key, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return capture.UploadResult{}, fmt.Errorf("%w: write %s: %w", capture.ErrStore, key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return capture.UploadResult{}, fmt.Errorf("%w: close %s: %w", capture.ErrStore, key, err)
	}

	meta := sidecar{
		Version:     strconv.FormatInt(now.UnixNano(), 10),
		ContentType: storage.ContentType(key),
		Size:        int64(len(data)),
		Modified:    now,
		Locked:      s.cfg.LockRetention,
		LockUntil:   until,
		Metadata:    storage.StampMetadata(metadata, now, until),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return capture.UploadResult{}, fmt.Errorf("%w: encode metadata: %w", capture.ErrStore, err)
	}
	if err := os.WriteFile(full+sidecarSuffix, raw, 0o600); err != nil {
		_ = os.Remove(full)
		return capture.UploadResult{}, fmt.Errorf("%w: write metadata: %w", capture.ErrStore, err)
	}
	if meta.Locked {
		if err := os.Chmod(full, 0o400); err != nil {
			s.logger.Warn("could not mark artifact read-only", zap.String("key", key), zap.Error(err))
		}
	}
	return capture.UploadResult{Key: key, VersionID: meta.Version, RetentionUntil: until}, nil
}

func (s *ArtifactStore) load(key, versionID, operation string) (string, sidecar, error) {
	full, err := s.path(key)
	if err != nil {
		return "", sidecar{}, err
	}
	raw, err := os.ReadFile(full + sidecarSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return "", sidecar{}, fmt.Errorf("%w: object %s", capture.ErrNotFound, key)
	}
	if err != nil {
		return "", sidecar{}, fmt.Errorf("%w: read metadata for %s: %w", capture.ErrStore, key, err)
	}
	var meta sidecar
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", sidecar{}, fmt.Errorf("%w: decode metadata for %s: %w", capture.ErrStore, key, err)
	}
	if versionID != "" && versionID != meta.Version {
		metrics.ObserveVersionFallback(operation)
		s.logger.Warn("version not resolvable, falling back to latest",
			zap.String("operation", operation),
			zap.String("key", key),
			zap.String("version_id", versionID),
		)
	}
	return full, meta, nil
}

// Get reads the artifact bytes.
func (s *ArtifactStore) Get(_ context.Context, key, versionID string) ([]byte, error) {
	full, _, err := s.load(key, versionID, "get")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", capture.ErrStore, key, err)
	}
	return data, nil
}

// GetMetadata returns the stored sidecar as ObjectMetadata.
func (s *ArtifactStore) GetMetadata(_ context.Context, key, versionID string) (capture.ObjectMetadata, error) {
	_, meta, err := s.load(key, versionID, "metadata")
	if err != nil {
		return capture.ObjectMetadata{}, err
	}
	out := capture.ObjectMetadata{
		Size:         meta.Size,
		ETag:         fmt.Sprintf("%x-%s", meta.Size, meta.Version),
		LastModified: meta.Modified,
		VersionID:    meta.Version,
		Custom:       meta.Metadata,
	}
	if meta.Locked {
		out.LockMode = storage.LockModeLocked
		out.LockUntil = meta.LockUntil
	}
	return out, nil
}

// PresignDownload returns a file:// URL. Nothing enforces the expiry; it is
// recorded so callers see the same contract as the cloud store.
func (s *ArtifactStore) PresignDownload(_ context.Context, key string, ttl time.Duration, versionID string) (string, error) {
	ttl = storage.ClampTTL(ttl, s.cfg.PresignTTL)
	full, meta, err := s.load(key, versionID, "presign")
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("version", meta.Version)
	q.Set("expires_in", strconv.Itoa(int(ttl/time.Second)))
	q.Set("expires_at", strconv.FormatInt(s.clock.Now().Add(ttl).Unix(), 10))
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(full), RawQuery: q.Encode()}).String(), nil
}

// VerifyLock reports whether the artifact was written under a Locked retention.
func (s *ArtifactStore) VerifyLock(_ context.Context, key string) bool {
	_, meta, err := s.load(key, "", "verify")
	return err == nil && meta.Locked
}

// Delete removes the artifact and its sidecar unless retention still applies.
func (s *ArtifactStore) Delete(_ context.Context, key, versionID string) bool {
	full, meta, err := s.load(key, versionID, "delete")
	if errors.Is(err, capture.ErrNotFound) {
		return true
	}
	if err != nil {
		s.logger.Warn("delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if meta.Locked && s.clock.Now().Before(meta.LockUntil) {
		s.logger.Warn("delete refused by retention lock",
			zap.String("key", key),
			zap.Time("retain_until", meta.LockUntil),
		)
		return false
	}
	for _, p := range []string{full, full + sidecarSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("delete failed", zap.String("path", p), zap.Error(err))
			return false
		}
	}
	return true
}
