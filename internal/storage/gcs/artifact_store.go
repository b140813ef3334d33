// Package gcs provides an ArtifactStore backed by Google Cloud Storage with
// object retention locks, customer-managed encryption keys and V4 signed URLs.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/clock/system"
	"github.com/JakeFAU/compliance-archiver/internal/metrics"
	appstorage "github.com/JakeFAU/compliance-archiver/internal/storage"
)

// Config captures the bucket and compliance parameters for the store.
type Config struct {
	Bucket     string
	KMSKeyName string
	// LockRetention applies a Locked retention policy on every upload.
	LockRetention bool
	// PresignTTL is used when PresignDownload is called without a lifetime.
	PresignTTL time.Duration
	// SigningEmail and SigningKeyPEM sign URLs locally. When empty the client
	// falls back to the credentials it was built with.
	SigningEmail  string
	SigningKeyPEM []byte
}

// ArtifactStore writes capture artifacts to a configured GCS bucket.
type ArtifactStore struct {
	client *storage.Client
	cfg    Config
	clock  capture.Clock
	logger *zap.Logger
}

// New creates a GCS-backed artifact store.
func New(client *storage.Client, cfg Config, clock capture.Clock, logger *zap.Logger) (*ArtifactStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactStore{client: client, cfg: cfg, clock: clock, logger: logger}, nil
}

func (s *ArtifactStore) bucket() *storage.BucketHandle {
	return s.client.Bucket(s.cfg.Bucket)
}

// Upload writes data under key. The write is create-only: an existing object
// at key is never replaced.
func (s *ArtifactStore) Upload(
	ctx context.Context,
	key string,
	data []byte,
	metadata map[string]string,
	retentionDays int,
) (capture.UploadResult, error) {
	if strings.TrimSpace(key) == "" {
		return capture.UploadResult{}, fmt.Errorf("%w: key is required", capture.ErrValidation)
	}
	now := s.clock.Now()
	until := appstorage.RetentionDeadline(now, retentionDays)

	obj := s.bucket().Object(key).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = appstorage.ContentType(key)
	writer.Metadata = appstorage.StampMetadata(metadata, now, until)
	if s.cfg.KMSKeyName != "" {
		writer.KMSKeyName = s.cfg.KMSKeyName
	}
	if s.cfg.LockRetention {
		writer.Retention = &storage.ObjectRetention{
			Mode:        appstorage.LockModeLocked,
			RetainUntil: until,
		}
	}

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return capture.UploadResult{}, fmt.Errorf("%w: copy object: %w (close writer: %v)", capture.ErrStore, err, closeErr)
		}
		return capture.UploadResult{}, fmt.Errorf("%w: copy object: %w", capture.ErrStore, err)
	}
	if err := writer.Close(); err != nil {
		return capture.UploadResult{}, fmt.Errorf("%w: close writer for %s: %w", capture.ErrStore, key, err)
	}

	var versionID string
	if attrs := writer.Attrs(); attrs != nil && attrs.Generation != 0 {
		versionID = strconv.FormatInt(attrs.Generation, 10)
	}
	s.logger.Info("uploaded artifact",
		zap.String("bucket", s.cfg.Bucket),
		zap.String("key", key),
		zap.String("version_id", versionID),
		zap.String("content_type", writer.ContentType),
		zap.Bool("retention_locked", s.cfg.LockRetention),
		zap.Time("retention_until", until),
	)
	return capture.UploadResult{Key: key, VersionID: versionID, RetentionUntil: until}, nil
}

// Get reads the object at key, preferring versionID when it still resolves.
func (s *ArtifactStore) Get(ctx context.Context, key, versionID string) ([]byte, error) {
	if obj, ok := s.versioned(key, versionID, "get"); ok {
		data, err := readAll(ctx, obj)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: read %s@%s: %w", capture.ErrStore, key, versionID, err)
		}
		s.fallback("get", key, versionID)
	}
	data, err := readAll(ctx, s.bucket().Object(key))
	if err != nil {
		return nil, s.readErr("read", key, err)
	}
	return data, nil
}

// GetMetadata returns object attributes without downloading the content.
func (s *ArtifactStore) GetMetadata(ctx context.Context, key, versionID string) (capture.ObjectMetadata, error) {
	if obj, ok := s.versioned(key, versionID, "metadata"); ok {
		attrs, err := obj.Attrs(ctx)
		if err == nil {
			return toMetadata(attrs), nil
		}
		if !errors.Is(err, storage.ErrObjectNotExist) {
			return capture.ObjectMetadata{}, fmt.Errorf("%w: attrs %s@%s: %w", capture.ErrStore, key, versionID, err)
		}
		s.fallback("metadata", key, versionID)
	}
	attrs, err := s.bucket().Object(key).Attrs(ctx)
	if err != nil {
		return capture.ObjectMetadata{}, s.readErr("attrs", key, err)
	}
	return toMetadata(attrs), nil
}

// PresignDownload returns a V4 signed GET URL. The lifetime never exceeds
// appstorage.MaxPresignTTL.
func (s *ArtifactStore) PresignDownload(ctx context.Context, key string, ttl time.Duration, versionID string) (string, error) {
	ttl = appstorage.ClampTTL(ttl, s.cfg.PresignTTL)

	var query url.Values
	if obj, ok := s.versioned(key, versionID, "presign"); ok {
		_, err := obj.Attrs(ctx)
		switch {
		case err == nil:
			query = url.Values{"generation": []string{versionID}}
		case errors.Is(err, storage.ErrObjectNotExist):
			s.fallback("presign", key, versionID)
		default:
			return "", fmt.Errorf("%w: resolve %s@%s: %w", capture.ErrStore, key, versionID, err)
		}
	}

	opts := &storage.SignedURLOptions{
		Scheme:          storage.SigningSchemeV4,
		Method:          "GET",
		Expires:         s.clock.Now().Add(ttl),
		GoogleAccessID:  s.cfg.SigningEmail,
		PrivateKey:      s.cfg.SigningKeyPEM,
		QueryParameters: query,
	}
	signed, err := s.bucket().SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("%w: sign url for %s: %w", capture.ErrStore, key, err)
	}
	return signed, nil
}

// VerifyLock reports whether the latest object is under a Locked retention
// policy. Lookup failures report false.
func (s *ArtifactStore) VerifyLock(ctx context.Context, key string) bool {
	attrs, err := s.bucket().Object(key).Attrs(ctx)
	if err != nil {
		s.logger.Warn("retention lock check failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return attrs.Retention != nil && attrs.Retention.Mode == appstorage.LockModeLocked
}

// Delete removes the object (or one generation of it). Missing objects count
// as deleted; any other failure is logged and reported as false.
func (s *ArtifactStore) Delete(ctx context.Context, key, versionID string) bool {
	obj, ok := s.versioned(key, versionID, "delete")
	if !ok {
		obj = s.bucket().Object(key)
	}
	err := obj.Delete(ctx)
	switch {
	case err == nil:
		s.logger.Info("deleted artifact", zap.String("key", key), zap.String("version_id", versionID))
		return true
	case errors.Is(err, storage.ErrObjectNotExist):
		return true
	default:
		s.logger.Error("delete artifact failed", zap.String("key", key), zap.String("version_id", versionID), zap.Error(err))
		return false
	}
}

// versioned resolves versionID to a generation-pinned handle. An empty token
// yields false silently; an unparseable one is logged as a fallback.
func (s *ArtifactStore) versioned(key, versionID, operation string) (*storage.ObjectHandle, bool) {
	if versionID == "" {
		return nil, false
	}
	gen, err := strconv.ParseInt(versionID, 10, 64)
	if err != nil || gen <= 0 {
		s.fallback(operation, key, versionID)
		return nil, false
	}
	return s.bucket().Object(key).Generation(gen), true
}

func (s *ArtifactStore) fallback(operation, key, versionID string) {
	metrics.ObserveVersionFallback(operation)
	s.logger.Warn("version not resolvable, falling back to latest",
		zap.String("operation", operation),
		zap.String("key", key),
		zap.String("version_id", versionID),
	)
}

func (s *ArtifactStore) readErr(op, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: object %s", capture.ErrNotFound, key)
	}
	return fmt.Errorf("%w: %s %s: %w", capture.ErrStore, op, key, err)
}

func readAll(ctx context.Context, obj *storage.ObjectHandle) ([]byte, error) {
	reader, err := obj.NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open reader: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

func toMetadata(attrs *storage.ObjectAttrs) capture.ObjectMetadata {
	meta := capture.ObjectMetadata{
		Size:         attrs.Size,
		ETag:         attrs.Etag,
		LastModified: attrs.Updated,
		Custom:       attrs.Metadata,
	}
	if attrs.Generation != 0 {
		meta.VersionID = strconv.FormatInt(attrs.Generation, 10)
	}
	if attrs.Retention != nil {
		meta.LockMode = attrs.Retention.Mode
		meta.LockUntil = attrs.Retention.RetainUntil
	}
	if meta.Custom == nil {
		meta.Custom = map[string]string{}
	}
	return meta
}
