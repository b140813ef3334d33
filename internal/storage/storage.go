// Package storage holds behavior shared by the artifact store implementations:
// content-type inference, retention deadlines, presign TTL clamping and the
// compliance metadata stamped on every object.
package storage

import (
	"path"
	"strings"
	"time"
)

// Metadata keys stamped by every artifact store on upload.
const (
	MetaCapturedAt     = "captured-at"
	MetaRetentionUntil = "retention-until"
)

// Retention lock modes reported in ObjectMetadata.LockMode.
const (
	LockModeLocked   = "Locked"
	LockModeUnlocked = "Unlocked"
)

const (
	// DefaultRetentionDays is roughly seven years.
	DefaultRetentionDays = 2555
	// DefaultPresignTTL applies when the caller does not ask for a lifetime.
	DefaultPresignTTL = 5 * time.Minute
	// MaxPresignTTL is the hard ceiling on presigned URL lifetime.
	MaxPresignTTL = 15 * time.Minute
)

// ContentType infers the MIME type from the key's file extension.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// RetentionDeadline returns now plus days, substituting the default for non-positive values.
func RetentionDeadline(now time.Time, days int) time.Time {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	return now.UTC().AddDate(0, 0, days)
}

// ClampTTL resolves the effective presign lifetime: ttl when positive,
// otherwise fallback (or DefaultPresignTTL), never above MaxPresignTTL.
func ClampTTL(ttl, fallback time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = fallback
	}
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	if ttl > MaxPresignTTL {
		ttl = MaxPresignTTL
	}
	return ttl
}

// StampMetadata copies metadata and adds the capture and retention timestamps.
func StampMetadata(metadata map[string]string, capturedAt, retainUntil time.Time) map[string]string {
	out := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		out[k] = v
	}
	out[MetaCapturedAt] = capturedAt.UTC().Format(time.RFC3339Nano)
	out[MetaRetentionUntil] = retainUntil.UTC().Format(time.RFC3339Nano)
	return out
}
