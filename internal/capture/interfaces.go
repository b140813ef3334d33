package capture

import (
	"context"
	"time"
)

// Renderer turns a URL into artifact bytes.
type Renderer interface {
	Name() string
	Render(ctx context.Context, url string, kind Kind, viewport Viewport) ([]byte, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) string
}

// ArtifactStore persists artifacts immutably.
type ArtifactStore interface {
	Upload(ctx context.Context, key string, data []byte, metadata map[string]string, retentionDays int) (UploadResult, error)
	Get(ctx context.Context, key, versionID string) ([]byte, error)
	GetMetadata(ctx context.Context, key, versionID string) (ObjectMetadata, error)
	PresignDownload(ctx context.Context, key string, ttl time.Duration, versionID string) (string, error)
	VerifyLock(ctx context.Context, key string) bool
	Delete(ctx context.Context, key, versionID string) bool
}

// ProvenanceStore persists capture records.
type ProvenanceStore interface {
	Create(ctx context.Context, record Record) (Record, error)
	Get(ctx context.Context, id string) (Record, bool)
	GetByDigest(ctx context.Context, digest string) (Record, bool)
	ListByOwner(ctx context.Context, owner string, limit int, token string) (Page, error)
	Update(ctx context.Context, id string, changes RecordUpdate) (Record, bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ScheduleStore persists schedule definitions.
type ScheduleStore interface {
	Create(ctx context.Context, schedule Schedule) (Schedule, error)
	Get(ctx context.Context, id string) (Schedule, error)
	ListByOwner(ctx context.Context, owner string) ([]Schedule, error)
	ListEnabled(ctx context.Context) ([]Schedule, error)
	Update(ctx context.Context, id string, changes ScheduleUpdate) (Schedule, error)
	Delete(ctx context.Context, id string) error
}

// Publisher pushes capture events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces capture and schedule IDs.
type IDGenerator interface {
	NewID() (string, error)
}
